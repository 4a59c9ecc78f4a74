package recorder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/icza/mjpeg"
	"github.com/kikiluvv/captionburn/pkg/util"
	"github.com/rs/zerolog"
)

// DefaultJPEGQuality is used when MJPEGConfig.Quality is unset
const DefaultJPEGQuality = 90

// MJPEGConfig configures the Motion JPEG recorder
type MJPEGConfig struct {
	Config
	Quality int
}

// MJPEGRecorder writes an AVI of JPEG frames without any external encoder.
// It is the fallback when the host ffmpeg lacks a vp9 encoder.
type MJPEGRecorder struct {
	logger zerolog.Logger
	cfg    MJPEGConfig

	writer mjpeg.AviWriter
	path   string
	frames int
	buf    bytes.Buffer
}

// NewMJPEG creates an unstarted Motion JPEG recorder
func NewMJPEG(logger zerolog.Logger, cfg MJPEGConfig) *MJPEGRecorder {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultJPEGQuality
	}
	return &MJPEGRecorder{
		logger: logger.With().Str("component", "recorder").Str("codec", "mjpeg").Logger(),
		cfg:    cfg,
	}
}

func (r *MJPEGRecorder) Extension() string { return "avi" }
func (r *MJPEGRecorder) MIMEType() string  { return MIMEFor("avi") }

// Start opens the AVI writer. AVI stores an integer frame rate.
func (r *MJPEGRecorder) Start(ctx context.Context) error {
	if r.writer != nil {
		return fmt.Errorf("recorder already started")
	}
	if err := r.cfg.validate(); err != nil {
		return err
	}
	if r.cfg.FPS != math.Round(r.cfg.FPS) {
		return fmt.Errorf("%w: mjpeg needs an integer frame rate, got %v", ErrUnsupported, r.cfg.FPS)
	}

	tmp, err := util.TempFile(r.cfg.TempDir, "captionburn-rec-", ".avi")
	if err != nil {
		return fmt.Errorf("create recording file: %w", err)
	}
	r.path = tmp.Name()
	tmp.Close()

	writer, err := mjpeg.New(r.path, int32(r.cfg.Width), int32(r.cfg.Height), int32(r.cfg.FPS))
	if err != nil {
		util.CleanupFiles(r.path)
		return fmt.Errorf("failed to create video writer: %w", err)
	}
	r.writer = writer
	r.frames = 0
	return nil
}

// Capture JPEG-encodes the frame and appends it
func (r *MJPEGRecorder) Capture(frame *image.RGBA) error {
	if r.writer == nil {
		return fmt.Errorf("recorder not started")
	}
	b := frame.Bounds()
	if b.Dx() != r.cfg.Width || b.Dy() != r.cfg.Height {
		return fmt.Errorf("frame is %dx%d, recorder expects %dx%d", b.Dx(), b.Dy(), r.cfg.Width, r.cfg.Height)
	}

	r.buf.Reset()
	if err := jpeg.Encode(&r.buf, frame, &jpeg.Options{Quality: r.cfg.Quality}); err != nil {
		return fmt.Errorf("failed to encode frame %d as JPEG: %w", r.frames, err)
	}
	if err := r.writer.AddFrame(r.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to add frame %d: %w", r.frames, err)
	}
	r.frames++
	return nil
}

// Stop finalizes the AVI index and returns the file contents
func (r *MJPEGRecorder) Stop(ctx context.Context) (*Recording, error) {
	if r.writer == nil {
		return nil, fmt.Errorf("recorder not started")
	}
	writer, path := r.writer, r.path
	r.writer = nil
	r.path = ""
	defer util.CleanupFiles(path)

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize avi: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks, err := readChunks(path)
	if err != nil {
		return nil, err
	}
	rec := &Recording{Chunks: chunks, MIMEType: r.MIMEType(), Frames: r.frames}
	r.logger.Debug().Int("frames", rec.Frames).Int("bytes", rec.Size()).Msg("recording finalized")
	return rec, nil
}

// Abort closes the writer and removes the partial file
func (r *MJPEGRecorder) Abort() {
	if r.writer != nil {
		_ = r.writer.Close()
		r.writer = nil
	}
	if r.path != "" {
		util.CleanupFiles(r.path)
		r.path = ""
	}
}
