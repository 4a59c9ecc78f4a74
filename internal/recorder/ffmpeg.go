package recorder

import (
	"context"
	"fmt"
	"image"

	"github.com/kikiluvv/captionburn/internal/ffmpeg"
	"github.com/kikiluvv/captionburn/pkg/util"
	"github.com/rs/zerolog"
)

// FFmpegConfig selects the ffmpeg encoder
type FFmpegConfig struct {
	Config
	Codec     string // default libvpx-vp9
	Container string // default webm
	CRF       int
}

// FFmpegRecorder pipes raw RGBA frames into an ffmpeg encoder writing a
// temp file, then collects the file as chunks
type FFmpegRecorder struct {
	exec   *ffmpeg.Executor
	logger zerolog.Logger
	cfg    FFmpegConfig

	proc   *ffmpeg.Process
	path   string
	frames int
}

// NewFFmpeg creates an unstarted ffmpeg recorder
func NewFFmpeg(exec *ffmpeg.Executor, logger zerolog.Logger, cfg FFmpegConfig) *FFmpegRecorder {
	if cfg.Codec == "" {
		cfg.Codec = ffmpeg.DefaultVideoCodec
	}
	if cfg.Container == "" {
		cfg.Container = ffmpeg.DefaultContainer
	}
	if cfg.CRF == 0 {
		cfg.CRF = ffmpeg.DefaultCRF
	}
	return &FFmpegRecorder{
		exec:   exec,
		logger: logger.With().Str("component", "recorder").Str("codec", cfg.Codec).Logger(),
		cfg:    cfg,
	}
}

func (r *FFmpegRecorder) Extension() string { return r.cfg.Container }
func (r *FFmpegRecorder) MIMEType() string  { return MIMEFor(r.cfg.Container) }

// Start checks the encoder exists and launches it
func (r *FFmpegRecorder) Start(ctx context.Context) error {
	if r.proc != nil {
		return fmt.Errorf("recorder already started")
	}
	if err := r.cfg.validate(); err != nil {
		return err
	}

	ok, err := r.exec.HasEncoder(ctx, r.cfg.Codec)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: encoder %s", ErrUnsupported, r.cfg.Codec)
	}

	tmp, err := util.TempFile(r.cfg.TempDir, "captionburn-rec-", "."+r.cfg.Container)
	if err != nil {
		return fmt.Errorf("create recording file: %w", err)
	}
	r.path = tmp.Name()
	tmp.Close()

	proc, err := r.exec.Encode(ctx, ffmpeg.EncodeOptions{
		Width:     r.cfg.Width,
		Height:    r.cfg.Height,
		FPS:       r.cfg.FPS,
		Codec:     r.cfg.Codec,
		Container: r.cfg.Container,
		CRF:       r.cfg.CRF,
		Output:    r.path,
	}, func(p *ffmpeg.Progress) {
		r.logger.Trace().Int("frame", p.Frame).Str("speed", p.Speed).Msg("encoding")
	})
	if err != nil {
		util.CleanupFiles(r.path)
		return err
	}
	r.proc = proc
	r.frames = 0
	return nil
}

// Capture writes one frame to the encoder's stdin
func (r *FFmpegRecorder) Capture(frame *image.RGBA) error {
	if r.proc == nil {
		return fmt.Errorf("recorder not started")
	}
	pix, err := packed(frame, r.cfg.Width, r.cfg.Height)
	if err != nil {
		return err
	}
	if _, err := r.proc.Stdin.Write(pix); err != nil {
		// the encoder's stderr says more than the broken pipe
		if waitErr := r.proc.Wait(); waitErr != nil {
			return waitErr
		}
		return fmt.Errorf("write frame: %w", err)
	}
	r.frames++
	return nil
}

// Stop closes stdin, waits for the encoder to finalize the container, and
// returns its output
func (r *FFmpegRecorder) Stop(ctx context.Context) (*Recording, error) {
	if r.proc == nil {
		return nil, fmt.Errorf("recorder not started")
	}
	proc, path := r.proc, r.path
	r.proc = nil
	r.path = ""
	defer util.CleanupFiles(path)

	if err := proc.Stdin.Close(); err != nil {
		proc.Kill()
		return nil, fmt.Errorf("close encoder input: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		proc.Kill()
		return nil, ctx.Err()
	}

	chunks, err := readChunks(path)
	if err != nil {
		return nil, err
	}
	rec := &Recording{Chunks: chunks, MIMEType: r.MIMEType(), Frames: r.frames}
	r.logger.Debug().Int("frames", rec.Frames).Int("bytes", rec.Size()).Msg("recording finalized")
	return rec, nil
}

// Abort kills the encoder and removes its output
func (r *FFmpegRecorder) Abort() {
	if r.proc != nil {
		r.proc.Kill()
		r.proc = nil
	}
	if r.path != "" {
		util.CleanupFiles(r.path)
		r.path = ""
	}
}
