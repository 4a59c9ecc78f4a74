package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/kikiluvv/captionburn/internal/ffmpeg"
	"github.com/kikiluvv/captionburn/pkg/util"
	"github.com/rs/zerolog"
)

// DefaultReadAhead bounds how far a forward seek decodes through the running
// stream before it restarts the decoder at the target instead
const DefaultReadAhead = 2.0

// FileOptions configures a FileSource
type FileOptions struct {
	FPS       float64 // decode rate; 0 uses the probed rate, falling back to 30
	Width     int     // 0 keeps the native size
	Height    int
	ReadAhead float64 // seconds
}

// FileSource is a Source backed by an ffmpeg raw RGBA decode of a file.
// Decoded frames sit on a fixed grid of start + k/fps; a seek lands on the
// last grid frame at or before the target.
type FileSource struct {
	exec   *ffmpeg.Executor
	logger zerolog.Logger
	path   string
	info   *ffmpeg.VideoInfo
	opts   FileOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	position  float64
	paused    bool
	playStart time.Time

	// seekMu serializes decoder access; held for the whole of a seek
	seekMu  sync.Mutex
	decoder *ffmpeg.Process
	start   float64 // timestamp of decoded frame 0
	read    int     // frames read from the current decoder
	frame   *image.RGBA
	buf     []byte
	hasData bool
}

// OpenFile probes path and returns a paused source positioned at 0. No
// frame is decoded until the first Seek.
func OpenFile(ctx context.Context, exec *ffmpeg.Executor, logger zerolog.Logger, path string, opts FileOptions) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	info, err := exec.ProbeVideo(ctx, abs)
	if err != nil {
		return nil, err
	}

	if opts.FPS <= 0 {
		opts.FPS = info.FPS
	}
	if opts.FPS <= 0 || opts.FPS > 240 {
		opts.FPS = 30
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = info.Width, info.Height
	}
	if opts.ReadAhead <= 0 {
		opts.ReadAhead = DefaultReadAhead
	}

	dctx, cancel := context.WithCancel(context.Background())
	s := &FileSource{
		exec:   exec,
		logger: logger.With().Str("component", "media").Str("source", filepath.Base(abs)).Logger(),
		path:   abs,
		info:   info,
		opts:   opts,
		ctx:    dctx,
		cancel: cancel,
		paused: true,
		frame:  image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
		buf:    make([]byte, opts.Width*opts.Height*ffmpeg.BytesPerPixel),
	}

	s.logger.Info().
		Int("width", opts.Width).
		Int("height", opts.Height).
		Float64("fps", opts.FPS).
		Dur("duration", info.Duration).
		Msg("opened source")
	return s, nil
}

// ID returns the absolute path of the file
func (s *FileSource) ID() string { return s.path }

// Info returns the probe result
func (s *FileSource) Info() *ffmpeg.VideoInfo { return s.info }

// Duration returns the probed duration in seconds
func (s *FileSource) Duration() float64 { return util.Seconds(s.info.Duration) }

// Size returns the decoded frame size
func (s *FileSource) Size() (int, int) { return s.opts.Width, s.opts.Height }

// Position returns the playback position. While playing it advances with
// the wall clock up to the duration.
func (s *FileSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return s.position
	}
	return math.Min(s.position+time.Since(s.playStart).Seconds(), s.Duration())
}

// Paused reports whether playback is paused
func (s *FileSource) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Play resumes the playback clock
func (s *FileSource) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		s.playStart = time.Now()
	}
}

// Pause freezes the playback clock at the current position
func (s *FileSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.position = math.Min(s.position+time.Since(s.playStart).Seconds(), s.Duration())
		s.paused = true
	}
}

// Frame returns the most recently decoded frame. Callers must not retain it
// across seeks.
func (s *FileSource) Frame() image.Image {
	return s.frame
}

// Seek moves the position to t (clamped to [0, duration]) and decodes the
// matching frame in the background
func (s *FileSource) Seek(t float64) <-chan error {
	t = math.Max(0, math.Min(t, s.Duration()))

	s.mu.Lock()
	s.position = t
	s.playStart = time.Now()
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		s.seekMu.Lock()
		defer s.seekMu.Unlock()
		done <- s.seekLocked(t)
	}()
	return done
}

func (s *FileSource) seekLocked(t float64) error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("source closed: %w", err)
	}

	// grid index of the target within the running stream
	target := int(math.Floor((t-s.start)*s.opts.FPS + 1e-6))
	current := s.read - 1
	if s.decoder != nil && target >= current && float64(target-current)/s.opts.FPS <= s.opts.ReadAhead {
		for s.read-1 < target {
			ok, err := s.readFrame()
			if err != nil {
				return err
			}
			if !ok {
				// past the last frame; hold what we have
				return nil
			}
		}
		return nil
	}

	if err := s.restart(t); err != nil {
		return err
	}
	ok, err := s.readFrame()
	if err != nil {
		return err
	}
	if !ok && !s.hasData {
		return fmt.Errorf("no frame decoded at %.3fs", t)
	}
	return nil
}

func (s *FileSource) restart(t float64) error {
	s.stopDecoder()

	s.logger.Debug().Float64("at", t).Msg("restarting decoder")
	p, err := s.exec.Decode(s.ctx, ffmpeg.DecodeOptions{
		Input:  s.path,
		Start:  t,
		FPS:    s.opts.FPS,
		Width:  s.opts.Width,
		Height: s.opts.Height,
	})
	if err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}
	s.decoder = p
	s.start = t
	s.read = 0
	return nil
}

// readFrame pulls the next frame from the decoder; false means end of stream
func (s *FileSource) readFrame() (bool, error) {
	if _, err := io.ReadFull(s.decoder.Stdout, s.buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			waitErr := s.decoder.Wait()
			s.decoder = nil
			if waitErr != nil {
				return false, fmt.Errorf("decoder: %w", waitErr)
			}
			return false, nil
		}
		return false, fmt.Errorf("read frame: %w", err)
	}
	copy(s.frame.Pix, s.buf)
	s.read++
	s.hasData = true
	return true, nil
}

func (s *FileSource) stopDecoder() {
	if s.decoder != nil {
		s.decoder.Kill()
		s.decoder = nil
	}
}

// Close stops the decoder; later seeks fail
func (s *FileSource) Close() error {
	s.cancel()
	s.seekMu.Lock()
	defer s.seekMu.Unlock()
	s.stopDecoder()
	return nil
}
