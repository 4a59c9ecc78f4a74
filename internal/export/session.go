package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/internal/compositor"
	"github.com/kikiluvv/captionburn/internal/fonts"
	"github.com/kikiluvv/captionburn/internal/media"
	"github.com/kikiluvv/captionburn/internal/recorder"
	"github.com/rs/zerolog"
)

// Defaults for Config
const (
	DefaultFPS         = 30
	DefaultSeekTimeout = 10 * time.Second
)

// Config controls one export session
type Config struct {
	FPS         float64
	SeekTimeout time.Duration
	TempDir     string
	Compositor  compositor.Options
}

// DefaultConfig returns 30 fps with a 10s seek timeout
func DefaultConfig() Config {
	return Config{
		FPS:         DefaultFPS,
		SeekTimeout: DefaultSeekTimeout,
		Compositor:  compositor.DefaultOptions(),
	}
}

// RecorderFactory builds the recorder for a session's surface
type RecorderFactory func(cfg recorder.Config) recorder.Recorder

// Option customizes a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithLocker shares a locker between sessions
func WithLocker(l *Locker) Option {
	return func(s *Session) { s.locker = l }
}

// WithRecorder selects the recorder. The default is the Motion JPEG recorder,
// which needs no external encoder.
func WithRecorder(f RecorderFactory) Option {
	return func(s *Session) { s.newRecorder = f }
}

// WithFonts sets the font registry used by the compositor
func WithFonts(r *fonts.Registry) Option {
	return func(s *Session) { s.fonts = r }
}

// WithProgress reports each captured frame
func WithProgress(fn func(frame, total int)) Option {
	return func(s *Session) { s.progress = fn }
}

// WithStateHook observes scheduler transitions
func WithStateHook(fn func(State)) Option {
	return func(s *Session) { s.onState = fn }
}

// WithClock overrides the time source used for artifact names
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session exports one source with burned-in captions. The recorder, the
// raster surface and the source's playback state are acquired when Run
// starts and released or restored on every way out of it.
type Session struct {
	source media.Source
	cfg    Config
	logger zerolog.Logger

	locker      *Locker
	newRecorder RecorderFactory
	fonts       *fonts.Registry
	progress    func(frame, total int)
	onState     func(State)
	now         func() time.Time
}

// NewSession prepares an export of source. Nothing is acquired until Run.
func NewSession(source media.Source, cfg Config, opts ...Option) (*Session, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.SeekTimeout <= 0 {
		cfg.SeekTimeout = DefaultSeekTimeout
	}

	s := &Session{
		source: source,
		cfg:    cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "export").Str("source", source.ID()).Logger()

	if s.locker == nil {
		s.locker = NewLocker("")
	}
	if s.newRecorder == nil {
		logger := s.logger
		s.newRecorder = func(rc recorder.Config) recorder.Recorder {
			return recorder.NewMJPEG(logger, recorder.MJPEGConfig{Config: rc})
		}
	}
	if s.fonts == nil {
		reg, err := fonts.NewRegistry()
		if err != nil {
			return nil, Wrap(ErrContextUnavailable, "load fonts", err)
		}
		s.fonts = reg
	}
	return s, nil
}

// Run exports the source with entries drawn in style. It returns either an
// artifact or an error carrying one of the failure kinds, never both; the
// source's position and paused flag are restored before it returns.
func (s *Session) Run(ctx context.Context, entries []captions.Entry, style captions.Style) (artifact *Artifact, err error) {
	if err := style.Validate(); err != nil {
		return nil, fmt.Errorf("invalid style: %w", err)
	}
	if err := captions.ValidateAll(entries); err != nil {
		return nil, fmt.Errorf("invalid captions: %w", err)
	}

	release, err := s.locker.Acquire(s.source.ID())
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	state := media.Snapshot(s.source)
	s.source.Pause()
	defer s.restore(state)

	width, height := s.source.Size()
	comp, err := compositor.New(width, height, s.fonts, s.cfg.Compositor)
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}
	surface := comp.NewSurface()

	rec := s.newRecorder(recorder.Config{
		Width:   width,
		Height:  height,
		FPS:     s.cfg.FPS,
		TempDir: s.cfg.TempDir,
	})
	if err := rec.Start(ctx); err != nil {
		return nil, Wrap(ErrRecorderInit, rec.MIMEType(), err)
	}
	defer func() {
		if err != nil {
			rec.Abort()
		}
	}()

	duration := s.source.Duration()
	s.logger.Info().
		Int("width", width).
		Int("height", height).
		Float64("duration", duration).
		Int("frames", FrameCount(duration, s.cfg.FPS)).
		Int("captions", len(entries)).
		Str("animation", style.Animation.String()).
		Msg("export started")

	sched := NewScheduler(s.source, s.cfg.FPS, s.cfg.SeekTimeout)
	sched.OnState = s.onState
	sched.OnProgress = s.reportProgress

	var recording *recorder.Recording
	capture := func(i int, t float64) error {
		comp.PaintAt(surface, frameOrNil(s.source), entries, style, t)
		if err := rec.Capture(surface); err != nil {
			return Wrap(ErrRecording, fmt.Sprintf("capture frame %d", i), err)
		}
		return nil
	}
	finalize := func(ctx context.Context) error {
		out, err := rec.Stop(ctx)
		if err != nil {
			if canceled(err) {
				return Wrap(ErrCanceled, "finalize", err)
			}
			return Wrap(ErrRecording, "finalize", err)
		}
		recording = out
		return nil
	}

	if err := sched.Run(ctx, duration, capture, finalize); err != nil {
		s.logger.Error().Err(err).Str("state", sched.State().String()).Msg("export failed")
		return nil, err
	}

	artifact = &Artifact{
		Data:     recording.Bytes(),
		Filename: ArtifactName(s.now(), rec.Extension()),
		MIMEType: recording.MIMEType,
		Frames:   recording.Frames,
		Duration: duration,
	}
	s.logger.Info().
		Str("file", artifact.Filename).
		Int("frames", artifact.Frames).
		Int("bytes", len(artifact.Data)).
		Dur("elapsed", time.Since(started)).
		Msg("export complete")
	return artifact, nil
}

// restore puts the source back where the caller left it. The run context
// may already be canceled, so the wait is bounded by the seek timeout alone.
func (s *Session) restore(state media.PlaybackState) {
	done := media.Restore(s.source, state)
	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn().Err(err).Float64("position", state.Position).Msg("failed to restore position")
		}
	case <-time.After(s.cfg.SeekTimeout):
		s.logger.Warn().Float64("position", state.Position).Msg("restore seek did not complete")
	}
}

func (s *Session) reportProgress(frame, total int) {
	if s.progress != nil {
		s.progress(frame, total)
	}
	every := int(s.cfg.FPS)
	if frame == total || (every > 0 && frame%every == 0) {
		s.logger.Debug().Int("frame", frame).Int("total", total).Msg("export progress")
	}
}

// frameOrNil guards against sources returning a typed nil image
func frameOrNil(src media.Source) image.Image {
	frame := src.Frame()
	if rgba, ok := frame.(*image.RGBA); ok && rgba == nil {
		return nil
	}
	return frame
}

// IsFailure reports whether err is one of the export failure kinds
func IsFailure(err error) bool {
	for _, kind := range []error{
		ErrContextUnavailable, ErrRecorderInit, ErrStalledExport,
		ErrCanceled, ErrSessionBusy, ErrRecording, ErrSource,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
