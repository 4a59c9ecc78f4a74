package pipeline

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/internal/compositor"
	"github.com/kikiluvv/captionburn/internal/config"
	"github.com/kikiluvv/captionburn/internal/export"
	"github.com/kikiluvv/captionburn/internal/ffmpeg"
	"github.com/kikiluvv/captionburn/internal/fonts"
	"github.com/kikiluvv/captionburn/internal/media"
	"github.com/kikiluvv/captionburn/internal/recorder"
	"github.com/kikiluvv/captionburn/internal/transcribe"
	"github.com/kikiluvv/captionburn/pkg/util"
	"github.com/rs/zerolog"
)

// Pipeline wires configuration to the ffmpeg executor, media sources, the
// export session and the transcription engine
type Pipeline struct {
	logger zerolog.Logger
	config *config.Config
	ffmpeg *ffmpeg.Executor
	fonts  *fonts.Registry
	locker *export.Locker
	engine transcribe.Engine
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, appCfg *config.Config) (*Pipeline, error) {
	if appCfg == nil {
		appCfg = config.Default()
	}

	// Initialize ffmpeg executor
	ffmpegExec, err := ffmpeg.NewWithPaths(logger, appCfg.FFmpeg.BinaryPath, appCfg.FFmpeg.ProbePath, appCfg.FFmpeg.Threads)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}

	registry, err := LoadFonts(appCfg)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		config: appCfg,
		ffmpeg: ffmpegExec,
		fonts:  registry,
		locker: export.NewLocker(appCfg.Export.LockDir),
	}, nil
}

// LoadFonts builds the font registry with the configured families
func LoadFonts(appCfg *config.Config) (*fonts.Registry, error) {
	registry, err := fonts.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load fonts: %w", err)
	}
	for family, path := range appCfg.Fonts {
		if err := registry.Register(family, path); err != nil {
			return nil, fmt.Errorf("font %q: %w", family, err)
		}
	}
	return registry, nil
}

// SetEngine replaces the transcription engine
func (p *Pipeline) SetEngine(engine transcribe.Engine) {
	p.engine = engine
}

// Fonts returns the font registry shared by every render
func (p *Pipeline) Fonts() *fonts.Registry {
	return p.fonts
}

// Close releases pipeline resources
func (p *Pipeline) Close() error {
	return nil
}

// Probe returns the metadata of input
func (p *Pipeline) Probe(ctx context.Context, input string) (*ffmpeg.VideoInfo, error) {
	if input == "" {
		return nil, fmt.Errorf("input path cannot be empty")
	}
	return p.ffmpeg.ProbeVideo(ctx, input)
}

// OpenSource opens input as a seekable media source at the export rate
func (p *Pipeline) OpenSource(ctx context.Context, input string) (*media.FileSource, error) {
	if input == "" {
		return nil, fmt.Errorf("input path cannot be empty")
	}
	return media.OpenFile(ctx, p.ffmpeg, p.logger, input, media.FileOptions{FPS: p.config.Export.FPS})
}

// Export burns entries into input and saves the artifact under the output
// directory. Nothing is written when the export fails.
func (p *Pipeline) Export(ctx context.Context, input string, entries []captions.Entry, style captions.Style, opts ExportOptions) (*ExportResult, error) {
	p.logger.Info().
		Str("input", input).
		Int("captions", len(entries)).
		Msg("starting export pipeline")

	for _, pair := range captions.Overlaps(entries) {
		p.logger.Warn().
			Str("first", entries[pair[0]].ID).
			Str("second", entries[pair[1]].ID).
			Msg("captions overlap; the earlier one in the list is shown")
	}

	src, err := p.OpenSource(ctx, input)
	if err != nil {
		return nil, export.Wrap(export.ErrSource, "open "+input, err)
	}
	defer src.Close()

	factory, err := p.recorderFactory(ctx, opts.Format)
	if err != nil {
		return nil, err
	}

	session, err := export.NewSession(src, p.sessionConfig(),
		export.WithLogger(p.logger),
		export.WithLocker(p.locker),
		export.WithFonts(p.fonts),
		export.WithRecorder(factory),
		export.WithProgress(opts.Progress),
	)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	artifact, err := session.Run(ctx, entries, style)
	if err != nil {
		return nil, err
	}
	defer artifact.Release()

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = p.config.Export.OutputDir
	}
	path, err := artifact.Save(outDir)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{
		Path:     path,
		Filename: artifact.Filename,
		MIMEType: artifact.MIMEType,
		Frames:   artifact.Frames,
		Bytes:    len(artifact.Data),
		Elapsed:  time.Since(started),
	}
	p.logger.Info().
		Str("output", path).
		Int("frames", result.Frames).
		Dur("elapsed", result.Elapsed).
		Msg("export pipeline complete")
	return result, nil
}

// Snapshot paints the single frame at opts.At and writes it as PNG
func (p *Pipeline) Snapshot(ctx context.Context, input string, entries []captions.Entry, style captions.Style, opts SnapshotOptions) error {
	if opts.OutputPath == "" {
		return fmt.Errorf("output path cannot be empty")
	}
	if err := style.Validate(); err != nil {
		return fmt.Errorf("invalid style: %w", err)
	}

	src, err := p.OpenSource(ctx, input)
	if err != nil {
		return err
	}
	defer src.Close()

	select {
	case err := <-src.Seek(opts.At):
		if err != nil {
			return fmt.Errorf("seek to %.3fs: %w", opts.At, err)
		}
	case <-time.After(p.config.Export.SeekTimeout):
		return export.Wrap(export.ErrStalledExport, fmt.Sprintf("seek to %.3fs", opts.At), nil)
	case <-ctx.Done():
		return ctx.Err()
	}

	w, h := src.Size()
	comp, err := compositor.New(w, h, p.fonts, p.compositorOptions())
	if err != nil {
		return err
	}
	frame := comp.NewSurface()
	entry, ok := comp.PaintAt(frame, src.Frame(), entries, style, src.Position())

	if err := util.EnsureDir(filepath.Dir(opts.OutputPath)); err != nil {
		return err
	}
	if err := gg.SavePNG(opts.OutputPath, frame); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	ev := p.logger.Info().Str("output", opts.OutputPath).Float64("at", opts.At)
	if ok {
		ev = ev.Str("caption", entry.ID)
	}
	ev.Msg("snapshot written")
	return nil
}

// Transcribe sends input, or just its audio track, to the transcription engine
func (p *Pipeline) Transcribe(ctx context.Context, input string, opts TranscribeOptions) ([]captions.Entry, error) {
	language := opts.Language
	if language == "" {
		language = p.config.Transcribe.Language
	}

	path, mimeType := input, VideoMIMEType(input)
	if opts.AudioOnly {
		format := ffmpeg.TranscriptionFormat()
		f, err := util.TempFile(p.config.TempDir, "transcribe-", "."+format.Extension)
		if err != nil {
			return nil, fmt.Errorf("create audio file: %w", err)
		}
		f.Close()
		defer util.CleanupFiles(f.Name())

		if err := p.ffmpeg.ExtractAudio(ctx, input, f.Name(), format, nil); err != nil {
			return nil, fmt.Errorf("%w: %w", transcribe.ErrProcessingFailure, err)
		}
		path, mimeType = f.Name(), format.MIMEType
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}

	engine := p.engine
	if engine == nil {
		tc := p.config.Transcribe
		engine = transcribe.NewGemini(transcribe.Config{
			APIKey:   tc.APIKey(),
			Endpoint: tc.Endpoint,
			Model:    tc.Model,
			Timeout:  tc.Timeout,
		}, transcribe.WithLogger(p.logger))
	}

	p.logger.Info().
		Str("input", input).
		Str("language", language).
		Str("mime", mimeType).
		Int("bytes", len(data)).
		Msg("transcribing")
	return engine.Transcribe(ctx, data, mimeType, language)
}

// VideoMIMEType guesses the MIME type of a video file from its extension
func VideoMIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "video/") {
		return t
	}
	switch ext {
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "video/mp4"
	}
}

func (p *Pipeline) sessionConfig() export.Config {
	return export.Config{
		FPS:         p.config.Export.FPS,
		SeekTimeout: p.config.Export.SeekTimeout,
		TempDir:     p.config.TempDir,
		Compositor:  p.compositorOptions(),
	}
}

func (p *Pipeline) compositorOptions() compositor.Options {
	return compositor.Options{
		ReferenceWidth: p.config.Export.ReferenceWidth,
		PlateRadius:    p.config.Export.PlateRadius,
	}
}

// recorderFactory picks the recorder for format. A webm export on an ffmpeg
// build without the configured encoder falls back to MJPEG.
func (p *Pipeline) recorderFactory(ctx context.Context, format string) (export.RecorderFactory, error) {
	if format == "" {
		format = p.config.Export.Format
	}

	mjpeg := func(rc recorder.Config) recorder.Recorder {
		return recorder.NewMJPEG(p.logger, recorder.MJPEGConfig{Config: rc, Quality: p.config.Export.JPEGQuality})
	}

	switch format {
	case config.FormatMJPEG:
		return mjpeg, nil
	case config.FormatWebM:
		codec := p.config.Export.Codec
		if codec == "" {
			codec = ffmpeg.DefaultVideoCodec
		}
		ok, err := p.ffmpeg.HasEncoder(ctx, codec)
		if err != nil {
			return nil, export.Wrap(export.ErrRecorderInit, "list encoders", err)
		}
		if !ok {
			p.logger.Warn().Str("codec", codec).Msg("encoder not available, exporting MJPEG instead")
			return mjpeg, nil
		}
		crf := p.config.Export.CRF
		return func(rc recorder.Config) recorder.Recorder {
			return recorder.NewFFmpeg(p.ffmpeg, p.logger, recorder.FFmpegConfig{
				Config:    rc,
				Codec:     codec,
				Container: ffmpeg.DefaultContainer,
				CRF:       crf,
			})
		}, nil
	default:
		return nil, export.Wrap(export.ErrRecorderInit, "format "+format, recorder.ErrUnsupported)
	}
}
