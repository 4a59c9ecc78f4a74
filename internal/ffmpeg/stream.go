package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kikiluvv/captionburn/pkg/util"
)

// DecodeOptions describes a raw frame decode of a video file
type DecodeOptions struct {
	Input  string
	Start  float64 // seconds; input-side seek
	FPS    float64
	Width  int
	Height int
}

// EncodeOptions describes an encode of raw frames read from stdin
type EncodeOptions struct {
	Width     int
	Height    int
	FPS       float64
	Codec     string
	CRF       int
	Container string
	Output    string // file path; seekable so the muxer can finalize its index
}

// DecodeArgs builds the arguments for a constant-rate raw RGBA decode
func DecodeArgs(opts DecodeOptions) []string {
	filters := NewFilterBuilder().
		FPS(opts.FPS).
		Scale(opts.Width, opts.Height).
		Format(RawPixelFormat).
		Build()

	args := []string{}
	if opts.Start > 0 {
		args = append(args, "-ss", util.FormatDuration(opts.Start))
	}
	args = append(args,
		"-i", opts.Input,
		"-an", "-sn",
		"-vf", filters,
		"-f", "rawvideo",
		"-pix_fmt", RawPixelFormat,
		"pipe:1",
	)
	return args
}

// EncodeArgs builds the arguments for encoding raw RGBA frames from stdin
func EncodeArgs(opts EncodeOptions) []string {
	codec := opts.Codec
	if codec == "" {
		codec = DefaultVideoCodec
	}
	crf := opts.CRF
	if crf == 0 {
		crf = DefaultCRF
	}
	container := opts.Container
	if container == "" {
		container = DefaultContainer
	}

	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", RawPixelFormat,
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-framerate", formatRate(opts.FPS),
		"-i", "pipe:0",
		"-c:v", codec,
	}
	// constant quality for vpx needs a zero target bitrate
	if strings.HasPrefix(codec, "libvpx") {
		args = append(args, "-crf", fmt.Sprintf("%d", crf), "-b:v", "0")
	} else {
		args = append(args, "-q:v", "4")
	}
	return append(args,
		"-pix_fmt", "yuv420p",
		"-f", container,
		opts.Output,
	)
}

// Decode starts a raw frame decoder; frames are read from Process.Stdout,
// each Width*Height*BytesPerPixel bytes long.
func (e *Executor) Decode(ctx context.Context, opts DecodeOptions) (*Process, error) {
	if opts.Input == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid decode size %dx%d", opts.Width, opts.Height)
	}

	e.logger.Debug().
		Str("input", opts.Input).
		Float64("start", opts.Start).
		Msg("starting decoder")

	return e.Start(ctx, RunOptions{
		Args: DecodeArgs(opts),
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("decoder output")
		},
	})
}

// Encode starts an encoder that reads raw frames from Process.Stdin and
// writes the container to opts.Output.
func (e *Executor) Encode(ctx context.Context, opts EncodeOptions, progress ProgressFunc) (*Process, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid encode size %dx%d", opts.Width, opts.Height)
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("FPS must be positive")
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Int("width", opts.Width).
		Int("height", opts.Height).
		Str("codec", opts.Codec).
		Str("output", opts.Output).
		Msg("starting encoder")

	return e.Start(ctx, RunOptions{
		Args:            EncodeArgs(opts),
		ProgressHandler: progress,
		Stdin:           true,
		Stdout:          io.Discard,
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("encoder output")
		},
	})
}
