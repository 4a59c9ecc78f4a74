package ffmpeg

import (
	"io"
	"time"
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	Bitrate    int64
	VideoCodec string
	HasAudio   bool
	AudioCodec string
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	Speed   string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler ProgressFunc
	LogHandler      func(line string)

	// Stdin opens a pipe to ffmpeg's standard input (Process.Stdin)
	Stdin bool
	// Stdout receives ffmpeg's standard output. When nil, Start exposes it
	// as Process.Stdout for the caller to read.
	Stdout io.Writer
}

// Raw frame interchange format between ffmpeg and the compositor
const (
	RawPixelFormat = "rgba"
	BytesPerPixel  = 4
)

// Default encoding settings
const (
	DefaultCRF        = 32
	DefaultVideoCodec = "libvpx-vp9"
	DefaultContainer  = "webm"
)

// ProgressFunc is a callback for progress updates during ffmpeg operations.
// Called periodically with progress information as the operation executes.
type ProgressFunc func(*Progress)
