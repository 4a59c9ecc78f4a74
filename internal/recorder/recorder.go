package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
)

// ErrUnsupported means the host cannot produce the requested encoding
var ErrUnsupported = errors.New("encoding not supported by host")

// ChunkSize is the size of the chunks a finished recording is split into
const ChunkSize = 64 << 10

// Recorder turns a continuous stream of painted frames into an encoded
// video. Frames carry no timestamps; the configured frame rate alone sets
// output cadence.
type Recorder interface {
	// Start prepares the encoder. It fails before any frame is accepted
	// when the encoding is unavailable.
	Start(ctx context.Context) error
	Capture(frame *image.RGBA) error
	// Stop flushes the encoder and returns the finished recording
	Stop(ctx context.Context) (*Recording, error)
	// Abort discards everything recorded so far. Safe to call at any time.
	Abort()
	Extension() string
	MIMEType() string
}

// Config holds the settings shared by all recorders
type Config struct {
	Width   int
	Height  int
	FPS     float64
	TempDir string
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid recording size %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("FPS must be positive")
	}
	return nil
}

// Recording is the encoded output, split into chunks the way it was
// collected
type Recording struct {
	Chunks   [][]byte
	MIMEType string
	Frames   int
}

// Size returns the total byte count
func (r *Recording) Size() int {
	n := 0
	for _, c := range r.Chunks {
		n += len(c)
	}
	return n
}

// Bytes assembles the chunks into one buffer
func (r *Recording) Bytes() []byte {
	out := make([]byte, 0, r.Size())
	for _, c := range r.Chunks {
		out = append(out, c...)
	}
	return out
}

// MIMEFor maps a container extension to the MIME type of its recording
func MIMEFor(ext string) string {
	switch ext {
	case "webm":
		return "video/webm"
	case "avi":
		return "video/x-msvideo"
	case "mp4":
		return "video/mp4"
	case "mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}

// readChunks loads a finished file as ChunkSize pieces
func readChunks(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	var chunks [][]byte
	for {
		buf := make([]byte, ChunkSize)
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			chunks = append(chunks, buf[:n])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read recording: %w", err)
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("recording is empty")
	}
	return chunks, nil
}

// packed returns the frame's pixels without row padding
func packed(frame *image.RGBA, width, height int) ([]byte, error) {
	b := frame.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, fmt.Errorf("frame is %dx%d, recorder expects %dx%d", b.Dx(), b.Dy(), width, height)
	}
	row := width * 4
	if frame.Stride == row && b.Min == (image.Point{}) {
		return frame.Pix[:row*height], nil
	}
	out := make([]byte, 0, row*height)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := frame.PixOffset(b.Min.X, y)
		out = append(out, frame.Pix[off:off+row]...)
	}
	return out, nil
}
