package pipeline

import (
	"time"

	"github.com/kikiluvv/captionburn/internal/captions"
)

// Project is a source video with its captions and style
type Project struct {
	Name      string
	InputPath string
	Captions  []captions.Entry
	Style     captions.Style
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExportOptions configures an export run
type ExportOptions struct {
	OutputDir string
	Format    string // webm or mjpeg; empty uses the config
	Progress  func(frame, total int)
}

// ExportResult describes a saved export
type ExportResult struct {
	Path     string
	Filename string
	MIMEType string
	Frames   int
	Bytes    int
	Elapsed  time.Duration
}

// SnapshotOptions configures a single-frame render
type SnapshotOptions struct {
	At         float64
	OutputPath string
}

// TranscribeOptions configures a transcription request
type TranscribeOptions struct {
	Language  string // empty uses the config
	AudioOnly bool   // send a compact mono MP3 instead of the whole video
}
