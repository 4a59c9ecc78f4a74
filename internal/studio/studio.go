// Package studio holds the editor state behind the studio window: the loaded
// source, captions and style, the scrub preview loop and the running export.
package studio

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/internal/compositor"
	"github.com/kikiluvv/captionburn/internal/media"
	"github.com/kikiluvv/captionburn/internal/preview"
)

// RenderFunc receives each painted scrub frame
type RenderFunc func(frame image.Image, t float64, overlay preview.Overlay)

// Studio is safe for concurrent use. Its Compositor is only touched by the
// scrub loop; exports build their own.
type Studio struct {
	logger zerolog.Logger

	mu        sync.Mutex
	videoPath string
	src       media.Source
	comp      *compositor.Compositor
	entries   []captions.Entry
	style     captions.Style

	// cancels the running export, nil when idle
	cancelExport context.CancelFunc
	closed       bool

	// latest requested scrub position; older requests are dropped
	scrub chan float64
}

// New creates an empty studio using style until it is changed
func New(logger zerolog.Logger, style captions.Style) *Studio {
	return &Studio{
		logger: logger.With().Str("component", "studio").Logger(),
		style:  style,
		scrub:  make(chan float64, 1),
	}
}

// Load replaces the current source. The previous source is closed when it
// implements io.Closer.
func (s *Studio) Load(path string, src media.Source, comp *compositor.Compositor) {
	s.mu.Lock()
	old := s.src
	s.videoPath, s.src, s.comp = path, src, comp
	s.mu.Unlock()

	s.closeSource(old)
	s.logger.Info().Str("video", path).Msg("video loaded")
}

// SetEntries replaces the caption list
func (s *Studio) SetEntries(entries []captions.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
}

// UpdateStyle edits the style in place
func (s *Studio) UpdateStyle(fn func(*captions.Style)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.style)
}

// Style returns the current style
func (s *Studio) Style() captions.Style {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

// Current returns what an export started now would use
func (s *Studio) Current() (string, []captions.Entry, captions.Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoPath, s.entries, s.style
}

// Request asks the scrub loop to show time t
func (s *Studio) Request(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.scrub:
	default:
	}
	s.scrub <- t
}

// Run seeks to each requested position and paints the frame. It returns
// once the studio is closed.
func (s *Studio) Run(render RenderFunc) {
	for t := range s.scrub {
		s.mu.Lock()
		src, comp, entries, style := s.src, s.comp, s.entries, s.style
		s.mu.Unlock()
		if src == nil || comp == nil {
			continue
		}

		if err := <-src.Seek(t); err != nil {
			s.logger.Warn().Err(err).Float64("t", t).Msg("seek failed")
			continue
		}
		at := src.Position()
		dst := comp.NewSurface()
		comp.PaintAt(dst, src.Frame(), entries, style, at)
		render(dst, at, preview.Describe(entries, style, at))
	}
}

// StartExport registers a cancelable export; only one runs at a time
func (s *Studio) StartExport() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelExport != nil || s.closed {
		return nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelExport = cancel
	return ctx, true
}

// StopExport cancels the running export, reporting whether there was one
func (s *Studio) StopExport() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelExport == nil {
		return false
	}
	s.cancelExport()
	s.cancelExport = nil
	return true
}

// Close cancels any export, ends the scrub loop and closes the source
func (s *Studio) Close() {
	s.StopExport()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.scrub)
	src := s.src
	s.src, s.comp = nil, nil
	s.mu.Unlock()

	s.closeSource(src)
}

func (s *Studio) closeSource(src media.Source) {
	if c, ok := src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn().Err(err).Str("source", src.ID()).Msg("close source")
		}
	}
}
