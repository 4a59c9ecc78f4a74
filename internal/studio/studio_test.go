package studio

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/internal/compositor"
	"github.com/kikiluvv/captionburn/internal/fonts"
	"github.com/kikiluvv/captionburn/internal/media"
	"github.com/kikiluvv/captionburn/internal/preview"
)

// closingSource records Close on top of the in-memory pattern
type closingSource struct {
	*media.Pattern
	closed bool
}

func (c *closingSource) Close() error {
	c.closed = true
	return nil
}

func newCompositor(t *testing.T, w, h int) *compositor.Compositor {
	t.Helper()
	registry, err := fonts.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	c, err := compositor.New(w, h, registry, compositor.Options{ReferenceWidth: float64(w)})
	if err != nil {
		t.Fatalf("compositor.New failed: %v", err)
	}
	return c
}

type rendered struct {
	t       float64
	bounds  image.Rectangle
	overlay preview.Overlay
}

// startLoop runs the scrub loop and reports each frame and its exit
func startLoop(s *Studio) (<-chan rendered, <-chan struct{}) {
	frames := make(chan rendered, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(func(frame image.Image, t float64, o preview.Overlay) {
			frames <- rendered{t: t, bounds: frame.Bounds(), overlay: o}
		})
	}()
	return frames, done
}

func testStyle() captions.Style {
	style := captions.DefaultStyle()
	style.Animation = captions.AnimationNone
	return style
}

func TestScrubPaintsRequestedTime(t *testing.T) {
	s := New(zerolog.Nop(), testStyle())
	defer s.Close()

	s.Load("pattern", media.NewPattern("pattern", 64, 36, 2), newCompositor(t, 64, 36))
	s.SetEntries([]captions.Entry{{ID: "c1", Start: 0.25, End: 1, Text: "hi"}})
	frames, _ := startLoop(s)

	s.Request(0.5)
	select {
	case f := <-frames:
		if f.t != 0.5 {
			t.Errorf("painted t = %v, want 0.5", f.t)
		}
		if f.bounds.Dx() != 64 || f.bounds.Dy() != 36 {
			t.Errorf("frame bounds = %v", f.bounds)
		}
		if !f.overlay.Visible || f.overlay.EntryID != "c1" {
			t.Errorf("overlay = %+v", f.overlay)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame rendered")
	}

	s.Request(1.5)
	select {
	case f := <-frames:
		if f.overlay.Visible {
			t.Errorf("expected no caption at 1.5s, got %+v", f.overlay)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame rendered")
	}
}

func TestStyleUpdatesAreSeenByExports(t *testing.T) {
	s := New(zerolog.Nop(), testStyle())
	defer s.Close()

	s.UpdateStyle(func(st *captions.Style) { st.Position = captions.PositionTop })
	if got := s.Style().Position; got != captions.PositionTop {
		t.Errorf("position = %q", got)
	}

	s.Load("/videos/a.mp4", media.NewPattern("a", 16, 9, 1), newCompositor(t, 16, 9))
	path, entries, style := s.Current()
	if path != "/videos/a.mp4" || entries != nil || style.Position != captions.PositionTop {
		t.Errorf("Current() = %q %v %+v", path, entries, style)
	}
}

func TestCloseEndsScrubLoop(t *testing.T) {
	s := New(zerolog.Nop(), testStyle())
	_, done := startLoop(s)

	s.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scrub loop still running after Close")
	}

	// late requests and a second Close are ignored
	s.Request(1)
	s.Close()
}

func TestLoadClosesReplacedSource(t *testing.T) {
	s := New(zerolog.Nop(), testStyle())
	a := &closingSource{Pattern: media.NewPattern("a", 16, 9, 1)}
	b := &closingSource{Pattern: media.NewPattern("b", 16, 9, 1)}

	s.Load("a", a, newCompositor(t, 16, 9))
	s.Load("b", b, newCompositor(t, 16, 9))
	if !a.closed || b.closed {
		t.Errorf("after replace: a.closed=%v b.closed=%v", a.closed, b.closed)
	}

	s.Close()
	if !b.closed {
		t.Error("Close must close the current source")
	}
}

func TestExportCancellation(t *testing.T) {
	s := New(zerolog.Nop(), testStyle())

	ctx, ok := s.StartExport()
	if !ok {
		t.Fatal("StartExport refused on an idle studio")
	}
	if _, again := s.StartExport(); again {
		t.Error("a second export must not start while one runs")
	}

	if !s.StopExport() {
		t.Error("StopExport should report the running export")
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Errorf("ctx.Err() = %v, want canceled", ctx.Err())
	}
	if s.StopExport() {
		t.Error("StopExport on an idle studio should report false")
	}

	ctx, ok = s.StartExport()
	if !ok {
		t.Fatal("StartExport refused after the previous export ended")
	}
	s.Close()
	if ctx.Err() == nil {
		t.Error("Close must cancel the running export")
	}
	if _, ok := s.StartExport(); ok {
		t.Error("StartExport must fail after Close")
	}
}
