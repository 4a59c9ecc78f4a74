package compositor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"testing"

	"github.com/fogleman/gg"

	"github.com/kikiluvv/captionburn/internal/animation"
	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/internal/fonts"
)

const (
	testW = 320
	testH = 180
)

func newTestCompositor(t *testing.T) *Compositor {
	t.Helper()
	registry, err := fonts.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	c, err := New(testW, testH, registry, Options{ReferenceWidth: testW, PlateRadius: DefaultPlateRadius})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func plateStyle() captions.Style {
	return captions.Style{
		FontFamily:      "sans-serif",
		FontSize:        20,
		TextColor:       "#ffffff",
		BackgroundColor: "#00ff00",
		Position:        captions.PositionBottom,
		Animation:       captions.AnimationNone,
	}
}

// padPoint returns a point inside the plate's left padding, left of any glyph
func padPoint(t *testing.T, c *Compositor, style captions.Style, text string) image.Point {
	t.Helper()
	dc := gg.NewContext(testW, testH)
	dc.SetFontFace(c.faces.Face(style.FontFamily, c.fontSize(style)))
	w, _ := dc.MeasureString(text)
	x := float64(testW)/2 - w/2 - 7
	y := float64(testH) * style.Position.Fraction()
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}

func TestNewRejectsUnusableSurface(t *testing.T) {
	registry, err := fonts.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(0, 720, registry, DefaultOptions()); !errors.Is(err, ErrContextUnavailable) {
		t.Errorf("expected ErrContextUnavailable, got %v", err)
	}
	if _, err := New(MaxDimension+1, 10, registry, DefaultOptions()); !errors.Is(err, ErrContextUnavailable) {
		t.Errorf("expected ErrContextUnavailable, got %v", err)
	}
	if _, err := New(10, 10, nil, DefaultOptions()); !errors.Is(err, ErrContextUnavailable) {
		t.Errorf("expected ErrContextUnavailable, got %v", err)
	}
}

func TestPaintWithoutCaptionCopiesFrame(t *testing.T) {
	c := newTestCompositor(t)
	dst := c.NewSurface()
	frame := solid(testW, testH, color.RGBA{R: 200, A: 255})

	c.Paint(dst, frame, nil, plateStyle(), animation.Params{})

	if got := dst.RGBAAt(10, 10); got != (color.RGBA{R: 200, A: 255}) {
		t.Errorf("expected frame color, got %+v", got)
	}
}

func TestPaintNilFrameIsOpaqueBlack(t *testing.T) {
	c := newTestCompositor(t)
	dst := solid(testW, testH, color.RGBA{R: 9, G: 9, B: 9, A: 9})

	c.Paint(dst, nil, nil, plateStyle(), animation.Params{})

	if got := dst.RGBAAt(testW-1, testH-1); got != (color.RGBA{A: 255}) {
		t.Errorf("expected opaque black, got %+v", got)
	}
}

func TestPaintStretchesFrame(t *testing.T) {
	c := newTestCompositor(t)
	dst := c.NewSurface()
	frame := solid(testW/2, testH/4, color.RGBA{B: 255, A: 255})

	c.Paint(dst, frame, nil, plateStyle(), animation.Params{})

	for _, pt := range []image.Point{{1, 1}, {testW / 2, testH / 2}, {testW - 2, testH - 2}} {
		if got := dst.RGBAAt(pt.X, pt.Y); got.B < 250 || got.A != 255 {
			t.Errorf("at %v expected stretched blue, got %+v", pt, got)
		}
	}
}

func TestPaintDrawsPlateAtAnchor(t *testing.T) {
	c := newTestCompositor(t)
	style := plateStyle()
	entry := captions.Entry{ID: "a", Start: 0, End: 2, Text: "hello"}

	for _, pos := range []captions.Position{captions.PositionBottom, captions.PositionTop, captions.PositionMiddle} {
		style.Position = pos
		dst := c.NewSurface()
		c.Paint(dst, nil, &entry, style, animation.Steady(entry.Text))

		pt := padPoint(t, c, style, entry.Text)
		if got := dst.RGBAAt(pt.X, pt.Y); got.G < 250 || got.R > 5 {
			t.Errorf("%s: expected plate green at %v, got %+v", pos, pt, got)
		}
		if got := dst.RGBAAt(2, 2); got != (color.RGBA{A: 255}) {
			t.Errorf("%s: corner should stay black, got %+v", pos, got)
		}
	}
}

func TestPaintAppliesOpacity(t *testing.T) {
	c := newTestCompositor(t)
	style := plateStyle()
	entry := captions.Entry{ID: "a", Start: 0, End: 2, Text: "hello"}
	p := animation.Steady(entry.Text)
	p.Opacity = 0.5

	dst := c.NewSurface()
	c.Paint(dst, nil, &entry, style, p)

	pt := padPoint(t, c, style, entry.Text)
	if got := dst.RGBAAt(pt.X, pt.Y); got.G < 120 || got.G > 136 {
		t.Errorf("expected half-blended green, got %+v", got)
	}

	p.Opacity = 0
	dst = c.NewSurface()
	c.Paint(dst, nil, &entry, style, p)
	if got := dst.RGBAAt(pt.X, pt.Y); got != (color.RGBA{A: 255}) {
		t.Errorf("expected nothing drawn at zero opacity, got %+v", got)
	}
}

func TestTransparentBackgroundSkipsPlate(t *testing.T) {
	c := newTestCompositor(t)
	style := plateStyle()
	style.BackgroundColor = "transparent"
	entry := captions.Entry{ID: "a", Start: 0, End: 2, Text: "hello"}

	dst := c.NewSurface()
	c.Paint(dst, nil, &entry, style, animation.Steady(entry.Text))

	pt := padPoint(t, c, style, entry.Text)
	if got := dst.RGBAAt(pt.X, pt.Y); got.G > 5 {
		t.Errorf("expected no plate, got %+v", got)
	}
}

func TestEmptyTextDrawsNothing(t *testing.T) {
	c := newTestCompositor(t)
	style := plateStyle()
	style.Outline = true
	entry := captions.Entry{ID: "a", Start: 0, End: 2, Text: "typing"}
	p := animation.Steady("")

	dst := c.NewSurface()
	c.Paint(dst, nil, &entry, style, p)

	for i := 0; i < len(dst.Pix); i += 4 {
		if dst.Pix[i] != 0 || dst.Pix[i+1] != 0 || dst.Pix[i+2] != 0 {
			t.Fatalf("expected an all-black frame, found color at offset %d", i)
		}
	}
}

func TestSwipeClipsFromLeft(t *testing.T) {
	c := newTestCompositor(t)
	style := plateStyle()
	style.Animation = captions.AnimationSwipe
	entry := captions.Entry{ID: "a", Start: 0, End: 2, Text: "hello"}
	pt := padPoint(t, c, style, entry.Text)
	right := image.Pt(testW-pt.X, pt.Y)

	p := animation.Compute(captions.AnimationSwipe, 0, 2, entry.Text)
	dst := c.NewSurface()
	c.Paint(dst, nil, &entry, style, p)
	if got := dst.RGBAAt(pt.X, pt.Y); got.G != 0 {
		t.Errorf("nothing should be revealed at start, got %+v", got)
	}

	p = animation.Compute(captions.AnimationSwipe, 0.4, 2, entry.Text)
	dst = c.NewSurface()
	c.Paint(dst, nil, &entry, style, p)
	if got := dst.RGBAAt(pt.X, pt.Y); got.G < 250 {
		t.Errorf("left padding should be revealed halfway through, got %+v", got)
	}
	if got := dst.RGBAAt(right.X, right.Y); got.G != 0 {
		t.Errorf("right padding should still be hidden halfway through, got %+v", got)
	}

	p = animation.Compute(captions.AnimationSwipe, 1, 2, entry.Text)
	dst = c.NewSurface()
	c.Paint(dst, nil, &entry, style, p)
	if got := dst.RGBAAt(right.X, right.Y); got.G < 250 {
		t.Errorf("right padding should be revealed at the end, got %+v", got)
	}
}

func TestBlurSoftensEdges(t *testing.T) {
	c := newTestCompositor(t)
	style := plateStyle()
	entry := captions.Entry{ID: "a", Start: 0, End: 2, Text: "hello"}

	sharp := c.NewSurface()
	c.Paint(sharp, nil, &entry, style, animation.Steady(entry.Text))

	p := animation.Steady(entry.Text)
	p.Blur = 8
	blurred := c.NewSurface()
	c.Paint(blurred, nil, &entry, style, p)

	// just above the plate: black when sharp, tinted when blurred
	y := int(float64(testH)*0.85) - 24
	x := testW / 2
	if got := sharp.RGBAAt(x, y); got.G != 0 {
		t.Fatalf("expected black above the sharp plate, got %+v", got)
	}
	if got := blurred.RGBAAt(x, y); got.G == 0 {
		t.Errorf("expected blur to bleed above the plate, got %+v", got)
	}
}

func TestPaintDoesNotLeakBetweenFrames(t *testing.T) {
	c := newTestCompositor(t)
	style := plateStyle()
	style.Outline = true
	style.Animation = captions.AnimationSwipe
	entry := captions.Entry{ID: "a", Start: 0, End: 2, Text: "hello"}
	frame := solid(testW, testH, color.RGBA{R: 40, G: 40, B: 40, A: 255})

	p := animation.Steady(entry.Text)
	p.Scale = 1.2
	p.Blur = 3
	p.Reveal = 0.3
	c.Paint(c.NewSurface(), frame, &entry, style, p)

	dst := c.NewSurface()
	c.Paint(dst, frame, nil, style, animation.Params{})
	want := solid(testW, testH, color.RGBA{R: 40, G: 40, B: 40, A: 255})
	for i := range dst.Pix {
		if dst.Pix[i] != want.Pix[i] {
			t.Fatalf("frame without caption differs at offset %d", i)
		}
	}
}

func TestPaintAtResolvesAndAnimates(t *testing.T) {
	c := newTestCompositor(t)
	style := plateStyle()
	style.Animation = captions.AnimationFade
	entries := []captions.Entry{{ID: "a", Start: 1, End: 3, Text: "hi"}}
	pt := padPoint(t, c, style, "hi")

	dst := c.NewSurface()
	if _, ok := c.PaintAt(dst, nil, entries, style, 0.5); ok {
		t.Error("no caption expected at 0.5")
	}

	dst = c.NewSurface()
	if _, ok := c.PaintAt(dst, nil, entries, style, 1.0); !ok {
		t.Fatal("caption expected at 1.0")
	}
	if got := dst.RGBAAt(pt.X, pt.Y); got.G != 0 {
		t.Errorf("fade must start invisible, got %+v", got)
	}

	dst = c.NewSurface()
	c.PaintAt(dst, nil, entries, style, 2.0)
	if got := dst.RGBAAt(pt.X, pt.Y); got.G < 250 {
		t.Errorf("expected full plate mid-caption, got %+v", got)
	}
}

func TestFlatten(t *testing.T) {
	if got := flatten("one\ntwo  three"); got != "one two three" {
		t.Errorf("unexpected flatten result %q", got)
	}
	if got := flatten("keep  spacing"); got != "keep  spacing" {
		t.Errorf("single-line text must be untouched, got %q", got)
	}
}

// Two compositors on one registry run concurrently in the studio: the scrub
// preview and an export. Run with -race.
func TestCompositorsShareRegistryConcurrently(t *testing.T) {
	registry, err := fonts.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	style := plateStyle()
	style.Outline = true
	entry := captions.Entry{ID: "c", Start: 0, End: 2, Text: "Shared glyphs"}

	ref, err := New(testW, testH, registry, Options{ReferenceWidth: testW})
	if err != nil {
		t.Fatal(err)
	}
	want := ref.NewSurface()
	ref.Paint(want, nil, &entry, style, animation.Steady(entry.Text))

	var wg sync.WaitGroup
	mismatches := make(chan int, 2)
	for g := 0; g < 2; g++ {
		c, err := New(testW, testH, registry, Options{ReferenceWidth: testW})
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(c *Compositor) {
			defer wg.Done()
			bad := 0
			for i := 0; i < 20; i++ {
				dst := c.NewSurface()
				c.Paint(dst, nil, &entry, style, animation.Steady(entry.Text))
				if !bytes.Equal(dst.Pix, want.Pix) {
					bad++
				}
			}
			mismatches <- bad
		}(c)
	}
	wg.Wait()
	close(mismatches)

	for bad := range mismatches {
		if bad > 0 {
			t.Errorf("%d of 20 concurrent frames differ from the reference", bad)
		}
	}
}
