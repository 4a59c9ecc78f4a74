// Package compositor paints video frames with a styled caption overlay.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/nfnt/resize"
	"golang.org/x/image/font"

	"github.com/kikiluvv/captionburn/internal/animation"
	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/internal/fonts"
)

// ErrContextUnavailable is returned when no raster surface can be created
var ErrContextUnavailable = errors.New("raster context unavailable")

const (
	// MaxDimension bounds either side of the destination surface
	MaxDimension = 16384

	DefaultReferenceWidth = 1280.0
	DefaultPlateRadius    = 20.0

	paddingX       = 1.5 // horizontal plate padding, in font sizes
	paddingY       = 0.5 // vertical plate padding per side, in font sizes
	strokeWidth    = 0.1 // outline width, in font sizes
	shadowBlur     = 12.0
	shadowOffsetX  = 2
	shadowOffsetY  = 4
	shadowAlpha    = 0.8
	strokeSegments = 16
)

// Options tune the compositor
type Options struct {
	// ReferenceWidth is the output width at which style.FontSize is used as is
	ReferenceWidth float64
	// PlateRadius is the background plate corner radius in output pixels.
	// It does not scale with the output resolution.
	PlateRadius float64
}

// DefaultOptions returns the options the live preview is tuned for
func DefaultOptions() Options {
	return Options{
		ReferenceWidth: DefaultReferenceWidth,
		PlateRadius:    DefaultPlateRadius,
	}
}

// Compositor draws one destination frame at a time. It keeps scratch layers
// between calls and is not safe for concurrent use.
type Compositor struct {
	width  int
	height int
	faces  *fonts.Cache
	opts   Options

	layer  *image.RGBA
	shadow *image.RGBA
}

// New creates a compositor for a width x height destination
func New(width, height int, registry *fonts.Registry, opts Options) (*Compositor, error) {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return nil, fmt.Errorf("%w: invalid surface size %dx%d", ErrContextUnavailable, width, height)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: no font registry", ErrContextUnavailable)
	}
	if opts.ReferenceWidth <= 0 {
		opts.ReferenceWidth = DefaultReferenceWidth
	}
	if opts.PlateRadius < 0 {
		opts.PlateRadius = DefaultPlateRadius
	}

	bounds := image.Rect(0, 0, width, height)
	return &Compositor{
		width:  width,
		height: height,
		faces:  registry.NewCache(),
		opts:   opts,
		layer:  image.NewRGBA(bounds),
		shadow: image.NewRGBA(bounds),
	}, nil
}

// Size returns the destination dimensions
func (c *Compositor) Size() (int, int) {
	return c.width, c.height
}

// NewSurface allocates a destination frame matching the compositor
func (c *Compositor) NewSurface() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, c.width, c.height))
}

// PaintAt resolves the caption active at t, computes its transform and paints
// the frame. It reports the entry that was drawn, if any.
func (c *Compositor) PaintAt(dst *image.RGBA, frame image.Image, entries []captions.Entry, style captions.Style, t float64) (captions.Entry, bool) {
	entry, ok := captions.Resolve(entries, t)
	if !ok {
		c.Paint(dst, frame, nil, style, animation.Params{})
		return captions.Entry{}, false
	}

	params := animation.Compute(style.Animation, t-entry.Start, entry.Duration(), entry.Text)
	c.Paint(dst, frame, &entry, style, params)
	return entry, true
}

// Paint draws frame stretched over dst and, when entry is non-nil, the caption
// transformed by p. Nothing set up for the caption outlives the call.
func (c *Compositor) Paint(dst *image.RGBA, frame image.Image, entry *captions.Entry, style captions.Style, p animation.Params) {
	c.paintBackground(dst, frame)
	if entry == nil {
		return
	}
	c.paintCaption(dst, style, p)
}

func (c *Compositor) paintBackground(dst *image.RGBA, frame image.Image) {
	dc := gg.NewContextForRGBA(dst)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	if frame == nil {
		return
	}
	fb := frame.Bounds()
	if fb.Dx() != c.width || fb.Dy() != c.height {
		frame = resize.Resize(uint(c.width), uint(c.height), frame, resize.Bilinear)
		fb = frame.Bounds()
	}
	draw.Draw(dst, dst.Bounds(), frame, fb.Min, draw.Over)
}

// geometry is the caption layout in local (translated, unscaled) units
type geometry struct {
	text     string
	fontSize float64
	textW    float64
	plateW   float64
	plateH   float64
	stroke   float64
	cx, cy   float64
	scale    float64
}

func (c *Compositor) fontSize(style captions.Style) float64 {
	return style.FontSize * (float64(c.width) / c.opts.ReferenceWidth)
}

func (c *Compositor) layout(style captions.Style, p animation.Params, measure *gg.Context) geometry {
	fontSize := c.fontSize(style)
	text := flatten(p.Text)
	textW, _ := measure.MeasureString(text)

	scale := p.Scale
	if scale <= 0 {
		scale = 1
	}
	return geometry{
		text:     text,
		fontSize: fontSize,
		textW:    textW,
		plateW:   textW + fontSize*paddingX,
		plateH:   fontSize + 2*fontSize*paddingY,
		stroke:   fontSize * strokeWidth,
		cx:       float64(c.width) / 2,
		cy:       float64(c.height)*style.Position.Fraction() + p.OffsetY,
		scale:    scale,
	}
}

// bounds returns the device-space rectangle the caption can touch, grown by pad
func (g geometry) bounds(pad float64) image.Rectangle {
	hw := (g.plateW/2+g.stroke)*g.scale + pad
	hh := (math.Max(g.plateH, g.fontSize*2)/2+g.stroke)*g.scale + pad
	return image.Rect(
		int(math.Floor(g.cx-hw)), int(math.Floor(g.cy-hh)),
		int(math.Ceil(g.cx+hw)), int(math.Ceil(g.cy+hh)),
	)
}

// revealSpan returns the device-space columns a swipe leaves visible. The
// reveal runs across the caption box, starting at its left edge; the fraction
// is of the box width (plate plus stroke), not of the destination width.
func (g geometry) revealSpan(reveal float64) (int, int) {
	reveal = math.Max(0, math.Min(1, reveal))
	left := -g.plateW/2 - g.stroke
	width := reveal * (g.plateW + 2*g.stroke)
	x0 := g.cx + left*g.scale
	x1 := x0 + width*g.scale
	return int(math.Round(x0)), int(math.Round(x1))
}

func (c *Compositor) paintCaption(dst *image.RGBA, style captions.Style, p animation.Params) {
	if p.Opacity <= 0 {
		return
	}

	face := c.faces.Face(style.FontFamily, c.fontSize(style))
	clear(c.layer.Pix)
	lc := gg.NewContextForRGBA(c.layer)
	lc.SetFontFace(face)
	g := c.layout(style, p, lc)

	area := g.bounds(3*p.Blur + 3*shadowBlur).Intersect(c.layer.Bounds())
	if area.Empty() {
		return
	}

	lc.Translate(g.cx, g.cy)
	lc.Scale(g.scale, g.scale)

	if style.HasBackground() && g.text != "" {
		if bg, err := captions.ParseColor(style.BackgroundColor); err == nil {
			r := math.Min(c.opts.PlateRadius, math.Min(g.plateW, g.plateH)/2)
			lc.SetColor(bg)
			lc.DrawRoundedRectangle(-g.plateW/2, -g.plateH/2, g.plateW, g.plateH, r)
			lc.Fill()
		}
	}

	if g.text != "" {
		if style.Outline {
			c.paintShadow(area, face, g)
			lc.SetRGB(0, 0, 0)
			strokeText(lc, g.text, g.stroke)
		}
		fill, err := captions.ParseColor(style.TextColor)
		if err != nil {
			fill = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
		}
		lc.SetColor(fill)
		lc.DrawStringAnchored(g.text, 0, 0, 0.5, 0.5)
	}

	if style.Animation == captions.AnimationSwipe {
		x0, x1 := g.revealSpan(p.Reveal)
		clipColumns(c.layer, area, x0, x1)
	}

	var src image.Image = c.layer
	srcPt := area.Min
	if p.Blur > 0 {
		src = imaging.Blur(c.layer.SubImage(area), p.Blur)
		srcPt = src.Bounds().Min
	}

	alpha := uint8(math.Round(p.Opacity * 255))
	mask := image.NewUniform(color.Alpha{A: alpha})
	draw.DrawMask(dst, area, src, srcPt, mask, image.Point{}, draw.Over)
}

// paintShadow draws the blurred drop shadow of the caption text onto the layer
func (c *Compositor) paintShadow(area image.Rectangle, face font.Face, g geometry) {
	clear(c.shadow.Pix)
	sc := gg.NewContextForRGBA(c.shadow)
	sc.SetFontFace(face)
	sc.Translate(g.cx, g.cy)
	sc.Scale(g.scale, g.scale)
	sc.SetRGBA(0, 0, 0, shadowAlpha)
	strokeText(sc, g.text, g.stroke)
	sc.DrawStringAnchored(g.text, 0, 0, 0.5, 0.5)

	blurred := imaging.Blur(c.shadow.SubImage(area), shadowBlur/2)
	target := area.Add(image.Pt(shadowOffsetX, shadowOffsetY)).Intersect(c.layer.Bounds())
	draw.Draw(c.layer, target, blurred, image.Point{}, draw.Over)
}

// strokeText approximates a centered outline of width w by stamping the text
// around a circle of radius w/2.
func strokeText(dc *gg.Context, text string, w float64) {
	r := w / 2
	if r <= 0 {
		return
	}
	for i := 0; i < strokeSegments; i++ {
		a := 2 * math.Pi * float64(i) / strokeSegments
		dc.DrawStringAnchored(text, r*math.Cos(a), r*math.Sin(a), 0.5, 0.5)
	}
}

// clipColumns clears every pixel of img inside area that lies outside [x0, x1)
func clipColumns(img *image.RGBA, area image.Rectangle, x0, x1 int) {
	for y := area.Min.Y; y < area.Max.Y; y++ {
		row := img.Pix[img.PixOffset(area.Min.X, y):img.PixOffset(area.Max.X, y)]
		for x := area.Min.X; x < area.Max.X; x++ {
			if x >= x0 && x < x1 {
				continue
			}
			i := (x - area.Min.X) * 4
			row[i], row[i+1], row[i+2], row[i+3] = 0, 0, 0, 0
		}
	}
}

// flatten joins caption lines with spaces; captions render on a single line
func flatten(text string) string {
	if !strings.ContainsAny(text, "\r\n") {
		return text
	}
	return strings.Join(strings.Fields(text), " ")
}
