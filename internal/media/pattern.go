package media

import (
	"image"
	"image/color"
	"math"
	"sync"
)

// Pattern is an in-memory Source whose frames are a flat color derived from
// the position. Seeks complete immediately. It stands in for a decoded file
// in tests and dry runs.
type Pattern struct {
	id       string
	width    int
	height   int
	duration float64

	mu       sync.Mutex
	position float64
	paused   bool
	frame    *image.RGBA
}

// NewPattern returns a paused pattern source at position 0
func NewPattern(id string, width, height int, duration float64) *Pattern {
	p := &Pattern{
		id:       id,
		width:    width,
		height:   height,
		duration: duration,
		paused:   true,
		frame:    image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	p.render(0)
	return p
}

// PatternColor is the flat color Pattern paints at time t
func PatternColor(t float64) color.RGBA {
	step := uint8(int(math.Round(t*30)) % 200)
	return color.RGBA{R: step, G: 40, B: 200 - step, A: 255}
}

func (p *Pattern) render(t float64) {
	c := PatternColor(t)
	pix := p.frame.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
	}
}

func (p *Pattern) ID() string         { return p.id }
func (p *Pattern) Duration() float64  { return p.duration }
func (p *Pattern) Size() (int, int)   { return p.width, p.height }
func (p *Pattern) Frame() image.Image { return p.frame }

func (p *Pattern) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Pattern) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Play clears the paused flag; the pattern has no playback clock
func (p *Pattern) Play() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

func (p *Pattern) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *Pattern) Seek(t float64) <-chan error {
	t = math.Max(0, math.Min(t, p.duration))
	p.mu.Lock()
	p.position = t
	p.render(t)
	p.mu.Unlock()
	return completed(nil)
}
