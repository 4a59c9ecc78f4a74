// Package animation computes per-frame caption transforms.
//
// Compute is the only place the entrance math lives. The live preview
// descriptor and the export compositor both call it, so a caption looks the
// same in the editor and in the burned file.
package animation

import (
	"math"

	"github.com/kikiluvv/captionburn/internal/captions"
)

// Intro windows in seconds
const (
	DefaultWindow = 0.15
	FadeEdge      = 0.2
	SlideUpWindow = 0.3
	ZoomInWindow  = 0.15
	BounceWindow  = 0.4
	BlurWindow    = 0.5
	SwipeWindow   = 0.8

	// TypingShare is the fraction of the entry duration spent typing
	TypingShare = 0.6

	// SlideDistance is the starting vertical offset of slide-up, in pixels
	SlideDistance = 40.0
	// MaxBlur is the starting blur radius of the blur animation, in pixels
	MaxBlur = 20.0
)

// quanta per second; elapsed time is snapped to whole microseconds so that
// frame timestamps like 36/30 - 1.0 land on the boundary they name.
const quanta = 1e6

// Params is the transform for one caption in one frame
type Params struct {
	Opacity float64 // global alpha in [0,1]
	OffsetY float64 // pixels added to the anchor y
	Scale   float64 // uniform scale around the caption center
	Blur    float64 // gaussian blur radius in pixels, 0 for none
	Reveal  float64 // left-to-right horizontal reveal fraction in [0,1]
	Text    string  // visible substring of the caption text
}

// Steady returns the resting transform for text
func Steady(text string) Params {
	return Params{Opacity: 1, Scale: 1, Reveal: 1, Text: text}
}

// Window returns the intro window of kind in seconds. Typing has no fixed
// window because it depends on the entry duration; it returns 0.
func Window(kind captions.Animation) float64 {
	switch kind {
	case captions.AnimationFade:
		return FadeEdge
	case captions.AnimationSlideUp:
		return SlideUpWindow
	case captions.AnimationZoomIn:
		return ZoomInWindow
	case captions.AnimationTyping:
		return 0
	case captions.AnimationBounce:
		return BounceWindow
	case captions.AnimationBlur:
		return BlurWindow
	case captions.AnimationSwipe:
		return SwipeWindow
	default:
		return DefaultWindow
	}
}

// Compute maps an animation kind and the time since the entry started to a
// transform. duration is End - Start of the entry. It performs no I/O and
// returns identical output for identical input.
func Compute(kind captions.Animation, elapsed, duration float64, text string) Params {
	elapsed = quantize(math.Max(0, elapsed))
	duration = quantize(duration)
	p := Steady(text)

	switch kind {
	case captions.AnimationFade:
		remaining := quantize(duration - elapsed)
		if elapsed < FadeEdge {
			p.Opacity = elapsed / FadeEdge
		} else if remaining < FadeEdge {
			p.Opacity = remaining / FadeEdge
		}

	case captions.AnimationSlideUp:
		t := progress(elapsed, SlideUpWindow)
		p.Opacity = t
		p.OffsetY = (1 - t) * SlideDistance

	case captions.AnimationZoomIn:
		t := progress(elapsed, ZoomInWindow)
		p.Opacity = t
		p.Scale = 0.85 + 0.15*t

	case captions.AnimationTyping:
		p.Text = typed(text, elapsed, duration)

	case captions.AnimationBounce:
		t := progress(elapsed, BounceWindow)
		p.Opacity = math.Min(1, 2*t)
		p.Scale = 1 + 0.2*math.Sin(1.5*math.Pi*t)*(1-t)

	case captions.AnimationBlur:
		t := progress(elapsed, BlurWindow)
		p.Opacity = t
		p.Scale = 0.95 + 0.05*t
		p.Blur = MaxBlur * (1 - t)

	case captions.AnimationSwipe:
		p.Reveal = progress(elapsed, SwipeWindow)

	default:
		p.Opacity = progress(elapsed, DefaultWindow)
	}

	p.Opacity = clamp01(p.Opacity)
	return p
}

// Typing reports whether a typing caption is still revealing characters
func Typing(elapsed, duration float64) bool {
	return quantize(elapsed) < quantize(duration*TypingShare)
}

func typed(text string, elapsed, duration float64) string {
	frac := 1.0
	if span := duration * TypingShare; span > 0 {
		frac = math.Min(1, elapsed/span)
	}
	runes := []rune(text)
	n := int(math.Floor(float64(len(runes)) * frac))
	return string(runes[:n])
}

func progress(elapsed, window float64) float64 {
	if window <= 0 {
		return 1
	}
	return math.Min(1, elapsed/window)
}

func quantize(v float64) float64 {
	return math.Round(v*quanta) / quanta
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
