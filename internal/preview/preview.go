// Package preview describes the live caption overlay as CSS-style
// properties. It shares the animation engine with the compositor, so what
// the editor shows is what the export paints.
package preview

import (
	"fmt"
	"strings"

	"github.com/kikiluvv/captionburn/internal/animation"
	"github.com/kikiluvv/captionburn/internal/captions"
)

// textShadow is the soft shadow the live overlay uses for outlined text
const textShadow = "0 4px 12px rgba(0,0,0,0.6)"

// Overlay is the state of the caption overlay at one instant
type Overlay struct {
	Time     float64 `json:"time"`
	Visible  bool    `json:"visible"`
	EntryID  string  `json:"entryId,omitempty"`
	Text     string  `json:"text"`
	Cursor   bool    `json:"cursor"`
	Opacity  float64 `json:"opacity"`
	OffsetY  float64 `json:"offsetY"`
	Scale    float64 `json:"scale"`
	Blur     float64 `json:"blur"`
	Reveal   float64 `json:"reveal"`
	Position string  `json:"position"`
}

// Describe resolves the caption at t and returns its overlay state
func Describe(entries []captions.Entry, style captions.Style, t float64) Overlay {
	o := Overlay{Time: t, Position: string(style.Position)}
	if o.Position == "" {
		o.Position = string(captions.PositionBottom)
	}

	entry, ok := captions.Resolve(entries, t)
	if !ok {
		return o
	}

	elapsed := t - entry.Start
	p := animation.Compute(style.Animation, elapsed, entry.Duration(), entry.Text)
	o.Visible = true
	o.EntryID = entry.ID
	o.Text = p.Text
	o.Opacity = p.Opacity
	o.OffsetY = p.OffsetY
	o.Scale = p.Scale
	o.Blur = p.Blur
	o.Reveal = p.Reveal
	o.Cursor = style.Animation == captions.AnimationTyping && animation.Typing(elapsed, entry.Duration())
	return o
}

// Timeline samples Describe from start to end (inclusive) at fps
func Timeline(entries []captions.Entry, style captions.Style, start, end, fps float64) []Overlay {
	if fps <= 0 || end < start {
		return nil
	}
	var out []Overlay
	for i := 0; ; i++ {
		t := start + float64(i)/fps
		if t > end+1e-9 {
			break
		}
		out = append(out, Describe(entries, style, t))
	}
	return out
}

// CSS renders the overlay as an inline style declaration. Transforms that
// are at rest are omitted.
func (o Overlay) CSS(style captions.Style) string {
	if !o.Visible {
		return "display: none"
	}

	decls := []string{
		fmt.Sprintf("font-family: %s", style.FontFamily),
		fmt.Sprintf("font-size: %gpx", style.FontSize),
		fmt.Sprintf("color: %s", style.TextColor),
		fmt.Sprintf("background-color: %s", style.BackgroundColor),
		fmt.Sprintf("opacity: %.3f", o.Opacity),
	}
	if style.Outline {
		decls = append(decls, "text-shadow: "+textShadow)
	}

	var transforms []string
	if o.OffsetY != 0 {
		transforms = append(transforms, fmt.Sprintf("translateY(%.2fpx)", o.OffsetY))
	}
	if o.Scale != 1 && o.Scale != 0 {
		transforms = append(transforms, fmt.Sprintf("scale(%.4f)", o.Scale))
	}
	if len(transforms) > 0 {
		decls = append(decls, "transform: "+strings.Join(transforms, " "))
	}
	if o.Blur > 0 {
		decls = append(decls, fmt.Sprintf("filter: blur(%.2fpx)", o.Blur))
	}
	if o.Reveal < 1 {
		decls = append(decls, fmt.Sprintf("clip-path: inset(0 %.2f%% 0 0)", (1-o.Reveal)*100))
	}
	return strings.Join(decls, "; ")
}

// Summary is a one-line description for status displays
func (o Overlay) Summary() string {
	if !o.Visible {
		return "No caption"
	}
	text := o.Text
	if o.Cursor {
		text += "|"
	}
	return fmt.Sprintf("%s  [%s, opacity %.2f]", text, o.EntryID, o.Opacity)
}
