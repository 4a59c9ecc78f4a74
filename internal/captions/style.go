package captions

import (
	"fmt"
	"strings"
)

// Animation names an entrance/reveal effect
type Animation string

const (
	AnimationNone    Animation = "none"
	AnimationFade    Animation = "fade"
	AnimationSlideUp Animation = "slide-up"
	AnimationZoomIn  Animation = "zoom-in"
	AnimationTyping  Animation = "typing"
	AnimationBounce  Animation = "bounce"
	AnimationBlur    Animation = "blur"
	AnimationSwipe   Animation = "swipe"
)

// Animations lists every supported animation in display order
var Animations = []Animation{
	AnimationNone,
	AnimationFade,
	AnimationSlideUp,
	AnimationZoomIn,
	AnimationTyping,
	AnimationBounce,
	AnimationBlur,
	AnimationSwipe,
}

// AnimationNames returns the names of Animations in display order
func AnimationNames() []string {
	names := make([]string, len(Animations))
	for i, a := range Animations {
		names[i] = string(a)
	}
	return names
}

// ParseAnimation parses an animation name. The empty string maps to none.
func ParseAnimation(s string) (Animation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return AnimationNone, nil
	}
	for _, a := range Animations {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown animation %q", s)
}

func (a Animation) String() string { return string(a) }

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Animation) UnmarshalText(b []byte) error {
	parsed, err := ParseAnimation(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Position is the vertical anchor of the caption
type Position string

const (
	PositionTop    Position = "top"
	PositionMiddle Position = "middle"
	PositionBottom Position = "bottom"
)

// ParsePosition parses a vertical anchor. The empty string maps to bottom.
func ParsePosition(s string) (Position, error) {
	switch Position(strings.ToLower(strings.TrimSpace(s))) {
	case "", PositionBottom:
		return PositionBottom, nil
	case PositionTop:
		return PositionTop, nil
	case PositionMiddle:
		return PositionMiddle, nil
	}
	return "", fmt.Errorf("unknown position %q", s)
}

func (p Position) String() string { return string(p) }

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Position) UnmarshalText(b []byte) error {
	parsed, err := ParsePosition(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Fraction returns the vertical anchor as a fraction of frame height
func (p Position) Fraction() float64 {
	switch p {
	case PositionTop:
		return 0.15
	case PositionMiddle:
		return 0.5
	default:
		return 0.85
	}
}

// Style is the caption look for a whole export run. It is passed by value.
type Style struct {
	FontFamily      string    `json:"fontFamily" yaml:"font_family"`
	FontSize        float64   `json:"fontSize" yaml:"font_size"`
	TextColor       string    `json:"textColor" yaml:"text_color"`
	BackgroundColor string    `json:"backgroundColor" yaml:"background_color"`
	Position        Position  `json:"position" yaml:"position"`
	Outline         bool      `json:"outline" yaml:"outline"`
	Animation       Animation `json:"animation" yaml:"animation"`
}

// DefaultStyle returns the editor's starting style
func DefaultStyle() Style {
	return Style{
		FontFamily:      "'Inter', sans-serif",
		FontSize:        28,
		TextColor:       "#ffffff",
		BackgroundColor: "rgba(0, 0, 0, 0.7)",
		Position:        PositionBottom,
		Outline:         true,
		Animation:       AnimationFade,
	}
}

// HasBackground reports whether a background plate should be drawn
func (s Style) HasBackground() bool {
	bg := strings.TrimSpace(s.BackgroundColor)
	return bg != "" && !strings.EqualFold(bg, "transparent")
}

// Validate checks the style fields that the renderer depends on
func (s Style) Validate() error {
	if s.FontSize <= 0 {
		return fmt.Errorf("font size must be positive, got %v", s.FontSize)
	}
	if _, err := ParseColor(s.TextColor); err != nil {
		return fmt.Errorf("text color: %w", err)
	}
	if s.HasBackground() {
		if _, err := ParseColor(s.BackgroundColor); err != nil {
			return fmt.Errorf("background color: %w", err)
		}
	}
	if _, err := ParsePosition(string(s.Position)); err != nil {
		return err
	}
	if _, err := ParseAnimation(string(s.Animation)); err != nil {
		return err
	}
	return nil
}
