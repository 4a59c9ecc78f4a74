// Package fonts maps CSS-style font family lists to parsed TrueType fonts.
package fonts

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomonobold"
)

// Built-in family names
const (
	SansSerif = "sans-serif"
	Serif     = "serif"
	Monospace = "monospace"
)

type faceKey struct {
	font *truetype.Font
	size int // 26.6 fixed point
}

// Registry manages available font families. It is safe for concurrent use;
// the faces it creates are not, since each carries its own glyph cache.
type Registry struct {
	mu       sync.Mutex
	fonts    map[string]*truetype.Font
	fallback *truetype.Font
}

// NewRegistry creates a registry preloaded with the Go fonts. Captions are
// drawn bold, so the generic families map to the bold cuts.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		fonts: make(map[string]*truetype.Font),
	}

	if err := r.RegisterTTF(SansSerif, gobold.TTF); err != nil {
		return nil, err
	}
	if err := r.RegisterTTF(Monospace, gomonobold.TTF); err != nil {
		return nil, err
	}
	r.fonts[Serif] = r.fonts[SansSerif]
	r.fallback = r.fonts[SansSerif]
	return r, nil
}

// Register loads a TrueType file from disk under the given family name
func (r *Registry) Register(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read font %s: %w", path, err)
	}
	return r.RegisterTTF(name, data)
}

// RegisterTTF parses TrueType data and adds it under the given family name
func (r *Registry) RegisterTTF(name string, ttf []byte) error {
	f, err := truetype.Parse(ttf)
	if err != nil {
		return fmt.Errorf("parse font %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fonts[normalize(name)] = f
	return nil
}

// Lookup resolves a CSS family list such as "'Inter', sans-serif". The first
// registered family wins; unknown lists fall back to the sans-serif font.
func (r *Registry) Lookup(families string) *truetype.Font {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range strings.Split(families, ",") {
		if f, ok := r.fonts[normalize(name)]; ok {
			return f
		}
	}
	return r.fallback
}

// Face returns a new face for the family list at the given pixel size. The
// caller owns it and must not share it between goroutines.
func (r *Registry) Face(families string, size float64) font.Face {
	return newFace(r.Lookup(families), faceSize(size))
}

// NewCache returns an empty face cache backed by r
func (r *Registry) NewCache() *Cache {
	return &Cache{registry: r, faces: make(map[faceKey]font.Face)}
}

// Cache reuses faces across frames for a single drawing goroutine. It is not
// safe for concurrent use; every renderer keeps its own.
type Cache struct {
	registry *Registry
	faces    map[faceKey]font.Face
}

// Face returns the cached face for the family list at the given pixel size
func (c *Cache) Face(families string, size float64) font.Face {
	key := faceKey{font: c.registry.Lookup(families), size: faceSize(size)}
	if face, ok := c.faces[key]; ok {
		return face
	}
	face := newFace(key.font, key.size)
	c.faces[key] = face
	return face
}

func faceSize(size float64) int {
	return int(math.Round(size * 64))
}

func newFace(f *truetype.Font, size int) font.Face {
	return truetype.NewFace(f, &truetype.Options{
		Size:    float64(size) / 64,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// List returns all registered family names
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.fonts))
	for name := range r.fonts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, `'"`)
	return strings.ToLower(strings.TrimSpace(name))
}
