package captions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/asticode/go-astisub"
	"github.com/google/uuid"

	"github.com/kikiluvv/captionburn/pkg/util"
)

// LoadFile reads captions from disk. JSON files use the editor's native
// format; every other extension astisub understands (.srt, .vtt, .ass, .ssa,
// .stl, .ttml) is converted, with fresh ids assigned to each cue.
func LoadFile(path string) ([]Entry, error) {
	var (
		entries []Entry
		err     error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		entries, err = loadJSON(path)
	default:
		entries, err = loadSubtitles(path)
	}
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = NewID()
		}
	}
	if err := ValidateAll(entries); err != nil {
		return nil, fmt.Errorf("invalid captions in %s: %w", path, err)
	}
	return entries, nil
}

// SaveJSON writes entries in the editor's JSON format
func SaveJSON(path string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode captions: %w", err)
	}
	return util.WriteFileAtomic(path, append(data, '\n'))
}

// NewID returns a fresh unique caption id
func NewID() string {
	return uuid.NewString()
}

func loadJSON(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read captions: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse captions %s: %w", path, err)
	}
	return entries, nil
}

func loadSubtitles(path string) ([]Entry, error) {
	subs, err := astisub.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subtitle track: %w", err)
	}

	entries := make([]Entry, 0, len(subs.Items))
	for _, item := range subs.Items {
		lines := make([]string, 0, len(item.Lines))
		for _, l := range item.Lines {
			lines = append(lines, l.String())
		}
		entries = append(entries, Entry{
			ID:    NewID(),
			Start: util.Seconds(item.StartAt),
			End:   util.Seconds(item.EndAt),
			Text:  strings.Join(lines, "\n"),
		})
	}
	return entries, nil
}
