package captions

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/kikiluvv/captionburn/pkg/util"
)

// WriteSRT writes entries as a SubRip document. Entries are sorted by start
// time first and numbered from 1 in that order; each cue is followed by a
// blank line.
func WriteSRT(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for i, e := range Sorted(entries) {
		_, err := fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n",
			i+1,
			util.FormatSRTTimestamp(e.Start),
			util.FormatSRTTimestamp(e.End),
			e.Text,
		)
		if err != nil {
			return fmt.Errorf("write cue %d: %w", i+1, err)
		}
	}
	return bw.Flush()
}

// FormatSRT renders entries as a SubRip string
func FormatSRT(entries []Entry) string {
	var sb strings.Builder
	_ = WriteSRT(&sb, entries)
	return sb.String()
}
