package export

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/kikiluvv/captionburn/pkg/util"
)

// Artifact is a finished export. The session keeps no reference to it.
type Artifact struct {
	Data     []byte
	Filename string
	MIMEType string
	Frames   int
	Duration float64
}

// ArtifactName is the download name for an export finished at t
func ArtifactName(t time.Time, ext string) string {
	return fmt.Sprintf("studio_export_%d.%s", t.UnixMilli(), ext)
}

// WriteTo writes the encoded video to w
func (a *Artifact) WriteTo(w io.Writer) (int64, error) {
	if a.Data == nil {
		return 0, fmt.Errorf("artifact %s has been released", a.Filename)
	}
	return bytes.NewReader(a.Data).WriteTo(w)
}

// Save writes the artifact under dir with its own filename. The file appears
// complete or not at all.
func (a *Artifact) Save(dir string) (string, error) {
	if a.Data == nil {
		return "", fmt.Errorf("artifact %s has been released", a.Filename)
	}
	path := filepath.Join(dir, a.Filename)
	if err := util.WriteFileAtomic(path, a.Data); err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}
	return path, nil
}

// Release drops the encoded data
func (a *Artifact) Release() {
	a.Data = nil
}
