// Package transcribe turns a video's speech into timed captions through a
// remote model.
package transcribe

import (
	"context"
	"errors"

	"github.com/kikiluvv/captionburn/internal/captions"
)

// ErrProcessingFailure is the only failure callers see. The cause is kept
// for logs but carries no structure callers should depend on.
var ErrProcessingFailure = errors.New("AI processing failed. Check your video file or connection")

// Engine transcribes the audio of a video and translates it into language.
// Every returned entry has a fresh unique id.
type Engine interface {
	Transcribe(ctx context.Context, video []byte, mimeType, language string) ([]captions.Entry, error)
}
