package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kikiluvv/captionburn/internal/compositor"
)

// Failure kinds. Every one of them aborts the whole export; none is retried.
var (
	ErrContextUnavailable = compositor.ErrContextUnavailable
	ErrRecorderInit       = errors.New("recorder initialization failed")
	ErrStalledExport      = errors.New("seek did not complete")
	ErrCanceled           = errors.New("export canceled")
	ErrSessionBusy        = errors.New("export already running for source")
	ErrRecording          = errors.New("recording failed")
	ErrSource             = errors.New("source error")
)

// Wrap tags err with a failure kind and the operation that produced it
func Wrap(kind error, operation string, err error) error {
	if kind == nil {
		kind = ErrRecording
	}
	operation = strings.TrimSpace(operation)
	switch {
	case err != nil && operation != "":
		return fmt.Errorf("%w: %s: %w", kind, operation, err)
	case err != nil:
		return fmt.Errorf("%w: %w", kind, err)
	case operation != "":
		return fmt.Errorf("%w: %s", kind, operation)
	default:
		return kind
	}
}

// Reason turns an export error into the message shown to the user
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrContextUnavailable):
		return "The drawing surface for the export could not be created."
	case errors.Is(err, ErrRecorderInit):
		return "This system cannot record the requested video format."
	case errors.Is(err, ErrStalledExport):
		return "The video stopped responding while seeking; the export was aborted."
	case errors.Is(err, ErrCanceled):
		return "The export was canceled."
	case errors.Is(err, ErrSessionBusy):
		return "Another export of this video is already running."
	case errors.Is(err, ErrSource):
		return "The source video could not be read."
	case errors.Is(err, ErrRecording):
		return "Encoding the video failed."
	default:
		return "The export failed: " + err.Error()
	}
}
