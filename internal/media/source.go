package media

import (
	"image"
)

// Source is a seekable video the exporter and preview paint from. Seek
// changes Position immediately; the returned channel delivers exactly one
// value once the frame for the new position is readable through Frame.
type Source interface {
	ID() string
	Position() float64
	Seek(t float64) <-chan error
	Duration() float64
	Paused() bool
	Play()
	Pause()
	Size() (width, height int)
	Frame() image.Image
}

// PlaybackState is the part of a source's state an export must put back
type PlaybackState struct {
	Position float64
	Paused   bool
}

// Snapshot records the source's position and paused flag
func Snapshot(src Source) PlaybackState {
	return PlaybackState{Position: src.Position(), Paused: src.Paused()}
}

// Restore seeks back to the recorded position and reinstates the paused
// flag. The seek is started but not awaited.
func Restore(src Source, state PlaybackState) <-chan error {
	done := src.Seek(state.Position)
	if state.Paused {
		src.Pause()
	} else {
		src.Play()
	}
	return done
}

func completed(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}
