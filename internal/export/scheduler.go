package export

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kikiluvv/captionburn/internal/media"
)

// State is a FrameScheduler state
type State int

const (
	StateIdle State = iota
	StateSeeked
	StateCapture
	StateAdvanceAndSeek
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeked:
		return "seeked"
	case StateCapture:
		return "capture"
	case StateAdvanceAndSeek:
		return "advance-and-seek"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FrameCount is the number of frames painted for a duration-second timeline:
// ceil(duration*fps), with float noise below a microframe ignored
func FrameCount(duration, fps float64) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Ceil(math.Round(duration*fps*1e6) / 1e6))
}

// FrameTime is the timeline position of frame i. Computed from the index so
// error never accumulates across frames.
func FrameTime(i int, fps float64) float64 {
	return float64(i) / fps
}

// CaptureFunc paints and records frame i at timeline position t; the source
// has already completed its seek to t
type CaptureFunc func(i int, t float64) error

// FinalizeFunc stops the recorder and waits for its output
type FinalizeFunc func(ctx context.Context) error

// Scheduler drives a source through every frame of a timeline. Its only
// suspension points are the source's seek completions and the finalize
// call.
type Scheduler struct {
	source      media.Source
	fps         float64
	seekTimeout time.Duration

	// OnState observes every transition
	OnState func(State)
	// OnProgress is called after each captured frame
	OnProgress func(frame, total int)

	mu    sync.Mutex
	state State
}

// NewScheduler creates an idle scheduler
func NewScheduler(source media.Source, fps float64, seekTimeout time.Duration) *Scheduler {
	return &Scheduler{
		source:      source,
		fps:         fps,
		seekTimeout: seekTimeout,
	}
}

// State returns the current state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) enter(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.OnState != nil {
		s.OnState(state)
	}
}

// Run walks Idle → Seeked → {Capture → AdvanceAndSeek}* → Draining → Stopped.
// Frame i is captured at i/fps for i < FrameCount(duration, fps), so no
// captured timestamp exceeds duration. It always ends in Stopped.
func (s *Scheduler) Run(ctx context.Context, duration float64, capture CaptureFunc, finalize FinalizeFunc) error {
	if s.fps <= 0 {
		return fmt.Errorf("FPS must be positive")
	}
	total := FrameCount(duration, s.fps)
	if total == 0 {
		return Wrap(ErrSource, "timeline", fmt.Errorf("duration %v has no frames", duration))
	}

	s.enter(StateIdle)
	defer s.enter(StateStopped)

	if err := s.seek(ctx, 0); err != nil {
		return err
	}
	s.enter(StateSeeked)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return Wrap(ErrCanceled, "", err)
		}

		s.enter(StateCapture)
		if err := capture(i, FrameTime(i, s.fps)); err != nil {
			return err
		}
		if s.OnProgress != nil {
			s.OnProgress(i+1, total)
		}

		if i+1 < total {
			s.enter(StateAdvanceAndSeek)
			if err := s.seek(ctx, FrameTime(i+1, s.fps)); err != nil {
				return err
			}
		}
	}

	s.enter(StateDraining)
	return finalize(ctx)
}

// seek asks the source for t and waits for its completion, bounded by the
// seek timeout and ctx
func (s *Scheduler) seek(ctx context.Context, t float64) error {
	done := s.source.Seek(t)

	var timeout <-chan time.Time
	if s.seekTimeout > 0 {
		timer := time.NewTimer(s.seekTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			return Wrap(ErrSource, fmt.Sprintf("seek to %.3fs", t), err)
		}
		return nil
	case <-timeout:
		return Wrap(ErrStalledExport, fmt.Sprintf("seek to %.3fs after %v", t, s.seekTimeout), nil)
	case <-ctx.Done():
		return Wrap(ErrCanceled, "", ctx.Err())
	}
}

// canceled reports whether err came from ctx rather than from a component
func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
