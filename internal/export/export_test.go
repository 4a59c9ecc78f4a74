package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fogleman/gg"

	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/internal/compositor"
	"github.com/kikiluvv/captionburn/internal/fonts"
	"github.com/kikiluvv/captionburn/internal/media"
	"github.com/kikiluvv/captionburn/internal/recorder"
)

// fakeSource completes seeks immediately unless told to stall or fail on
// the n-th seek (1-based)
type fakeSource struct {
	mu       sync.Mutex
	w, h     int
	duration float64
	position float64
	paused   bool
	seeks    []float64
	stallAt  int
	failAt   int
	frame    *image.RGBA
}

func newFakeSource(duration float64) *fakeSource {
	return &fakeSource{
		w:        64,
		h:        36,
		duration: duration,
		paused:   true,
		frame:    image.NewRGBA(image.Rect(0, 0, 64, 36)),
	}
}

func (f *fakeSource) ID() string         { return "fake://source" }
func (f *fakeSource) Duration() float64  { return f.duration }
func (f *fakeSource) Size() (int, int)   { return f.w, f.h }
func (f *fakeSource) Frame() image.Image { return f.frame }
func (f *fakeSource) Play()              { f.mu.Lock(); f.paused = false; f.mu.Unlock() }
func (f *fakeSource) Pause()             { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeSource) Paused() bool       { f.mu.Lock(); defer f.mu.Unlock(); return f.paused }
func (f *fakeSource) Position() float64  { f.mu.Lock(); defer f.mu.Unlock(); return f.position }
func (f *fakeSource) seekLog() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.seeks...)
}

func (f *fakeSource) Seek(t float64) <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, t)
	f.position = t
	n := len(f.seeks)

	if n == f.stallAt {
		return make(chan error)
	}
	ch := make(chan error, 1)
	if n == f.failAt {
		ch <- errors.New("decoder crashed")
		return ch
	}
	ch <- nil
	return ch
}

// fakeRecorder counts frames and keeps copies of the ones asked for
type fakeRecorder struct {
	startErr   error
	captureErr error
	keep       map[int]bool

	started bool
	stopped bool
	aborted bool
	frames  int
	kept    map[int]*image.RGBA
}

func (r *fakeRecorder) Start(ctx context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	r.kept = make(map[int]*image.RGBA)
	return nil
}

func (r *fakeRecorder) Capture(frame *image.RGBA) error {
	if r.captureErr != nil {
		return r.captureErr
	}
	if r.keep[r.frames] {
		cp := image.NewRGBA(frame.Bounds())
		copy(cp.Pix, frame.Pix)
		r.kept[r.frames] = cp
	}
	r.frames++
	return nil
}

func (r *fakeRecorder) Stop(ctx context.Context) (*recorder.Recording, error) {
	r.stopped = true
	return &recorder.Recording{
		Chunks:   [][]byte{[]byte("fake"), []byte("webm")},
		MIMEType: "video/webm",
		Frames:   r.frames,
	}, nil
}

func (r *fakeRecorder) Abort()            { r.aborted = true }
func (r *fakeRecorder) Extension() string { return "webm" }
func (r *fakeRecorder) MIMEType() string  { return "video/webm" }

func with(rec *fakeRecorder) Option {
	return WithRecorder(func(recorder.Config) recorder.Recorder { return rec })
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SeekTimeout = 200 * time.Millisecond
	return cfg
}

func TestFrameCount(t *testing.T) {
	cases := []struct {
		duration float64
		want     int
	}{
		{10, 300},
		{1.01, 31},
		{0.1, 3},
		{2.5, 75},
		{1.0 / 30, 1},
		{0, 0},
	}
	for _, c := range cases {
		if got := FrameCount(c.duration, 30); got != c.want {
			t.Errorf("FrameCount(%v, 30) = %d, want %d", c.duration, got, c.want)
		}
	}
}

func TestSchedulerFrameCountAndTimestamps(t *testing.T) {
	for _, duration := range []float64{1.01, 2.5, 0.1, 3.3333} {
		src := newFakeSource(duration)
		sched := NewScheduler(src, 30, time.Second)

		var times []float64
		finalized := false
		err := sched.Run(context.Background(), duration,
			func(i int, t float64) error {
				if i != len(times) {
					return fmt.Errorf("frame %d painted out of order", i)
				}
				times = append(times, t)
				return nil
			},
			func(ctx context.Context) error { finalized = true; return nil })
		if err != nil {
			t.Fatalf("duration %v: Run failed: %v", duration, err)
		}

		want := int(math.Ceil(duration*30 - 1e-9))
		if len(times) != want {
			t.Errorf("duration %v: expected %d frames, got %d", duration, want, len(times))
		}
		for i, ts := range times {
			if ts > duration {
				t.Errorf("duration %v: frame %d at %v exceeds duration", duration, i, ts)
			}
		}
		// one seek per painted frame, each landing on the painted timestamp
		seeks := src.seekLog()
		if len(seeks) != len(times) {
			t.Errorf("duration %v: expected %d seeks, got %d", duration, len(times), len(seeks))
		}
		for i := range seeks {
			if i < len(times) && seeks[i] != times[i] {
				t.Errorf("frame %d painted at %v after seeking to %v", i, times[i], seeks[i])
			}
		}
		if !finalized {
			t.Error("finalize was not called")
		}
		if sched.State() != StateStopped {
			t.Errorf("expected stopped, got %v", sched.State())
		}
	}
}

func TestSchedulerStateSequence(t *testing.T) {
	src := newFakeSource(2.0 / 30)
	sched := NewScheduler(src, 30, time.Second)

	var states []string
	sched.OnState = func(s State) { states = append(states, s.String()) }

	err := sched.Run(context.Background(), src.duration,
		func(int, float64) error { return nil },
		func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := strings.Join(states, ",")
	want := "idle,seeked,capture,advance-and-seek,capture,draining,stopped"
	if got != want {
		t.Errorf("expected %s\ngot      %s", want, got)
	}
}

func TestSchedulerStall(t *testing.T) {
	src := newFakeSource(1)
	src.stallAt = 4
	sched := NewScheduler(src, 30, 50*time.Millisecond)

	frames := 0
	err := sched.Run(context.Background(), 1,
		func(int, float64) error { frames++; return nil },
		func(context.Context) error { return nil })
	if !errors.Is(err, ErrStalledExport) {
		t.Fatalf("expected ErrStalledExport, got %v", err)
	}
	if frames != 3 {
		t.Errorf("expected 3 frames before the stall, got %d", frames)
	}
	if sched.State() != StateStopped {
		t.Errorf("expected stopped, got %v", sched.State())
	}
}

func TestSchedulerCancel(t *testing.T) {
	src := newFakeSource(1)
	src.stallAt = 2
	sched := NewScheduler(src, 30, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := sched.Run(ctx, 1,
		func(int, float64) error { return nil },
		func(context.Context) error { return nil })
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrCanceled wrapping context.Canceled, got %v", err)
	}
}

func TestSchedulerSeekFailure(t *testing.T) {
	src := newFakeSource(1)
	src.failAt = 1
	sched := NewScheduler(src, 30, time.Second)

	err := sched.Run(context.Background(), 1,
		func(int, float64) error { t.Fatal("must not capture"); return nil },
		func(context.Context) error { return nil })
	if !errors.Is(err, ErrSource) {
		t.Fatalf("expected ErrSource, got %v", err)
	}
}

func TestSchedulerRejectsEmptyTimeline(t *testing.T) {
	sched := NewScheduler(newFakeSource(0), 30, time.Second)
	err := sched.Run(context.Background(), 0, nil, nil)
	if !errors.Is(err, ErrSource) {
		t.Fatalf("expected ErrSource, got %v", err)
	}
}

func TestSessionSuccessRestoresPlayback(t *testing.T) {
	src := newFakeSource(1)
	src.position = 0.42
	src.paused = false

	rec := &fakeRecorder{}
	clock := func() time.Time { return time.UnixMilli(1700000000123) }
	session, err := NewSession(src, testConfig(), with(rec), WithClock(clock))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	art, err := session.Run(context.Background(), []captions.Entry{{ID: "a", Start: 0.2, End: 0.8, Text: "hello"}}, captions.DefaultStyle())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if art.Filename != "studio_export_1700000000123.webm" {
		t.Errorf("unexpected filename %q", art.Filename)
	}
	if string(art.Data) != "fakewebm" {
		t.Errorf("expected assembled chunks, got %q", art.Data)
	}
	if art.Frames != 30 || rec.frames != 30 {
		t.Errorf("expected 30 frames, got artifact=%d recorder=%d", art.Frames, rec.frames)
	}
	if rec.aborted {
		t.Error("recorder must not be aborted on success")
	}

	if src.Position() != 0.42 {
		t.Errorf("expected position 0.42 restored, got %v", src.Position())
	}
	if src.Paused() {
		t.Error("expected playing state restored")
	}
}

func TestSessionStallRestoresPlayback(t *testing.T) {
	src := newFakeSource(1)
	src.position = 0.7
	src.stallAt = 5

	rec := &fakeRecorder{}
	session, err := NewSession(src, testConfig(), with(rec))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	art, err := session.Run(context.Background(), nil, captions.DefaultStyle())
	if !errors.Is(err, ErrStalledExport) {
		t.Fatalf("expected ErrStalledExport, got %v", err)
	}
	if art != nil {
		t.Error("no artifact may be returned on failure")
	}
	if !rec.aborted || rec.stopped {
		t.Errorf("expected recorder aborted and not stopped, got aborted=%v stopped=%v", rec.aborted, rec.stopped)
	}
	if src.Position() != 0.7 || !src.Paused() {
		t.Errorf("expected paused at 0.7, got paused=%v at %v", src.Paused(), src.Position())
	}
}

func TestSessionRecorderInitFailure(t *testing.T) {
	src := newFakeSource(1)
	src.position = 0.3
	src.paused = false

	rec := &fakeRecorder{startErr: recorder.ErrUnsupported}
	session, err := NewSession(src, testConfig(), with(rec))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	_, err = session.Run(context.Background(), nil, captions.DefaultStyle())
	if !errors.Is(err, ErrRecorderInit) || !errors.Is(err, recorder.ErrUnsupported) {
		t.Fatalf("expected ErrRecorderInit wrapping ErrUnsupported, got %v", err)
	}
	if rec.frames != 0 {
		t.Error("no frame may be captured after init failure")
	}
	if len(src.seekLog()) != 1 {
		t.Errorf("expected only the restore seek, got %v", src.seekLog())
	}
	if src.Position() != 0.3 || src.Paused() {
		t.Errorf("expected playing at 0.3, got paused=%v at %v", src.Paused(), src.Position())
	}
}

func TestSessionContextUnavailable(t *testing.T) {
	src := newFakeSource(1)
	src.w = 0

	session, err := NewSession(src, testConfig(), with(&fakeRecorder{}))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	_, err = session.Run(context.Background(), nil, captions.DefaultStyle())
	if !errors.Is(err, ErrContextUnavailable) {
		t.Fatalf("expected ErrContextUnavailable, got %v", err)
	}
}

func TestSessionCaptureFailure(t *testing.T) {
	src := newFakeSource(1)
	rec := &fakeRecorder{captureErr: errors.New("broken pipe")}
	session, err := NewSession(src, testConfig(), with(rec))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	_, err = session.Run(context.Background(), nil, captions.DefaultStyle())
	if !errors.Is(err, ErrRecording) {
		t.Fatalf("expected ErrRecording, got %v", err)
	}
	if !rec.aborted {
		t.Error("expected recorder to be aborted")
	}
}

func TestSessionCancelRestoresPlayback(t *testing.T) {
	src := newFakeSource(1)
	src.position = 0.5

	rec := &fakeRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := NewSession(src, testConfig(), with(rec), WithProgress(func(frame, total int) {
		if frame == 5 {
			cancel()
		}
	}))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	_, err = session.Run(ctx, nil, captions.DefaultStyle())
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if rec.frames != 5 {
		t.Errorf("expected 5 frames before cancel, got %d", rec.frames)
	}
	if !rec.aborted {
		t.Error("expected recorder aborted")
	}
	if src.Position() != 0.5 || !src.Paused() {
		t.Errorf("expected paused at 0.5, got paused=%v at %v", src.Paused(), src.Position())
	}
}

func TestSessionBusy(t *testing.T) {
	src := newFakeSource(1)
	locker := NewLocker("")
	release, err := locker.Acquire(src.ID())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	session, err := NewSession(src, testConfig(), with(&fakeRecorder{}), WithLocker(locker))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if _, err := session.Run(context.Background(), nil, captions.DefaultStyle()); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	if len(src.seekLog()) != 0 {
		t.Error("a busy session must not touch the source")
	}

	release()
	if _, err := session.Run(context.Background(), nil, captions.DefaultStyle()); err != nil {
		t.Fatalf("expected run after release to succeed, got %v", err)
	}
	if locker.Held(src.ID()) {
		t.Error("lock must be released after run")
	}
}

func TestSessionRejectsInvalidInput(t *testing.T) {
	session, err := NewSession(newFakeSource(1), testConfig(), with(&fakeRecorder{}))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	bad := []captions.Entry{{ID: "x", Start: 2, End: 1, Text: "backwards"}}
	if _, err := session.Run(context.Background(), bad, captions.DefaultStyle()); err == nil {
		t.Error("expected error for invalid caption timing")
	}
	if _, err := NewSession(nil, testConfig()); err == nil {
		t.Error("expected error for nil source")
	}
}

// A fade caption {1.0, 3.0, "hi"} is invisible at 1.0, fully opaque at 1.2
// and just before 2.8, partially faded near the end, and gone at 3.0.
func TestSessionEndToEndFade(t *testing.T) {
	const w, h = 320, 180
	src := media.NewPattern("pattern://fade", w, h, 4)

	registry, err := fonts.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Compositor = compositor.Options{ReferenceWidth: w, PlateRadius: compositor.DefaultPlateRadius}

	rec := &fakeRecorder{keep: map[int]bool{30: true, 36: true, 83: true, 88: true, 90: true}}
	session, err := NewSession(src, cfg, with(rec), WithFonts(registry))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	style := captions.Style{
		FontFamily:      "sans-serif",
		FontSize:        20,
		TextColor:       "#ffffff",
		BackgroundColor: "#00ff00",
		Position:        captions.PositionBottom,
		Animation:       captions.AnimationFade,
	}
	entries := []captions.Entry{{ID: "hi", Start: 1.0, End: 3.0, Text: "hi"}}

	if _, err := session.Run(context.Background(), entries, style); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.frames != 120 {
		t.Fatalf("expected 120 frames, got %d", rec.frames)
	}

	// a point in the plate's left padding, clear of glyphs
	dc := gg.NewContext(w, h)
	dc.SetFontFace(registry.Face(style.FontFamily, style.FontSize))
	textW, _ := dc.MeasureString("hi")
	px := int(math.Round(float64(w)/2 - textW/2 - 7))
	py := int(math.Round(float64(h) * 0.85))

	green := func(i int) uint8 { return rec.kept[i].RGBAAt(px, py).G }
	bg := func(i int) [3]uint8 {
		c := media.PatternColor(FrameTime(i, 30))
		return [3]uint8{c.R, c.G, c.B}
	}
	untouched := func(i int) bool {
		want := bg(i)
		frame := rec.kept[i]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := frame.RGBAAt(x, y)
				if [3]uint8{c.R, c.G, c.B} != want {
					return false
				}
			}
		}
		return true
	}

	if !untouched(30) {
		t.Error("t=1.0: caption must be fully transparent")
	}
	if g := green(36); g < 250 {
		t.Errorf("t=1.2: expected opaque green plate, got G=%d", g)
	}
	if g := green(83); g < 250 {
		t.Errorf("t=2.77: expected opaque green plate, got G=%d", g)
	}
	if g := green(88); g <= bg(88)[1] || g >= 250 {
		t.Errorf("t=2.93: expected partially faded plate, got G=%d", g)
	}
	if !untouched(90) {
		t.Error("t=3.0: caption must have faded to zero")
	}

	if src.Position() != 0 || !src.Paused() {
		t.Errorf("expected pattern restored to paused at 0, got paused=%v at %v", src.Paused(), src.Position())
	}
}

func TestLockerInProcess(t *testing.T) {
	l := NewLocker("")
	release, err := l.Acquire("a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := l.Acquire("a"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}
	other, err := l.Acquire("b")
	if err != nil {
		t.Errorf("different sources must not conflict: %v", err)
	}
	other()

	release()
	release()
	again, err := l.Acquire("a")
	if err != nil {
		t.Fatalf("expected lock free after release: %v", err)
	}
	again()
}

func TestLockerAcrossLockers(t *testing.T) {
	dir := t.TempDir()
	first := NewLocker(dir)
	second := NewLocker(dir)

	release, err := first.Acquire("/videos/clip.mp4")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := second.Acquire("/videos/clip.mp4"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected file lock to exclude a second locker, got %v", err)
	}
	if second.Held("/videos/clip.mp4") {
		t.Error("failed acquisition must not leave the key marked")
	}
	if _, err := os.Stat(first.LockPath("/videos/clip.mp4")); err != nil {
		t.Errorf("expected lock file: %v", err)
	}

	release()
	r2, err := second.Acquire("/videos/clip.mp4")
	if err != nil {
		t.Fatalf("expected lock free after release: %v", err)
	}
	r2()
}

func TestArtifact(t *testing.T) {
	art := &Artifact{Data: []byte("video"), Filename: ArtifactName(time.UnixMilli(42), "avi"), MIMEType: "video/x-msvideo"}
	if art.Filename != "studio_export_42.avi" {
		t.Errorf("unexpected filename %q", art.Filename)
	}

	var buf bytes.Buffer
	if n, err := art.WriteTo(&buf); err != nil || n != 5 || buf.String() != "video" {
		t.Errorf("WriteTo = %d, %v, %q", n, err, buf.String())
	}

	dir := t.TempDir()
	path, err := art.Save(dir)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if path != filepath.Join(dir, "studio_export_42.avi") {
		t.Errorf("unexpected path %q", path)
	}
	if data, _ := os.ReadFile(path); string(data) != "video" {
		t.Errorf("unexpected file contents %q", data)
	}

	art.Release()
	if _, err := art.WriteTo(&buf); err == nil {
		t.Error("WriteTo after Release must fail")
	}
	if _, err := art.Save(dir); err == nil {
		t.Error("Save after Release must fail")
	}
}

func TestReasonAndWrap(t *testing.T) {
	err := Wrap(ErrStalledExport, "seek to 1.000s", nil)
	if !errors.Is(err, ErrStalledExport) {
		t.Fatal("Wrap must keep the kind")
	}
	if !strings.Contains(err.Error(), "seek to 1.000s") {
		t.Errorf("expected operation in message, got %q", err)
	}
	if !strings.Contains(Reason(err), "stopped responding") {
		t.Errorf("unexpected reason %q", Reason(err))
	}

	inner := errors.New("boom")
	err = Wrap(ErrRecording, "finalize", inner)
	if !errors.Is(err, inner) || !errors.Is(err, ErrRecording) {
		t.Error("Wrap must keep both kind and cause")
	}
	if !IsFailure(err) || IsFailure(inner) {
		t.Error("IsFailure misclassified")
	}
	if Reason(nil) != "" {
		t.Error("nil error has no reason")
	}
	if !strings.Contains(Reason(compositor.ErrContextUnavailable), "drawing surface") {
		t.Error("compositor failures map to the context-unavailable reason")
	}
}
