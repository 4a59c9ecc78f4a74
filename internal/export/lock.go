package export

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/kikiluvv/captionburn/pkg/util"
)

// Locker grants at most one export per source. Within the process a key set
// decides; when dir is set, a file lock per source also excludes other
// processes.
type Locker struct {
	dir string

	mu     sync.Mutex
	active map[string]struct{}
}

// NewLocker creates a locker keeping lock files in dir; "" keeps the lock
// in-process only
func NewLocker(dir string) *Locker {
	return &Locker{dir: dir, active: make(map[string]struct{})}
}

// Acquire takes the lock for sourceID. The returned release is idempotent.
func (l *Locker) Acquire(sourceID string) (func(), error) {
	l.mu.Lock()
	if _, busy := l.active[sourceID]; busy {
		l.mu.Unlock()
		return nil, Wrap(ErrSessionBusy, sourceID, nil)
	}
	l.active[sourceID] = struct{}{}
	l.mu.Unlock()

	unmark := func() {
		l.mu.Lock()
		delete(l.active, sourceID)
		l.mu.Unlock()
	}

	var fl *flock.Flock
	if l.dir != "" {
		if err := util.EnsureDir(l.dir); err != nil {
			unmark()
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
		fl = flock.New(l.LockPath(sourceID))
		ok, err := fl.TryLock()
		if err != nil {
			unmark()
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			unmark()
			return nil, Wrap(ErrSessionBusy, sourceID, fmt.Errorf("locked by another process"))
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if fl != nil {
				_ = fl.Unlock()
			}
			unmark()
		})
	}, nil
}

// Held reports whether this process holds the lock for sourceID
func (l *Locker) Held(sourceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[sourceID]
	return ok
}

// LockPath is the lock file for sourceID; source ids are hashed so any
// path or URL maps to a safe file name
func (l *Locker) LockPath(sourceID string) string {
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceID)).String()
	return filepath.Join(l.dir, "export-"+name+".lock")
}
