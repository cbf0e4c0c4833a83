package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalogsync/importer/internal/domain"
)

type lockOwner struct {
	Token string `json:"token"`
	PID   int    `json:"pid"`
	Host  string `json:"host"`
	Time  int64  `json:"time"`
}

// FileLock is a lock file per job. A held lock is refreshed by a heartbeat;
// a lock file older than the TTL is treated as abandoned and taken over.
type FileLock struct {
	dir       string
	ttl       time.Duration
	heartbeat time.Duration
}

// NewFileLock creates a file locker. The heartbeat runs at a third of the TTL.
func NewFileLock(dir string, ttl time.Duration) (*FileLock, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	heartbeat := ttl / 3
	if heartbeat <= 0 {
		heartbeat = ttl
	}
	return &FileLock{dir: dir, ttl: ttl, heartbeat: heartbeat}, nil
}

func (l *FileLock) path(jobID string) string {
	return filepath.Join(l.dir, safeName(jobID)+".lock")
}

// Acquire creates the lock file exclusively or fails with ErrJobAlreadyRunning
func (l *FileLock) Acquire(ctx context.Context, jobID string) (*domain.JobLock, error) {
	path := l.path(jobID)
	host, _ := os.Hostname()
	token := uuid.New().String()
	owner, _ := json.Marshal(lockOwner{Token: token, PID: os.Getpid(), Host: host, Time: time.Now().Unix()})

	for attempt := 0; attempt < 3; attempt++ {
		created, err := createExclusive(path, owner)
		if err != nil {
			return nil, err
		}
		if created {
			return l.hold(path, token), nil
		}

		fi, err := os.Stat(path)
		if err != nil {
			// released between our create and stat
			continue
		}
		if age := time.Since(fi.ModTime()); age < l.ttl {
			return nil, fmt.Errorf("%w: %s held for %s", domain.ErrJobAlreadyRunning, path, age.Round(time.Second))
		}
		if err := l.takeOver(path, token); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrJobAlreadyRunning, path)
}

// takeOver moves a stale lock file aside under a name only we use. Of several
// processes racing for the same file, one rename wins. A loser that moved a
// fresh file (the winner's new lock) links it back and gives up.
func (l *FileLock) takeOver(path, token string) error {
	tomb := path + ".stale-" + token
	if err := os.Rename(path, tomb); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("moving stale lock file: %w", err)
	}
	defer os.Remove(tomb)

	fi, err := os.Stat(tomb)
	if err != nil {
		return fmt.Errorf("inspecting stale lock file: %w", err)
	}
	age := time.Since(fi.ModTime())
	if age < l.ttl {
		if err := os.Link(tomb, path); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("restoring lock file: %w", err)
		}
		return fmt.Errorf("%w: %s taken over by another process", domain.ErrJobAlreadyRunning, path)
	}

	zap.L().Warn("taking over stale job lock", zap.String("path", path), zap.Duration("age", age))
	return nil
}

func createExclusive(path string, content []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating lock file: %w", err)
	}
	_, werr := f.Write(append(content, '\n'))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		return false, fmt.Errorf("writing lock file: %w", errors.Join(werr, cerr))
	}
	return true, nil
}

// ownedBy reports whether the lock file at path still carries token
func ownedBy(path, token string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var owner lockOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return false, nil
	}
	return owner.Token == token, nil
}

func (l *FileLock) hold(path, token string) *domain.JobLock {
	stop := make(chan struct{})
	done := make(chan struct{})

	lock := domain.NewJobLock(func() error {
		close(stop)
		<-done
		owned, err := ownedBy(path, token)
		if err != nil {
			return fmt.Errorf("reading lock file: %w", err)
		}
		if !owned {
			return domain.ErrLockNotHeld
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return domain.ErrLockNotHeld
			}
			return fmt.Errorf("removing lock file: %w", err)
		}
		return nil
	})

	go func() {
		defer close(done)
		t := time.NewTicker(l.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				owned, err := ownedBy(path, token)
				if err != nil {
					zap.L().Warn("lock heartbeat failed", zap.String("path", path), zap.Error(err))
					continue
				}
				if !owned {
					zap.L().Error("job lock lost", zap.String("path", path))
					lock.MarkLost()
					return
				}
				now := time.Now()
				if err := os.Chtimes(path, now, now); err != nil {
					zap.L().Warn("lock heartbeat failed", zap.String("path", path), zap.Error(err))
				}
			}
		}
	}()

	return lock
}
