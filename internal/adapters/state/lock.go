package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/fsutil"
)

const defaultLockPoll = 50 * time.Millisecond

// lockInfo represents lock file contents.
type lockInfo struct {
	PID         int       `json:"pid"`
	Hostname    string    `json:"hostname"`
	Token       string    `json:"token"`
	AcquiredAt  time.Time `json:"acquired_at"`
	RefreshedAt time.Time `json:"refreshed_at,omitzero"`
}

// lastSeen is the latest sign of life from the holder.
func (i *lockInfo) lastSeen() time.Time {
	if i.RefreshedAt.After(i.AcquiredAt) {
		return i.RefreshedAt
	}
	return i.AcquiredAt
}

// FileLock is a process-wide lock backed by an O_EXCL lock file. While
// held, a heartbeat refreshes the file every heartbeat interval. A lock
// whose last refresh is older than its TTL, or whose holder process is
// dead, is treated as stale.
type FileLock struct {
	path      string
	ttl       time.Duration
	poll      time.Duration
	heartbeat time.Duration

	mu    sync.Mutex
	token string
	stop  chan struct{}
	done  chan struct{}
}

// FileLockOption configures the lock.
type FileLockOption func(*FileLock)

// WithLockPollInterval sets how often TryAcquire retries.
func WithLockPollInterval(d time.Duration) FileLockOption {
	return func(l *FileLock) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithLockHeartbeat sets how often a held lock is refreshed. It defaults
// to a third of the TTL.
func WithLockHeartbeat(d time.Duration) FileLockOption {
	return func(l *FileLock) {
		if d > 0 {
			l.heartbeat = d
		}
	}
}

// NewFileLock creates a lock at path.
func NewFileLock(path string, ttl time.Duration, opts ...FileLockOption) *FileLock {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := &FileLock{path: path, ttl: ttl, poll: defaultLockPoll, heartbeat: ttl / 3}
	for _, opt := range opts {
		opt(l)
	}
	if l.heartbeat <= 0 {
		l.heartbeat = ttl
	}
	return l
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// TryAcquire polls for the lock until timeout. It returns false without
// error when another holder keeps the lock for the whole window.
func (l *FileLock) TryAcquire(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.tryOnce()
		if err != nil || ok {
			return ok, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		wait := l.poll
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (l *FileLock) tryOnce() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return false, fmt.Errorf("creating lock directory: %w", err)
	}

	if info, err := readLockInfo(l.path); err == nil {
		if time.Since(info.lastSeen()) < l.ttl && processExists(info.PID) {
			return false, nil
		}
		// Stale lock.
		_ = os.Remove(l.path)
	} else if !errors.Is(err, os.ErrNotExist) {
		// Unreadable lock contents: a writer may be mid-write.
		if st, statErr := os.Stat(l.path); statErr == nil && time.Since(st.ModTime()) < l.ttl {
			return false, nil
		}
		_ = os.Remove(l.path)
	}

	hostname, _ := os.Hostname()
	info := lockInfo{
		PID:        os.Getpid(),
		Hostname:   hostname,
		Token:      uuid.NewString(),
		AcquiredAt: time.Now(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return false, fmt.Errorf("marshaling lock info: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(l.path)
		return false, fmt.Errorf("writing lock file: %w", err)
	}
	l.token = info.Token
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.beat(info, l.stop, l.done)
	return true, nil
}

// beat refreshes the lock file until stop is closed or the lock is found
// to belong to someone else.
func (l *FileLock) beat(info lockInfo, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if !l.refresh(&info) {
			return
		}
	}
}

// refresh stamps the lock file with the current time. It reports false
// once the file no longer carries this holder's token.
func (l *FileLock) refresh(info *lockInfo) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != info.Token {
		return false
	}
	current, err := readLockInfo(l.path)
	if err != nil || current.Token != info.Token {
		return false
	}
	info.RefreshedAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return false
	}
	// A failed write leaves the previous stamp; the next tick retries.
	_ = fsutil.WriteFileAtomic(l.path, data, 0o600)
	return true
}

// stopHeartbeat ends the refresh goroutine and waits for it to exit. The
// caller must not hold l.mu.
func (l *FileLock) stopHeartbeat() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Release removes the lock file if this instance still owns it.
func (l *FileLock) Release(_ context.Context) error {
	l.stopHeartbeat()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""

	info, err := readLockInfo(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading lock file: %w", err)
	}
	if info.Token != token {
		return core.ErrState("LOCK_RELEASE_FAILED", "lock was taken over by another holder")
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Holder describes the current lock holder, if any. lastSeen is the
// holder's latest heartbeat, or its acquisition time before the first one.
func (l *FileLock) Holder() (pid int, lastSeen time.Time, held bool) {
	info, err := readLockInfo(l.path)
	if err != nil {
		return 0, time.Time{}, false
	}
	return info.PID, info.lastSeen(), true
}

func readLockInfo(path string) (*lockInfo, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock info: %w", err)
	}
	return &info, nil
}

// processExists checks if a process is running.
func processExists(pid int) bool {
	// Windows reports no access when signaling the current process.
	if runtime.GOOS == "windows" && pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we send signal 0.
	return process.Signal(syscall.Signal(0)) == nil
}

var _ core.Lock = (*FileLock)(nil)
