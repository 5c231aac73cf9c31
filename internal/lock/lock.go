// Package lock implements the cross-host advisory file lock: a JSON
// sidecar created next to the media file with exclusive-create
// semantics, reclaimable once it goes stale.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wildardoc/mediabox/internal/logger"
)

// DefaultStaleAfter is the age at which a lock is considered
// abandoned and reclaimable by any Runner.
const DefaultStaleAfter = 30 * time.Minute

var (
	// ErrLockUnavailable is returned when the sidecar cannot be
	// created due to a filesystem error unrelated to contention.
	ErrLockUnavailable = errors.New("lock: unavailable")
)

// HeldBy describes the current holder of a contended lock.
type HeldBy struct {
	Hostname string
	PID      int
	Age      time.Duration
}

func (h *HeldBy) Error() string {
	return fmt.Sprintf("locked by %s (pid %d, age %s)", h.Hostname, h.PID, h.Age.Round(time.Second))
}

// sidecarState is the JSON document written to the sidecar file.
type sidecarState struct {
	Hostname string  `json:"hostname"`
	PID      int     `json:"pid"`
	Timestamp float64 `json:"timestamp"`
	LockedAt string  `json:"locked_at"`
	File     string  `json:"file"`
}

// Lock represents a held advisory lock; call Release exactly once,
// ideally via defer immediately after a successful Acquire.
type Lock struct {
	path string
}

func sidecarPath(mediaPath string) string {
	return mediaPath + ".mediabox.lock"
}

// Acquire attempts to take the lock on path. On contention it returns
// a *HeldBy error (use errors.As to inspect) describing the current
// holder, unless the existing lock is older than staleAfter, in which
// case it is reclaimed. staleAfter of 0 uses DefaultStaleAfter.
func Acquire(path string, staleAfter time.Duration) (*Lock, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	sp := sidecarPath(path)

	state := sidecarState{
		Hostname:  hostname(),
		PID:       os.Getpid(),
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		LockedAt:  time.Now().UTC().Format(time.RFC3339),
		File:      path,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}

	f, err := os.OpenFile(sp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		defer f.Close()
		if _, werr := f.Write(data); werr != nil {
			os.Remove(sp)
			return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, werr)
		}
		return &Lock{path: sp}, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}

	// Sidecar already exists: read it to decide staleness.
	existing, rerr := os.ReadFile(sp)
	if rerr != nil {
		// Raced with the holder's release; try once more.
		return retryCreate(sp, data)
	}
	var held sidecarState
	if uerr := json.Unmarshal(existing, &held); uerr != nil {
		// Corrupt sidecar: treat as stale and reclaim.
		return reclaim(sp, data)
	}

	age := time.Since(time.Unix(0, int64(held.Timestamp*1e9)))
	if age <= staleAfter {
		return nil, &HeldBy{Hostname: held.Hostname, PID: held.PID, Age: age}
	}

	logger.Warn("reclaiming stale lock", "path", sp, "held_by", held.Hostname, "age", age)
	return reclaim(sp, data)
}

func retryCreate(sp string, data []byte) (*Lock, error) {
	f, err := os.OpenFile(sp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(sp)
		return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	return &Lock{path: sp}, nil
}

// reclaim overwrites a stale sidecar. This is not perfectly atomic
// against another reclaimer racing at the same instant, but the
// design treats locks as advisory coordination among cooperating
// instances, not a strict mutual-exclusion primitive.
func reclaim(sp string, data []byte) (*Lock, error) {
	if err := os.WriteFile(sp, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	return &Lock{path: sp}, nil
}

// Release removes the sidecar. Safe to call on a nil Lock or to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	l.path = ""
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
