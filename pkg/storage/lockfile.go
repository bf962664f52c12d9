package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/burrowq/burrow/pkg/errors"
)

const (
	lockRetryInterval = 10 * time.Millisecond
	// staleLockAge is the point past which a lockfile is assumed to
	// belong to a dead process and may be taken over.
	staleLockAge = 60 * time.Second
)

// acquireLock takes an advisory lockfile, polling until timeout. The
// returned release function removes the lockfile; it is safe to call once.
func acquireLock(path string, timeout time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(errors.KindStorage, err, "failed to create lockfile")
		}

		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			// Holder looks dead; remove and race for it on the next pass.
			os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return nil, errors.Lockf("timed out acquiring lock %s after %s", path, timeout)
		}
		time.Sleep(lockRetryInterval)
	}
}
