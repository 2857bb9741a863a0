// Package pidfile keeps a single instance of each slidesync process per
// state directory.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/pkg/process"
)

// Path returns the pid file of process name in dir.
func Path(dir, name string) string {
	return filepath.Join(dir, "."+name+".pid")
}

// Acquire writes the current PID to path. It fails with ALREADY_RUNNING if
// a live process owns the file; a stale file is replaced.
func Acquire(path, name string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.TransientIO("create pid directory", filepath.Dir(path), err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return apperrors.TransientIO("write", path, errors.Join(werr, cerr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return apperrors.TransientIO("create", path, err)
		}

		pid, rerr := Read(path)
		if rerr == nil && pid != os.Getpid() && process.IsProcessAlive(pid) {
			return apperrors.AlreadyRunning(name, pid)
		}
		// Stale or unreadable: remove and retry once.
		_ = os.Remove(path)
	}
	return apperrors.New(apperrors.ErrCodeAlreadyRunning, fmt.Sprintf("%s pid file keeps reappearing", name)).
		WithDetail("path", path)
}

// Release removes the PID file if it still belongs to this process.
func Release(path string) error {
	pid, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return os.Remove(path)
}

// Read returns the PID stored in the file.
func Read(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(content)))
}

// IsRunning checks if the process described by the pidfile is active.
func IsRunning(path string) (bool, int, error) {
	pid, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return process.IsProcessAlive(pid), pid, nil
}
