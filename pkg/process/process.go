package process

import (
	"os"
	"syscall"
	"time"
)

// IsProcessAlive checks if a process with the given PID is still running.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	// Find the process. This doesn't fail on Unix if the process doesn't exist.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks for existence. EPERM still means the process is alive.
	err = process.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}

// Stop sends SIGTERM to p and SIGKILL if it has not exited within grace.
// exited must be closed by whoever waits on p.
func Stop(p *os.Process, grace time.Duration, exited <-chan struct{}) error {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return err
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
		if err := p.Kill(); err != nil && err != os.ErrProcessDone {
			return err
		}
		<-exited
		return nil
	}
}
