package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrNotRunning is returned when the PID file names no live process.
var ErrNotRunning = errors.New("dnsniff: daemon not running")

// ReadPIDFile returns the process ID recorded in pidFile.
func ReadPIDFile(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("read PID file %s: %w", pidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s: %q", pidFile, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// SignalRunning sends sig to the process recorded in pidFile:
// SIGTERM stops it, SIGHUP reloads its logging configuration.
func SignalRunning(pidFile string, sig syscall.Signal) (int, error) {
	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		return 0, err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, err
	}
	if err := process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return pid, ErrNotRunning
		}
		return pid, fmt.Errorf("signal %d: %w", pid, err)
	}
	return pid, nil
}
