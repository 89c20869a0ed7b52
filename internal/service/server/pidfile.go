package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/logger"
)

// ErrAlreadyRunning is returned when another daemon already polls the device.
var ErrAlreadyRunning = errors.New("another daemon is already running for this device")

// acquirePIDFile records the current process in path. A file left by a
// process that is no longer alive is taken over; a live owner is an error.
// The returned function removes the file.
func acquirePIDFile(ctx context.Context, path string) (func(), error) {
	path = filepath.Clean(path)

	data, err := os.ReadFile(path)

	switch {
	case err == nil:
		if owner, alive := liveOwner(data); alive {
			return nil, fmt.Errorf("%w: pid %d (%s)", ErrAlreadyRunning, owner.Pid(), owner.Executable())
		}

		logger.InfoKV(ctx, "Taking over stale pid file", "pid_file", path)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read pid file: %w", err)
	}

	pid := os.Getpid()

	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), config.DefaultFilePermissions); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}

	return func() {
		// Leave the file alone if another process took it over.
		current, err := os.ReadFile(path)
		if err != nil || strings.TrimSpace(string(current)) != strconv.Itoa(pid) {
			return
		}

		if err := os.Remove(path); err != nil {
			logger.WarnKV(ctx, "Failed to remove pid file", "pid_file", path, "error", err)
		}
	}, nil
}

// liveOwner returns the process recorded in a pid file if it is still running.
func liveOwner(data []byte) (ps.Process, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return nil, false
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return nil, false
	}

	return process, true
}
