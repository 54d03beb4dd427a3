package runtimepath

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Dir returns the runtime directory used for the quartz control socket.
// Priority:
// 1) XDG_RUNTIME_DIR (if set)
// 2) /run/user/<uid> (if present)
// 3) /tmp/quartz-runtime-<uid> (created)
func Dir() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return runtimeDir, nil
	}

	uid := os.Getuid()
	runUserDir := fmt.Sprintf("/run/user/%d", uid)
	if info, err := os.Stat(runUserDir); err == nil && info.IsDir() {
		return runUserDir, nil
	}

	tmpDir := fmt.Sprintf("/tmp/quartz-runtime-%d", uid)
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create runtime dir: %w", err)
	}
	return tmpDir, nil
}

// SocketPath returns the service control socket path.
func SocketPath() (string, error) {
	runtimeDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(runtimeDir, "quartz.sock"), nil
}

// BufferName returns a fresh shared-memory object path for a buffer slot
// owned by the given client pid: <graphicsDir>/<pid>/bq/<unique>.
func BufferName(graphicsDir string, pid int) string {
	return filepath.Join(graphicsDir, fmt.Sprintf("%d", pid), "bq", uuid.NewString())
}

// EventName returns a fresh input channel path for a window owned by the
// given client pid: <graphicsDir>/<pid>/event/<unique>.
func EventName(graphicsDir string, pid int) string {
	return filepath.Join(graphicsDir, fmt.Sprintf("%d", pid), "event", uuid.NewString())
}

// MonitorName returns the input monitor channel path for a named monitor
// owned by the given client pid: <graphicsDir>/monitor/<pid>/<name>.
func MonitorName(graphicsDir string, pid int, name string) string {
	return filepath.Join(graphicsDir, "monitor", fmt.Sprintf("%d", pid), name)
}

// ClientDir returns the per-pid graphics namespace root for a client.
func ClientDir(graphicsDir string, pid int) string {
	return filepath.Join(graphicsDir, fmt.Sprintf("%d", pid))
}
