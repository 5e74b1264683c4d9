// Package socket derives and binds the rendezvous paths clients use to find
// a running session.
package socket

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

const (
	dataSuffix    = ".sock"
	controlSuffix = ".ctl.sock"
	lockSuffix    = ".lock"
)

// ErrInvalidName is returned for session names that cannot be mapped onto a
// single file in the runtime directory.
var ErrInvalidName = errors.New("invalid session name")

// ErrSessionRunning is returned by Lock when another server holds the name.
var ErrSessionRunning = errors.New("session already running")

// ValidateName rejects names that are empty, contain a path separator, or
// would collide with the control socket naming.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasSuffix(name, ".ctl"):
		return fmt.Errorf("%w: %q ends in .ctl", ErrInvalidName, name)
	}
	return nil
}

// Path returns the data socket path for a session.
func Path(runtimeDir, name string) string {
	return filepath.Join(runtimeDir, name+dataSuffix)
}

// ControlPath returns the control socket path for a session.
func ControlPath(runtimeDir, name string) string {
	return filepath.Join(runtimeDir, name+controlSuffix)
}

// Lock takes the per-session lock file in runtimeDir so that a second
// server for the same name fails instead of unlinking a live socket. The
// returned function releases the lock.
func Lock(runtimeDir, name string) (func(), error) {
	if err := os.MkdirAll(runtimeDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	lock := flock.New(filepath.Join(runtimeDir, name+lockSuffix))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrSessionRunning, name)
	}
	return func() { _ = lock.Unlock() }, nil
}

// Bind listens on a unix socket at path. Missing parent directories are
// created and a stale socket left by a previous run is removed first.
func Bind(path string) (*net.UnixListener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// Dial connects to the unix socket at path.
func Dial(path string) (*net.UnixConn, error) {
	return net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
}

// List returns the names of sessions with a data socket in runtimeDir. A
// missing directory yields no sessions.
func List(runtimeDir string) ([]string, error) {
	entries, err := os.ReadDir(runtimeDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.Type()&os.ModeSocket == 0 || strings.HasSuffix(name, controlSuffix) {
			continue
		}
		if trimmed, ok := strings.CutSuffix(name, dataSuffix); ok {
			names = append(names, trimmed)
		}
	}
	sort.Strings(names)
	return names, nil
}
