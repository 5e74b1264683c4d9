package socket

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// shortTempDir keeps socket paths under the unix socket length limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ptymux")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"work", true},
		{"my-session_2", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{`a\b`, false},
		{"x.ctl", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.ok && err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", tt.name, err)
		}
	}
}

func TestPaths(t *testing.T) {
	if got, want := Path("/run/ptymux", "work"), "/run/ptymux/work.sock"; got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
	if got, want := ControlPath("/run/ptymux", "work"), "/run/ptymux/work.ctl.sock"; got != want {
		t.Errorf("ControlPath = %q, want %q", got, want)
	}
}

func TestBindCreatesParentsAndReplacesStale(t *testing.T) {
	dir := shortTempDir(t)
	path := filepath.Join(dir, "a", "b", "s.sock")

	ln, err := Bind(path)
	if err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	// Leave the socket file behind as a crashed server would.
	ln.SetUnlinkOnClose(false)
	ln.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stale socket missing: %v", err)
	}

	ln, err = Bind(path)
	if err != nil {
		t.Fatalf("Bind over stale socket: %v", err)
	}
	defer ln.Close()

	conn, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
}

func TestBindReplacesRegularFile(t *testing.T) {
	dir := shortTempDir(t)
	path := filepath.Join(dir, "s.sock")
	if err := os.WriteFile(path, []byte("junk"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ln, err := Bind(path)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ln.Close()
}

func TestList(t *testing.T) {
	dir := shortTempDir(t)

	if names, err := List(filepath.Join(dir, "missing")); err != nil || names != nil {
		t.Fatalf("List(missing) = %v, %v", names, err)
	}

	for _, path := range []string{Path(dir, "beta"), ControlPath(dir, "beta"), Path(dir, "alpha")} {
		ln, err := Bind(path)
		if err != nil {
			t.Fatalf("Bind(%s): %v", path, err)
		}
		defer ln.Close()
	}
	if err := os.WriteFile(filepath.Join(dir, "plain.sock"), nil, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	names, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(names, want) {
		t.Errorf("List = %v, want %v", names, want)
	}
}

func TestLockExcludesSecondServer(t *testing.T) {
	dir := filepath.Join(shortTempDir(t), "run")

	unlock, err := Lock(dir, "work")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := Lock(dir, "work"); !errors.Is(err, ErrSessionRunning) {
		t.Fatalf("second Lock = %v, want ErrSessionRunning", err)
	}

	other, err := Lock(dir, "other")
	if err != nil {
		t.Fatalf("Lock(other): %v", err)
	}
	other()

	unlock()
	again, err := Lock(dir, "work")
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	again()
}
