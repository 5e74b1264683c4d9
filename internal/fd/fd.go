// Package fd wraps a single raw OS descriptor with explicit ownership:
// exactly one Close, close-on-exec duplication, and EIO-as-EOF reads for
// pseudo-terminal controllers.
package fd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by operations on a descriptor that was already closed.
var ErrClosed = errors.New("file descriptor already closed")

// FileDescriptor owns exactly one OS descriptor. The descriptor is closed
// once, either by Close or by the finalizer if the owner forgets.
type FileDescriptor struct {
	mu     sync.RWMutex
	fd     int
	closed bool
}

// New takes ownership of fd.
func New(fd int) *FileDescriptor {
	f := &FileDescriptor{fd: fd}
	runtime.SetFinalizer(f, (*FileDescriptor).Close)
	return f
}

// FromFile duplicates the descriptor behind file into a new owned
// FileDescriptor. The file keeps its own descriptor and must still be
// closed by the caller.
func FromFile(file *os.File) (*FileDescriptor, error) {
	// Fd puts the file back into blocking mode; the flag is shared with the
	// duplicate, which is what the pump goroutines expect.
	raw := int(file.Fd())
	dup, err := dupCloexec(raw)
	runtime.KeepAlive(file)
	if err != nil {
		return nil, err
	}
	return New(dup), nil
}

// Fd returns the raw descriptor, or -1 once closed.
func (f *FileDescriptor) Fd() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return -1
	}
	return f.fd
}

// Duplicate returns a new FileDescriptor with an independent lifetime.
// F_DUPFD_CLOEXEC sets close-on-exec atomically, so a concurrent spawn on
// another goroutine cannot inherit the copy.
func (f *FileDescriptor) Duplicate() (*FileDescriptor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	dup, err := dupCloexec(f.fd)
	if err != nil {
		return nil, err
	}
	return New(dup), nil
}

// File hands a duplicate of the descriptor to the caller as an *os.File,
// typically to be passed as a standard stream of a child process. The
// returned file owns the duplicate.
func (f *FileDescriptor) File(name string) (*os.File, error) {
	dup, err := f.Duplicate()
	if err != nil {
		return nil, err
	}
	raw := dup.release()
	return os.NewFile(uintptr(raw), name), nil
}

// Read reads from the descriptor. EIO, which a pseudo-terminal controller
// reports once the worker side has gone away, is translated to io.EOF.
//
// Read and Write hold the descriptor for the whole syscall, so a concurrent
// Close waits for them and the number cannot be reused underneath a call in
// progress.
func (f *FileDescriptor) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0, ErrClosed
	}

	for {
		n, err := unix.Read(f.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EIO):
			return 0, io.EOF
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes all of p, retrying short writes so a single call never
// leaves a partial buffer behind.
func (f *FileDescriptor) Write(p []byte) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0, ErrClosed
	}

	written := 0
	for written < len(p) {
		n, err := unix.Write(f.fd, p[written:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return written, os.NewSyscallError("write", err)
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
		written += n
	}
	return written, nil
}

// Close releases the descriptor once no Read or Write is in progress. Only
// the first call closes; later calls return nil. A failed close is logged
// and returned.
func (f *FileDescriptor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	runtime.SetFinalizer(f, nil)
	if err := unix.Close(f.fd); err != nil {
		log.Printf("[FD] Failed to close file descriptor %d: %v", f.fd, err)
		return fmt.Errorf("close fd %d: %w", f.fd, err)
	}
	return nil
}

// release gives up ownership of the raw descriptor without closing it.
func (f *FileDescriptor) release() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	runtime.SetFinalizer(f, nil)
	return f.fd
}

func dupCloexec(fd int) (int, error) {
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("fcntl(F_DUPFD_CLOEXEC)", err)
	}
	return dup, nil
}
