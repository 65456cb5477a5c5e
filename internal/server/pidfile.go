package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// PIDFile is an exclusively-locked file holding the daemon's process ID.
// The flock, not the file's existence, is what prevents a second daemon
// from sharing a data directory: a stale file left by a crash carries no
// lock and is simply taken over.
type PIDFile struct {
	path string
	f    *os.File
}

// AcquirePIDFile takes the daemon lock at path, creating parent
// directories as needed, and records the current PID. Fails when another
// running uploadsrv already holds the lock.
func AcquirePIDFile(path string) (*PIDFile, error) {
	if path == "" {
		return nil, fmt.Errorf("PID file path is empty — cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another uploadsrv is already running (could not lock %s)", path)
	}

	p := &PIDFile{path: path, f: f}
	if err := p.record(); err != nil {
		p.Release()

		return nil, err
	}

	return p, nil
}

// record replaces the file's contents with the current PID and flushes it,
// so `kill $(cat uploadsrv.pid)` always reaches the lock holder.
func (p *PIDFile) record() error {
	pid := strconv.Itoa(os.Getpid()) + "\n"

	if err := p.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := p.f.WriteAt([]byte(pid), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	if err := p.f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

// Release removes the file and drops the lock. Safe to call on the exit
// path regardless of how far startup got.
func (p *PIDFile) Release() {
	os.Remove(p.path)
	p.f.Close()
}
