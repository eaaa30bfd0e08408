package storage

import (
	"os"
	"sync"
	"syscall"

	"github.com/spf13/afero"
)

// FileLock serializes writers of one document. On the OS filesystem it also
// holds an flock on <path>.lock so separate processes sharing a data
// directory do not interleave writes.
type FileLock struct {
	fs   afero.Fs
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a lock for the document at path on fs.
func NewFileLock(fs afero.Fs, path string) *FileLock {
	return &FileLock{fs: fs, path: path}
}

func (l *FileLock) onDisk() bool {
	_, ok := l.fs.(*afero.OsFs)
	return ok
}

// Lock acquires the lock, blocking until it is free.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	if !l.onDisk() {
		return nil
	}

	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		l.mu.Unlock()
		return err
	}
	l.file = f
	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file != nil {
		syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
		l.file.Close()
		os.Remove(l.path + ".lock")
		l.file = nil
	}
	l.mu.Unlock()
	return nil
}
