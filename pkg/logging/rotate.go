package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is an append-only log file that is rotated to path.1,
// path.2 ... once it grows past MaxSize. It is used as a zap WriteSyncer.
type RotatingFile struct {
	path       string
	maxSize    int64
	maxBackups int

	mu          sync.Mutex
	file        *os.File
	currentSize int64
}

// OpenRotatingFile opens path for appending, creating its directory.
// A maxSize of 0 disables rotation.
func OpenRotatingFile(path string, maxSize int64, maxBackups int) (*RotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f := &RotatingFile{path: path, maxSize: maxSize, maxBackups: maxBackups}
	if err := f.open(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RotatingFile) open() error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	f.file = file
	f.currentSize = info.Size()
	return nil
}

// Write appends p, rotating first when the file is full
func (f *RotatingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.maxSize > 0 && f.currentSize >= f.maxSize {
		if err := f.rotate(); err != nil {
			return 0, err
		}
	}
	if f.file == nil {
		return 0, os.ErrClosed
	}

	n, err := f.file.Write(p)
	f.currentSize += int64(n)
	return n, err
}

// Sync flushes the file to disk
func (f *RotatingFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

// Close closes the file
func (f *RotatingFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *RotatingFile) rotate() error {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}

	for i := f.maxBackups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", f.path, i), fmt.Sprintf("%s.%d", f.path, i+1))
	}
	if f.maxBackups > 0 {
		os.Rename(f.path, f.path+".1")
		os.Remove(fmt.Sprintf("%s.%d", f.path, f.maxBackups+1))
	} else {
		os.Remove(f.path)
	}

	return f.open()
}
