package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// RotationConfig holds configuration for log rotation
type RotationConfig struct {
	// Filename is the file to write logs to
	Filename string

	// MaxSize is the size in bytes at which the file is rotated (0 = never)
	MaxSize int64

	// MaxBackups is the number of rotated files to keep (0 = keep all)
	MaxBackups int

	// Compress gzips rotated files
	Compress bool
}

// LogRotator is an io.WriteCloser that rotates its file by size. It is the
// Output of a StructuredLogger when logs go to a file.
type LogRotator struct {
	mu sync.Mutex

	config RotationConfig
	file   *os.File
	size   int64
	seq    int
}

// NewLogRotator opens config.Filename for appending
func NewLogRotator(config RotationConfig) (*LogRotator, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("log filename is required")
	}

	lr := &LogRotator{config: config}
	if err := lr.openFile(); err != nil {
		return nil, err
	}
	return lr, nil
}

// Write implements io.Writer
func (lr *LogRotator) Write(p []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return 0, os.ErrClosed
	}
	if lr.config.MaxSize > 0 && lr.size > 0 && lr.size+int64(len(p)) > lr.config.MaxSize {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := lr.file.Write(p)
	lr.size += int64(n)
	return n, err
}

// Close closes the log file
func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return nil
	}
	err := lr.file.Close()
	lr.file = nil
	return err
}

// Rotate moves the current file aside and starts a new one
func (lr *LogRotator) Rotate() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rotate()
}

// Backups returns the rotated files, oldest first
func (lr *LogRotator) Backups() ([]string, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.backups()
}

func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return err
		}
		lr.file = nil
	}

	backup := lr.backupName()
	if err := os.Rename(lr.config.Filename, backup); err != nil && !os.IsNotExist(err) {
		return err
	}

	// Failures past this point lose old logs, never new ones.
	if lr.config.Compress {
		if err := compressFile(backup); err != nil {
			fmt.Fprintf(os.Stderr, "failed to compress log file %s: %v\n", backup, err)
		}
	}
	if err := lr.removeOldBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to remove old log files: %v\n", err)
	}

	return lr.openFile()
}

func (lr *LogRotator) openFile() error {
	if err := os.MkdirAll(filepath.Dir(lr.config.Filename), 0750); err != nil {
		return err
	}
	file, err := os.OpenFile(lr.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}

	lr.file = file
	lr.size = info.Size()
	return nil
}

// backupName is unique even for several rotations within one second.
func (lr *LogRotator) backupName() string {
	lr.seq++
	prefix, ext := lr.split()
	stamp := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s.%06d%s", prefix, stamp, lr.seq, ext)
}

func (lr *LogRotator) split() (string, string) {
	ext := filepath.Ext(lr.config.Filename)
	return strings.TrimSuffix(lr.config.Filename, ext), ext
}

func (lr *LogRotator) backups() ([]string, error) {
	prefix, _ := lr.split()
	matches, err := filepath.Glob(prefix + "-*")
	if err != nil {
		return nil, err
	}
	// Names embed a sortable timestamp and sequence.
	sort.Strings(matches)
	return matches, nil
}

func (lr *LogRotator) removeOldBackups() error {
	if lr.config.MaxBackups <= 0 {
		return nil
	}
	backups, err := lr.backups()
	if err != nil {
		return err
	}
	for len(backups) > lr.config.MaxBackups {
		if err := os.Remove(backups[0]); err != nil && !os.IsNotExist(err) {
			return err
		}
		backups = backups[1:]
	}
	return nil
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(filename+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = zw.Close()
		_ = dst.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}
