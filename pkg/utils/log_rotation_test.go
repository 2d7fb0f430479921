package utils

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestNewLogRotator(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "cradle.log")

	rotator, err := NewLogRotator(RotationConfig{Filename: logFile})
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	if _, err := os.Stat(logFile); err != nil {
		t.Errorf("Log file was not created: %v", err)
	}

	if _, err := NewLogRotator(RotationConfig{}); err == nil {
		t.Error("Expected an error without a filename")
	}
}

func TestLogRotator_RotatesBySize(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cradle.log")
	rotator, err := NewLogRotator(RotationConfig{Filename: logFile, MaxSize: 32})
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	line := []byte("0123456789abcdef0123456789\n") // 27 bytes
	for i := 0; i < 3; i++ {
		n, err := rotator.Write(line)
		if err != nil || n != len(line) {
			t.Fatalf("Write = %d, %v", n, err)
		}
	}

	backups, err := rotator.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("Expected 2 backups, got %v", backups)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(line) {
		t.Errorf("current file = %q", data)
	}
}

func TestLogRotator_MaxBackups(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cradle.log")
	rotator, err := NewLogRotator(RotationConfig{Filename: logFile, MaxBackups: 2})
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	for i := 0; i < 5; i++ {
		if _, err := rotator.Write([]byte{'a' + byte(i), '\n'}); err != nil {
			t.Fatal(err)
		}
		if err := rotator.Rotate(); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
	}

	backups, _ := rotator.Backups()
	if len(backups) != 2 {
		t.Fatalf("Expected 2 backups, got %v", backups)
	}
	newest, err := os.ReadFile(backups[1])
	if err != nil {
		t.Fatal(err)
	}
	if string(newest) != "e\n" {
		t.Errorf("newest backup = %q, want %q", newest, "e\n")
	}
}

func TestLogRotator_Compress(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cradle.log")
	rotator, err := NewLogRotator(RotationConfig{Filename: logFile, Compress: true})
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	message := "cache core started\n"
	if _, err := rotator.Write([]byte(message)); err != nil {
		t.Fatal(err)
	}
	if err := rotator.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	backups, _ := rotator.Backups()
	if len(backups) != 1 || !strings.HasSuffix(backups[0], ".log.gz") {
		t.Fatalf("Expected one compressed backup, got %v", backups)
	}

	f, err := os.Open(backups[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != message {
		t.Errorf("decompressed = %q, want %q", data, message)
	}
}

func TestLogRotator_WriteAfterClose(t *testing.T) {
	rotator, err := NewLogRotator(RotationConfig{Filename: filepath.Join(t.TempDir(), "cradle.log")})
	if err != nil {
		t.Fatal(err)
	}
	if err := rotator.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := rotator.Write([]byte("late\n")); err == nil {
		t.Error("Expected an error writing to a closed rotator")
	}
	if err := rotator.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
