package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormatFileLine(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	line := formatFileLine([]byte(`{"level":"warn","component":"push","message":"dial failed","cloth_id":42}`), now)

	want := "2024-05-01 09:30:00.000 [WARN] push: dial failed cloth_id=42\n"
	if line != want {
		t.Errorf("Expected %q, got %q", want, line)
	}
}

func TestFormatFileLineNonJSON(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	line := formatFileLine([]byte("plain text\n"), now)

	if !strings.HasSuffix(line, "[INFO] plain text\n") {
		t.Errorf("Unexpected line: %q", line)
	}
}

func TestFileWriterWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.log")
	w := NewFileWriter(nil, path)

	logger := NewWithWriter(w).With("engine")
	logger.Info().Int64("cloth_id", 7).Msg("upload registered")
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "[INFO] engine: upload registered cloth_id=7") {
		t.Errorf("Log file missing entry: %s", data)
	}
}
