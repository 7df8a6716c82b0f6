package logging

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileWriter fans zerolog JSON entries out to a console writer and, when
// configured, a rotating log file in plain line format.
type FileWriter struct {
	mu      sync.Mutex
	console io.Writer
	file    *lumberjack.Logger
}

// NewFileWriter creates a writer that formats entries for console on
// console (nil disables it) and appends them to path (empty disables it).
func NewFileWriter(console io.Writer, path string) *FileWriter {
	w := &FileWriter{}
	if console != nil {
		w.console = zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "15:04:05",
		}
	}
	if path != "" {
		w.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	return w
}

// Write implements io.Writer for zerolog.
func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.console != nil {
		if _, err := w.console.Write(p); err != nil {
			return 0, err
		}
	}
	if w.file != nil {
		if _, err := w.file.Write([]byte(formatFileLine(p, time.Now()))); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close closes the log file if open.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// formatFileLine renders one JSON entry as
// "2006-01-02 15:04:05.000 [LEVEL] component: message key=value ...".
func formatFileLine(p []byte, now time.Time) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		return now.Format("2006-01-02 15:04:05.000") + " [INFO] " + strings.TrimSpace(string(p)) + "\n"
	}

	level, _ := fields["level"].(string)
	if level == "" {
		level = "info"
	}
	component, _ := fields["component"].(string)
	if component == "" {
		component = "tracker"
	}
	msg, _ := fields["message"].(string)
	delete(fields, "level")
	delete(fields, "time")
	delete(fields, "message")
	delete(fields, "component")

	var b strings.Builder
	b.WriteString(now.Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(level))
	b.WriteString("] ")
	b.WriteString(component)
	b.WriteString(": ")
	b.WriteString(msg)
	for _, key := range sortedKeys(fields) {
		v, _ := json.Marshal(fields[key])
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.Write(v)
	}
	b.WriteString("\n")
	return b.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
