package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pterm/pterm"
)

// TestLogFileIsPlain verifies the file sink receives JSON lines without any
// terminal escape codes, even with colors enabled for the console.
func TestLogFileIsPlain(t *testing.T) {
	pterm.EnableColor()
	path := filepath.Join(t.TempDir(), "commlink.log")

	closer := SetLogFile(path)
	t.Cleanup(func() { fileLogger = nil })

	LogInfo("link up on %s", "/dev/ttyACM0")
	LogWarning("queue full")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "\x1b[") {
		t.Errorf("log file contains ANSI escapes: %q", data)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %q: %v", lines[0], err)
	}
	if entry["msg"] != "link up on /dev/ttyACM0" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestSetLogFileEmptyPath(t *testing.T) {
	closer := SetLogFile("")
	if err := closer.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if fileLogger != nil {
		t.Error("empty path installed a file logger")
	}
}
