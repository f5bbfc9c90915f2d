package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONWithFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "chatterm.log")

	logger, err := New(logPath, "work", Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello", Token("token", "abcdefghijklmnop"))
	_ = logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if line["profile"] != "work" {
		t.Errorf("profile field = %v, want work", line["profile"])
	}
	if line["token"] != "***mnop" {
		t.Errorf("token field = %v, want redacted", line["token"])
	}
	if strings.Contains(string(data), "abcdefgh") {
		t.Error("raw token leaked into log file")
	}
}

func TestLevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "chatterm.log")

	logger, err := New(logPath, "main", Options{Level: "warn"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	_ = logger.Sync()

	data, _ := os.ReadFile(logPath)
	if strings.Contains(string(data), "dropped") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("warn line missing")
	}
}

func TestBadLevel(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "x.log"), "main", Options{Level: "loud"}); err == nil {
		t.Error("New() expected error for unknown level")
	}
}

func TestRedact(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"short":            "***",
		"1|abcdefghijklmn": "***klmn",
	}
	for in, want := range tests {
		if got := Redact(in); got != want {
			t.Errorf("Redact(%q) = %q, want %q", in, got, want)
		}
	}
}
