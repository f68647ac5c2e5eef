package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOrDefault(t *testing.T) {
	t.Setenv("CD_TEST_INT", "42")
	t.Setenv("CD_TEST_BAD_INT", "forty-two")
	t.Setenv("CD_TEST_UINT8", "200")
	t.Setenv("CD_TEST_UINT8_OVERFLOW", "300")
	t.Setenv("CD_TEST_DURATION", "1500ms")
	t.Setenv("CD_TEST_BOOL", "false")

	if got := OrDefault("CD_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := OrDefault("CD_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("expected default 7 for unparsable value, got %d", got)
	}
	if got := OrDefault("CD_TEST_UINT8", uint8(30)); got != 200 {
		t.Errorf("expected 200, got %d", got)
	}
	if got := OrDefault("CD_TEST_UINT8_OVERFLOW", uint8(30)); got != 30 {
		t.Errorf("expected default 30 for out of range value, got %d", got)
	}
	if got := OrDefault("CD_TEST_DURATION", time.Second); got != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %s", got)
	}
	if got := OrDefault("CD_TEST_BOOL", true); got != false {
		t.Errorf("expected false, got %t", got)
	}
	if got := OrDefault("CD_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CD_TEST_FROM_FILE=loaded\nCD_TEST_PRESET=from-file\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("CD_TEST_PRESET", "from-env")
	t.Cleanup(func() { os.Unsetenv("CD_TEST_FROM_FILE") })

	if err := Load(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("CD_TEST_FROM_FILE"); got != "loaded" {
		t.Errorf("expected loaded, got %q", got)
	}
	if got := os.Getenv("CD_TEST_PRESET"); got != "from-env" {
		t.Errorf("expected existing variable to win, got %q", got)
	}
}
