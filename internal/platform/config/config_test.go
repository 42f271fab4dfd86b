package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("ARCHIVE_TEST_STR", "sqlite")
	if got := GetEnv("ARCHIVE_TEST_STR", "memory"); got != "sqlite" {
		t.Errorf("got %q", got)
	}
	if got := GetEnv("ARCHIVE_TEST_UNSET", "memory"); got != "memory" {
		t.Errorf("fallback: got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("ARCHIVE_TEST_INT", "64")
	t.Setenv("ARCHIVE_TEST_BAD", "lots")
	if got := GetEnvInt("ARCHIVE_TEST_INT", 1); got != 64 {
		t.Errorf("got %d", got)
	}
	if got := GetEnvInt("ARCHIVE_TEST_BAD", 1); got != 1 {
		t.Errorf("invalid value should fall back, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"1.5s", 1500 * time.Millisecond},
		{"10m", 10 * time.Minute},
		{"2", 2 * time.Second},
		{"0.25", 250 * time.Millisecond},
		{"soon", time.Hour},
		{"", time.Hour},
	}
	for _, tt := range tests {
		t.Setenv("ARCHIVE_TEST_DUR", tt.val)
		if got := GetEnvDuration("ARCHIVE_TEST_DUR", time.Hour); got != tt.want {
			t.Errorf("%q: got %v want %v", tt.val, got, tt.want)
		}
	}
}

func TestGetEnvFloatAndBool(t *testing.T) {
	t.Setenv("ARCHIVE_TEST_FLOAT", "0.5")
	t.Setenv("ARCHIVE_TEST_BOOL", "true")
	if got := GetEnvFloat("ARCHIVE_TEST_FLOAT", 1); got != 0.5 {
		t.Errorf("float: got %v", got)
	}
	if !GetEnvBool("ARCHIVE_TEST_BOOL", false) {
		t.Error("bool: expected true")
	}
	if GetEnvBool("ARCHIVE_TEST_UNSET", false) {
		t.Error("bool fallback: expected false")
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(p, []byte("ARCHIVE_TEST_FROM_FILE=minio\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("ARCHIVE_TEST_FROM_FILE") })
	if err := Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("ARCHIVE_TEST_FROM_FILE", ""); got != "minio" {
		t.Errorf("got %q", got)
	}
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
