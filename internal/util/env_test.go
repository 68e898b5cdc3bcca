package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("GUIAIA_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("GUIAIA_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 5 * time.Second},
		{"2m", 2 * time.Minute},
		{"45", 45 * time.Second},
		{"soon", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("GUIAIA_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("GUIAIA_TEST_DURATION", 5*time.Second); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("GUIAIA_TEST_INT", " 250 ")
	if got := ParseIntEnv("GUIAIA_TEST_INT", 10); got != 250 {
		t.Errorf("ParseIntEnv = %d, want 250", got)
	}
	t.Setenv("GUIAIA_TEST_INT", "many")
	if got := ParseIntEnv("GUIAIA_TEST_INT", 10); got != 10 {
		t.Errorf("ParseIntEnv with garbage = %d, want default", got)
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("GUIAIA_TEST_STR", "  ")
	if got := EnvOrDefault("GUIAIA_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("blank value should fall back, got %q", got)
	}
	t.Setenv("GUIAIA_TEST_STR", " value ")
	if got := EnvOrDefault("GUIAIA_TEST_STR", "fallback"); got != "value" {
		t.Errorf("EnvOrDefault = %q, want value", got)
	}
}
