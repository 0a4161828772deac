package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInit_WithDefaults_Succeeds(t *testing.T) {
	t.Setenv("ONTHEMAP_API_BASE_URL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_LEVELS", "")

	var buf bytes.Buffer
	cfg, logs, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil || logs == nil {
		t.Fatal("expected non-nil config and logger factory")
	}

	if cfg.APIBaseURL != "https://onthemap-api.udacity.com/v1/" {
		t.Errorf("APIBaseURL = %q, want default", cfg.APIBaseURL)
	}

	// slogのグローバルロガーがJSON出力になっていること
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_SubsystemLevels(t *testing.T) {
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("LOG_LEVELS", "api=debug")

	var buf bytes.Buffer
	_, logs, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	logs.Named("api").Debug("api debug")
	logs.Named("store").Debug("store debug")

	out := buf.String()
	if !strings.Contains(out, "api debug") {
		t.Errorf("api debug log should be written, got %s", out)
	}
	if strings.Contains(out, "store debug") {
		t.Errorf("store debug log should be filtered, got %s", out)
	}
}

func TestInit_WithInvalidConfig_ReturnsError(t *testing.T) {
	t.Setenv("ONTHEMAP_API_BASE_URL", "not-absolute")

	var buf bytes.Buffer
	cfg, logs, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for invalid base URL, got nil")
	}
	if cfg != nil || logs != nil {
		t.Error("expected nil config and factory on error")
	}
}
