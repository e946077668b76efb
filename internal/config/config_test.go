package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DetectorMinChars != 50 {
		t.Errorf("DetectorMinChars = %d, want 50", cfg.DetectorMinChars)
	}
	if cfg.DetectorScannedRatio != 0.5 {
		t.Errorf("DetectorScannedRatio = %v, want 0.5", cfg.DetectorScannedRatio)
	}
	if cfg.ChunkMaxChars != 16000 || cfg.ChunkOverlapChars != 800 {
		t.Errorf("chunking = (%d, %d), want (16000, 800)", cfg.ChunkMaxChars, cfg.ChunkOverlapChars)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryBaseWait != 4*time.Second || cfg.RetryMaxWait != 60*time.Second {
		t.Errorf("retry = (%d, %v, %v)", cfg.RetryAttempts, cfg.RetryBaseWait, cfg.RetryMaxWait)
	}
	if cfg.BreakerFailMax != 3 || cfg.BreakerResetTimeout != 60*time.Second {
		t.Errorf("breaker = (%d, %v)", cfg.BreakerFailMax, cfg.BreakerResetTimeout)
	}
	if cfg.MaxRetryCount != 4 {
		t.Errorf("MaxRetryCount = %d, want 4", cfg.MaxRetryCount)
	}
	if cfg.OCRRenderDPI != 150 {
		t.Errorf("OCRRenderDPI = %d, want 150", cfg.OCRRenderDPI)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DETECTOR_MIN_CHARS", "75")
	t.Setenv("DETECTOR_SCANNED_RATIO", "0.8")
	t.Setenv("EXTRACTION_RETRY_BASE_WAIT", "2s")
	t.Setenv("USE_MEMORY_STORE", "true")

	cfg := FromEnv()
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.DetectorMinChars != 75 {
		t.Errorf("DetectorMinChars = %d", cfg.DetectorMinChars)
	}
	if cfg.DetectorScannedRatio != 0.8 {
		t.Errorf("DetectorScannedRatio = %v", cfg.DetectorScannedRatio)
	}
	if cfg.RetryBaseWait != 2*time.Second {
		t.Errorf("RetryBaseWait = %v", cfg.RetryBaseWait)
	}
	if !cfg.UseMemoryStore {
		t.Error("UseMemoryStore should be true")
	}
}

func TestLocalModeFallsBackToMemory(t *testing.T) {
	t.Setenv("ENV", "local")
	t.Setenv("GCP_PROJECT_ID", "")
	t.Setenv("USE_MEMORY_STORE", "false")

	if cfg := FromEnv(); !cfg.UseMemoryStore {
		t.Error("local mode without a project should use the memory store")
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("DETECTOR_MIN_CHARS", "not-a-number")
	t.Setenv("OCR_HEALTH_TIMEOUT", "soon")

	cfg := FromEnv()
	if cfg.DetectorMinChars != 50 {
		t.Errorf("DetectorMinChars = %d, want default 50", cfg.DetectorMinChars)
	}
	if cfg.OCRHealthTimeout != 10*time.Second {
		t.Errorf("OCRHealthTimeout = %v, want default 10s", cfg.OCRHealthTimeout)
	}
}

func TestProduction(t *testing.T) {
	for env, want := range map[string]bool{"prod": true, "production": true, "local": false, "staging": false} {
		if got := (&Config{Env: env}).Production(); got != want {
			t.Errorf("Production(%q) = %v, want %v", env, got, want)
		}
	}
}
