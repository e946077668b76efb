// Package config assembles service configuration from the environment.
// Every knob has a default; a zero-config start works in local mode with
// the in-memory store and bucket.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Env            string
	Port           string
	ProjectID      string
	BucketName     string
	UseMemoryStore bool
	TaskAuthToken  string
	MaxUploadBytes int64

	// Gemini extraction tiers.
	GeminiAPIKey     string
	GeminiFlashModel string
	GeminiProModel   string
	MaxOutputTokens  int

	// GPU OCR service.
	OCRServiceURL       string
	OCRAPIKey           string
	OCRMaxWorkers       int
	OCRRenderDPI        int
	OCRHealthTimeout    time.Duration
	OCRRequestTimeout   time.Duration
	BreakerFailMax      int
	BreakerResetTimeout time.Duration

	// Scanned-page detection.
	DetectorMinChars     int
	DetectorScannedRatio float64

	// Chunking.
	ChunkMaxChars     int
	ChunkOverlapChars int

	// Transient-error retry for the grounded extraction path.
	RetryAttempts int
	RetryBaseWait time.Duration
	RetryMaxWait  time.Duration

	// Task redelivery budget, counted in prior attempts.
	MaxRetryCount int

	// CredentialsFile points at a service-account key for Firestore and
	// Cloud Storage. Empty uses application default credentials.
	CredentialsFile string
}

// FromEnv reads the environment and returns a fully-defaulted Config.
func FromEnv() *Config {
	cfg := &Config{
		Env:            getEnv("ENV", "local"),
		Port:           getEnv("PORT", "8080"),
		ProjectID:      getEnv("GCP_PROJECT_ID", ""),
		BucketName:     getEnv("GCS_BUCKET", "loan-documents"),
		UseMemoryStore: getEnvBool("USE_MEMORY_STORE", false),
		TaskAuthToken:  getEnv("TASK_AUTH_TOKEN", ""),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 20<<20),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiFlashModel: getEnv("GEMINI_FLASH_MODEL", "gemini-2.0-flash"),
		GeminiProModel:   getEnv("GEMINI_PRO_MODEL", "gemini-2.5-pro"),
		MaxOutputTokens:  getEnvInt("GEMINI_MAX_OUTPUT_TOKENS", 8192),

		OCRServiceURL:       getEnv("OCR_SERVICE_URL", ""),
		OCRAPIKey:           getEnv("OCR_API_KEY", ""),
		OCRMaxWorkers:       getEnvInt("OCR_MAX_WORKERS", 4),
		OCRRenderDPI:        getEnvInt("OCR_RENDER_DPI", 150),
		OCRHealthTimeout:    getEnvDuration("OCR_HEALTH_TIMEOUT", 10*time.Second),
		OCRRequestTimeout:   getEnvDuration("OCR_REQUEST_TIMEOUT", 120*time.Second),
		BreakerFailMax:      getEnvInt("OCR_BREAKER_FAIL_MAX", 3),
		BreakerResetTimeout: getEnvDuration("OCR_BREAKER_RESET_TIMEOUT", 60*time.Second),

		DetectorMinChars:     getEnvInt("DETECTOR_MIN_CHARS", 50),
		DetectorScannedRatio: getEnvFloat("DETECTOR_SCANNED_RATIO", 0.5),

		ChunkMaxChars:     getEnvInt("CHUNK_MAX_CHARS", 16000),
		ChunkOverlapChars: getEnvInt("CHUNK_OVERLAP_CHARS", 800),

		RetryAttempts: getEnvInt("EXTRACTION_RETRY_ATTEMPTS", 3),
		RetryBaseWait: getEnvDuration("EXTRACTION_RETRY_BASE_WAIT", 4*time.Second),
		RetryMaxWait:  getEnvDuration("EXTRACTION_RETRY_MAX_WAIT", 60*time.Second),

		MaxRetryCount: getEnvInt("TASK_MAX_RETRY_COUNT", 4),

		CredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
	}

	// Local mode with no project falls back to in-process storage so the
	// binary runs without GCP credentials.
	if cfg.Env == "local" && cfg.ProjectID == "" {
		cfg.UseMemoryStore = true
	}
	return cfg
}

// Production reports whether the service runs with production logging.
func (c *Config) Production() bool {
	env := strings.ToLower(c.Env)
	return env == "prod" || env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
