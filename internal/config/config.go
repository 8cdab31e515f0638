package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// QueueConfig tunes one logical job queue.
type QueueConfig struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
}

type Config struct {
	DatabaseURL        string
	TokenEncryptionKey string // hex-encoded 32-byte AES key
	PollInterval       int    // seconds
	ShutdownTimeout    int    // seconds
	HTTPAddr           string
	PublicBaseURL      string

	SyncQueue    QueueConfig
	RefreshQueue QueueConfig
	WebhookQueue QueueConfig

	ExpiryScanInterval time.Duration
	ExpiryHorizon      time.Duration

	// Device health tunables
	StalenessThreshold   time.Duration
	CompletenessFloor    float64
	DefaultSamplesPerDay int
	GlucoseSamplesPerDay int

	// Provider credentials
	FitbitClientID     string
	FitbitClientSecret string
	DexcomClientID     string
	DexcomClientSecret string
	GoogleClientID     string
	GoogleClientSecret string
	TerraDevID         string
	TerraAPIKey        string
	TerraSigningSecret string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	encKey := os.Getenv("TOKEN_ENCRYPTION_KEY")
	if encKey == "" {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	if raw, err := hex.DecodeString(encKey); err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be a hex-encoded 32-byte key")
	}

	if os.Getenv("FITBIT_CLIENT_ID") == "" || os.Getenv("FITBIT_CLIENT_SECRET") == "" {
		fmt.Println("Warning: FITBIT_CLIENT_ID or FITBIT_CLIENT_SECRET not set, Fitbit sync will not work")
	}
	if os.Getenv("TERRA_DEV_ID") == "" || os.Getenv("TERRA_API_KEY") == "" {
		fmt.Println("Warning: TERRA_DEV_ID or TERRA_API_KEY not set, Terra sync will not work")
	}

	return &Config{
		DatabaseURL:        dbURL,
		TokenEncryptionKey: encKey,
		PollInterval:       envInt("POLL_INTERVAL", 10), // poll every 10 seconds
		ShutdownTimeout:    30,
		HTTPAddr:           envStr("HTTP_ADDR", ":8080"),
		PublicBaseURL:      envStr("PUBLIC_BASE_URL", "http://localhost:8080"),

		SyncQueue:    QueueConfig{Concurrency: 5, MaxAttempts: 3, BackoffBase: 5 * time.Second},
		RefreshQueue: QueueConfig{Concurrency: 10, MaxAttempts: 5, BackoffBase: 10 * time.Second},
		WebhookQueue: QueueConfig{Concurrency: 20, MaxAttempts: 3, BackoffBase: 3 * time.Second},

		ExpiryScanInterval: time.Hour,
		ExpiryHorizon:      envDuration("TOKEN_EXPIRY_HORIZON", time.Hour),

		StalenessThreshold:   envDuration("DEVICE_STALENESS_THRESHOLD", 2*time.Hour),
		CompletenessFloor:    envFloat("DEVICE_COMPLETENESS_FLOOR", 70.0),
		DefaultSamplesPerDay: envInt("DEVICE_SAMPLES_PER_DAY", 96),
		GlucoseSamplesPerDay: envInt("GLUCOSE_SAMPLES_PER_DAY", 288), // CGM emits a reading every 5 minutes

		FitbitClientID:     os.Getenv("FITBIT_CLIENT_ID"),
		FitbitClientSecret: os.Getenv("FITBIT_CLIENT_SECRET"),
		DexcomClientID:     os.Getenv("DEXCOM_CLIENT_ID"),
		DexcomClientSecret: os.Getenv("DEXCOM_CLIENT_SECRET"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		TerraDevID:         os.Getenv("TERRA_DEV_ID"),
		TerraAPIKey:        os.Getenv("TERRA_API_KEY"),
		TerraSigningSecret: os.Getenv("TERRA_SIGNING_SECRET"),
	}, nil
}

// SamplesPerDay returns the expected reading count per 24h for a provider,
// used by the device health completeness calculation.
func (c *Config) SamplesPerDay(provider string) int {
	if provider == "dexcom" {
		return c.GlucoseSamplesPerDay
	}
	return c.DefaultSamplesPerDay
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
