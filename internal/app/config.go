package app

import (
	"time"

	"github.com/lullabyte/lullabyte-backend/internal/platform/envutil"
)

type Config struct {
	Port        string
	Environment string

	SessionTTL       time.Duration
	SessionStoreMode string // "redis" or "memory"
	MediaStoreMode   string // "gcs" or "memory"
	FakeGeneration   bool
}

func LoadConfig() Config {
	return Config{
		Port:             envutil.String("PORT", "8080"),
		Environment:      envutil.String("APP_ENV", "development"),
		SessionTTL:       envutil.Hours("SESSION_TTL_HOURS", 12*time.Hour),
		SessionStoreMode: envutil.String("SESSION_STORE_MODE", "redis"),
		MediaStoreMode:   envutil.String("MEDIA_STORE_MODE", "gcs"),
		FakeGeneration:   envutil.Bool("STORY_FAKE_GENERATION", false),
	}
}
