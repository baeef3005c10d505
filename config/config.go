package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for embedding workers and their backends.
type Config struct {
	Provider            string
	EmbeddingModel      string
	OutputDimension     int
	OpenAIBaseURL       string
	OpenAIAPIKey        string
	GoogleCloudProject  string
	GoogleCloudLocation string

	QueueSize    int
	CacheEnabled bool
	CacheSize    int64
	CacheTTL     time.Duration
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Provider:            getenv("EMBEDDING_PROVIDER", "vertex"),
		EmbeddingModel:      getenv("EMBEDDING_MODEL", "text-embedding-004"),
		OutputDimension:     getint("EMBEDDING_OUTPUT_DIMENSION", 0),
		OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		GoogleCloudProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		GoogleCloudLocation: os.Getenv("GOOGLE_CLOUD_LOCATION"),
		QueueSize:           getint("WORKER_QUEUE_SIZE", 0),
		CacheEnabled:        getbool("EMBEDDING_CACHE_ENABLED", true),
		CacheSize:           int64(getint("EMBEDDING_CACHE_SIZE", 0)),
		CacheTTL:            getduration("EMBEDDING_CACHE_TTL", 0),
	}
}

// LoadEnv loads environment variables from a .env file, searching up the
// directory tree.
func LoadEnv() error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return godotenv.Load(envPath)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached root
		}
		dir = parent
	}

	// Not found is fine
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getbool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
