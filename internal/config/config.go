// Package config reads service settings from the environment (and an optional .env file).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"voc-insights-go/internal/aggregator"
	"voc-insights-go/internal/store"
	"voc-insights-go/internal/summarizer"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

type LLM struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Timeout      time.Duration
	MaxRetryTime time.Duration
	UseMock      bool
}

type Config struct {
	Port          string
	DataDir       string
	StoreBackend  string
	SQLitePath    string
	UploadDir     string
	FilePassword  string
	AdminPassword string
	SampleSize    int
	TopCategories int
	LLM           LLM
}

// Load reads envFile when it exists, then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("%s=%q is not a positive integer", key, v))
			return def
		}
		return n
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s=%q is not a positive duration", key, v))
			return def
		}
		return d
	}

	dataDir := envOr("DATA_DIR", "data")
	cfg := &Config{
		Port:          envOr("PORT", "8080"),
		DataDir:       dataDir,
		StoreBackend:  strings.ToLower(envOr("STORE_BACKEND", BackendJSON)),
		SQLitePath:    envOr("SQLITE_PATH", filepath.Join(dataDir, "monthly_data.db")),
		UploadDir:     envOr("UPLOAD_DIR", os.TempDir()),
		FilePassword:  os.Getenv("VOC_FILE_PASSWORD"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		SampleSize:    intVar("SUMMARY_SAMPLE_SIZE", summarizer.DefaultSampleSize),
		TopCategories: intVar("TOP_CATEGORIES", aggregator.DefaultTopCategories),
		LLM: LLM{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			BaseURL:      os.Getenv("OPENAI_BASE_URL"),
			Model:        envOr("LLM_MODEL", summarizer.DefaultModel),
			MaxTokens:    intVar("LLM_MAX_TOKENS", summarizer.DefaultMaxTokens),
			Timeout:      durVar("LLM_TIMEOUT", summarizer.DefaultTimeout),
			MaxRetryTime: durVar("LLM_MAX_RETRY_TIME", summarizer.DefaultMaxRetryTime),
			UseMock:      os.Getenv("USE_MOCK_LLM") == "true",
		},
	}
	if cfg.StoreBackend != BackendJSON && cfg.StoreBackend != BackendSQLite {
		errs = append(errs, fmt.Sprintf("STORE_BACKEND=%q (want json or sqlite)", cfg.StoreBackend))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Summarizer builds the configured summarizer.
func (c *Config) Summarizer() summarizer.Summarizer {
	if c.LLM.UseMock {
		return summarizer.Mock{}
	}
	return summarizer.NewOpenAI(summarizer.Options{
		APIKey:       c.LLM.APIKey,
		BaseURL:      c.LLM.BaseURL,
		Model:        c.LLM.Model,
		MaxTokens:    c.LLM.MaxTokens,
		Timeout:      c.LLM.Timeout,
		MaxRetryTime: c.LLM.MaxRetryTime,
	})
}

// OpenStore opens the configured snapshot store.
func (c *Config) OpenStore() (store.Store, error) {
	if c.StoreBackend == BackendSQLite {
		if err := os.MkdirAll(filepath.Dir(c.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return store.NewSQLiteStore(c.SQLitePath)
	}
	return store.NewFileStore(c.DataDir), nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
