package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Embedding EmbeddingConfig
	Session   SessionConfig
	Retrieval RetrievalConfig
	Storage   StorageConfig
	Log       LogConfig
	API       APIConfig
}

type ServerConfig struct {
	Port int
}

type EmbeddingConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type RetrievalConfig struct {
	TopK int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
			Timeout: 15 * time.Second,
		},
		Session: SessionConfig{
			TTL:           2 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			TopK: 10,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".invochat"
	}
	return filepath.Join(home, ".local", "share", "invochat")
}

// Load builds configuration from defaults and INVOCHAT_* environment
// variables. The API bearer token has no default and must be provided.
func Load() (Config, error) {
	return loadWith(os.Getenv)
}

// loadWith accepts the env lookup so tests can inject one.
func loadWith(getenv func(string) string) (Config, error) {
	cfg := defaults()

	if v := getenv("INVOCHAT_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INVOCHAT_PORT %q: %w", v, err)
		}
		cfg.Server.Port = p
	}
	if v := getenv("INVOCHAT_EMBED_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := getenv("INVOCHAT_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := getenv("INVOCHAT_EMBED_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INVOCHAT_EMBED_TIMEOUT %q: %w", v, err)
		}
		cfg.Embedding.Timeout = d
	}
	if v := getenv("INVOCHAT_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INVOCHAT_SESSION_TTL %q: %w", v, err)
		}
		cfg.Session.TTL = d
	}
	if v := getenv("INVOCHAT_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INVOCHAT_SWEEP_INTERVAL %q: %w", v, err)
		}
		cfg.Session.SweepInterval = d
	}
	if v := getenv("INVOCHAT_TOP_K"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k <= 0 {
			return Config{}, fmt.Errorf("invalid INVOCHAT_TOP_K %q", v)
		}
		cfg.Retrieval.TopK = k
	}
	if v := getenv("INVOCHAT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("INVOCHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	cfg.API.Token = getenv("INVOCHAT_API_TOKEN")

	if cfg.API.Token == "" {
		return Config{}, fmt.Errorf("missing required config: API bearer token. Set it via environment variable INVOCHAT_API_TOKEN")
	}

	return cfg, nil
}
