package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
	// AllowNoKey permits local endpoints such as Ollama that need no key.
	AllowNoKey bool `yaml:"allow_no_key"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// StoreConfig selects the knowledge store holding taught answers.
type StoreConfig struct {
	Type   string       `yaml:"type"`
	SQLite *SQLiteConfig `yaml:"sqlite,omitempty"`
	Redis  *RedisConfig  `yaml:"redis,omitempty"`
}

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig contains connection details for a Redis knowledge store.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
}

// IndexConfig selects where built indexes are snapshotted.
type IndexConfig struct {
	Snapshot string        `yaml:"snapshot"`
	File     *FileConfig   `yaml:"file,omitempty"`
	Qdrant   *QdrantConfig `yaml:"qdrant,omitempty"`
}

// FileConfig locates a snapshot file.
type FileConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant snapshot collection.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrievalConfig holds the retrieval policy values.
type RetrievalConfig struct {
	MatchThreshold float64 `yaml:"match_threshold"`
	TieBand        float64 `yaml:"tie_band"`
	MaxMultiple    int     `yaml:"max_multiple"`
	ShortSentences int     `yaml:"short_sentences"`
	BuildWorkers   int     `yaml:"build_workers"`
	// Seed fixes the tie-break order when non-zero.
	Seed uint64 `yaml:"seed"`
}

// IntentConfig configures follow-up intent detection.
type IntentConfig struct {
	Threshold     float64 `yaml:"threshold"`
	ExemplarsPath string  `yaml:"exemplars_path"`
}

// SearchConfig configures the external lookup providers.
type SearchConfig struct {
	Providers     []string `yaml:"providers"`
	TimeoutSecs   int      `yaml:"timeout_secs"`
	MaxRetries    int      `yaml:"max_retries"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	MaxSentences  int      `yaml:"max_sentences"`
	UserAgent     string   `yaml:"user_agent"`
	WikipediaURL  string   `yaml:"wikipedia_url"`
	DuckDuckGoURL string   `yaml:"duckduckgo_url"`
}

// SessionConfig controls conversation session lifetime.
type SessionConfig struct {
	IdleTTLMins int `yaml:"idle_ttl_mins"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Intent    IntentConfig    `yaml:"intent"`
	Search    SearchConfig    `yaml:"search"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./learnbot.yaml first, then ~/.config/learnbot/config.yaml.
// If neither exists, it writes defaults to ~/.config/learnbot/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "learnbot.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DataDir is where file-backed stores live by default.
func DataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "learnbot")
	}
	return "data"
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "learnbot", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder: EmbedderConfig{Type: "tfidf", Dimension: 1024},
		Store:    StoreConfig{Type: "sqlite"},
		Index:    IndexConfig{Snapshot: "file"},
		Retrieval: RetrievalConfig{
			MatchThreshold: 0.45,
			TieBand:        0.01,
			MaxMultiple:    3,
			ShortSentences: 2,
			BuildWorkers:   4,
		},
		Intent: IntentConfig{Threshold: 0.7},
		Search: SearchConfig{
			Providers:     []string{"wikipedia", "duckduckgo"},
			TimeoutSecs:   10,
			MaxRetries:    2,
			RatePerSecond: 2,
			MaxSentences:  3,
			UserAgent:     "learnbot/1.0",
		},
		Session: SessionConfig{IdleTTLMins: 60},
		Logging: LoggingConfig{Level: "info"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 3
		}
	}
	switch cfg.Store.Type {
	case "", "sqlite":
		cfg.Store.Type = "sqlite"
		if cfg.Store.SQLite == nil {
			cfg.Store.SQLite = &SQLiteConfig{}
		}
		if cfg.Store.SQLite.Path == "" {
			cfg.Store.SQLite.Path = filepath.Join(DataDir(), "learnbot.db")
		}
	case "redis":
		if cfg.Store.Redis == nil {
			cfg.Store.Redis = &RedisConfig{}
		}
		if cfg.Store.Redis.Addr == "" {
			cfg.Store.Redis.Addr = "localhost:6379"
		}
		if cfg.Store.Redis.Prefix == "" {
			cfg.Store.Redis.Prefix = "learnbot"
		}
	}
	switch cfg.Index.Snapshot {
	case "file":
		if cfg.Index.File == nil {
			cfg.Index.File = &FileConfig{}
		}
		if cfg.Index.File.Path == "" {
			cfg.Index.File.Path = filepath.Join(DataDir(), "index.json")
		}
	case "qdrant":
		if cfg.Index.Qdrant == nil {
			cfg.Index.Qdrant = &QdrantConfig{}
		}
		if cfg.Index.Qdrant.URL == "" {
			cfg.Index.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.Index.Qdrant.Collection == "" {
			cfg.Index.Qdrant.Collection = "learnbot"
		}
		if cfg.Index.Qdrant.TimeoutSecs == 0 {
			cfg.Index.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Intent.Threshold == 0 {
		cfg.Intent.Threshold = 0.7
	}
	if cfg.Search.MaxSentences == 0 {
		cfg.Search.MaxSentences = 3
	}
	if cfg.Search.TimeoutSecs == 0 {
		cfg.Search.TimeoutSecs = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
