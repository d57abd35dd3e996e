package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Channel is a capture source. Chat channels are consumed through their
// RSS/Atom mirrors; Name becomes the chat_id of captured messages.
type Channel struct {
	Name string `yaml:"name" toml:"name"`
	URL  string `yaml:"url" toml:"url"`
}

type Config struct {
	Database struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"database" toml:"database"`

	Logging struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"` // text or json
	} `yaml:"logging" toml:"logging"`

	Capture struct {
		Channels  []Channel `yaml:"channels" toml:"channels"`
		BatchSize int       `yaml:"batch_size" toml:"batch_size"`
	} `yaml:"capture" toml:"capture"`

	Dedup struct {
		Threshold float64       `yaml:"threshold" toml:"threshold"`
		Window    time.Duration `yaml:"window" toml:"window"`
		BatchSize int           `yaml:"batch_size" toml:"batch_size"`
	} `yaml:"dedup" toml:"dedup"`

	Scoring struct {
		MinWords     int      `yaml:"min_words" toml:"min_words"`
		DropKeywords []string `yaml:"drop_keywords" toml:"drop_keywords"`
		KeepKeywords []string `yaml:"keep_keywords" toml:"keep_keywords"`
	} `yaml:"scoring" toml:"scoring"`

	Queue struct {
		SyncLimit int `yaml:"sync_limit" toml:"sync_limit"`
	} `yaml:"queue" toml:"queue"`

	Worker struct {
		Count               int           `yaml:"count" toml:"count"`
		BatchSize           int           `yaml:"batch_size" toml:"batch_size"`
		AdapterTimeout      time.Duration `yaml:"adapter_timeout" toml:"adapter_timeout"`
		FailMissingUpstream bool          `yaml:"fail_missing_upstream" toml:"fail_missing_upstream"`
	} `yaml:"worker" toml:"worker"`

	Ollama struct {
		BaseURL     string  `yaml:"base_url" toml:"base_url"`
		Model       string  `yaml:"model" toml:"model"`
		ConfigID    int64   `yaml:"config_id" toml:"config_id"`
		Temperature float64 `yaml:"temperature" toml:"temperature"`
	} `yaml:"ollama" toml:"ollama"`

	Prompts struct {
		Enrichment string `yaml:"enrichment,omitempty" toml:"enrichment,omitempty"`
	} `yaml:"prompts,omitempty" toml:"prompts,omitempty"`

	MQTT struct {
		Broker   string `yaml:"broker" toml:"broker"`
		ClientID string `yaml:"client_id" toml:"client_id"`
		Username string `yaml:"username" toml:"username"`
		Password string `yaml:"password" toml:"password"`
		Topic    string `yaml:"topic" toml:"topic"`
	} `yaml:"mqtt" toml:"mqtt"`

	Schedule struct {
		Timezone string `yaml:"timezone" toml:"timezone"`
		Capture  string `yaml:"capture" toml:"capture"`
		Dedup    string `yaml:"dedup" toml:"dedup"`
		Sync     string `yaml:"sync" toml:"sync"`
		Enrich   string `yaml:"enrich" toml:"enrich"`
	} `yaml:"schedule" toml:"schedule"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.Path = "./newsdesk.db"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Capture.BatchSize = 100
	cfg.Dedup.Threshold = 0.60
	cfg.Dedup.Window = 24 * time.Hour
	cfg.Dedup.BatchSize = 100
	cfg.Scoring.MinWords = 4
	cfg.Queue.SyncLimit = 100
	cfg.Worker.Count = 1
	cfg.Worker.BatchSize = 1
	cfg.Worker.AdapterTimeout = 2 * time.Minute
	cfg.Ollama.BaseURL = "http://localhost:11434"
	cfg.Ollama.Model = "llama3"
	cfg.Ollama.Temperature = 0.2
	cfg.MQTT.ClientID = "newsdesk"
	cfg.MQTT.Topic = "newsdesk/news"
	cfg.Schedule.Timezone = "UTC"
	cfg.Schedule.Capture = "@every 2m"
	cfg.Schedule.Dedup = "@every 1m"
	cfg.Schedule.Sync = "@every 1m"
	cfg.Schedule.Enrich = "@every 30s"
	return cfg
}

// LoadConfig overlays the file at path onto DefaultConfig. Files ending in
// .toml are decoded as TOML, anything else as YAML. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in the format implied by its extension.
func SaveConfig(cfg *Config, path string) error {
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		data = []byte(b.String())
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0600)
}
