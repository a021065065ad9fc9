package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port      int              `json:"port"`
	Database  DatabaseConfig   `json:"database"`
	LogConfig logger.LogConfig `json:"log_config"`
	FileStore FileStoreConfig  `json:"file_store"`
	Parser    ParserConfig     `json:"parser"`
	Embedder  EmbedderConfig   `json:"embedder"`
	Pipeline  PipelineConfig   `json:"pipeline"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ParserConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type EmbedderConfig struct {
	Type  string      `json:"type"`
	Model string      `json:"model"`
	Data  interface{} `json:"data"`
}

type PipelineConfig struct {
	Workers         int `json:"workers"`
	PollIntervalSec int `json:"poll_interval_sec"`
	ClaimBatch      int `json:"claim_batch"`
	MaxRetries      int `json:"max_retries"`
	StuckAfterSec   int `json:"stuck_after_sec"`
	EmbedBatchSize  int `json:"embed_batch_size"`
	EmbedCacheSize  int `json:"embed_cache_size"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8180
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.Parser.Type == "" {
		cfg.Parser.Type = "docconv"
	}
	if cfg.Embedder.Type == "" {
		return nil, fmt.Errorf("embedder.type is required")
	}
	applyPipelineDefaults(&cfg.Pipeline)
	return &cfg, nil
}

func applyPipelineDefaults(p *PipelineConfig) {
	if p.Workers == 0 {
		p.Workers = 4
	}
	if p.PollIntervalSec == 0 {
		p.PollIntervalSec = 2
	}
	if p.ClaimBatch == 0 {
		p.ClaimBatch = 8
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.StuckAfterSec == 0 {
		p.StuckAfterSec = 900
	}
	if p.EmbedBatchSize == 0 {
		p.EmbedBatchSize = 16
	}
	if p.EmbedCacheSize == 0 {
		p.EmbedCacheSize = 4096
	}
}
