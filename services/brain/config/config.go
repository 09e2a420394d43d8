// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the brain's process configuration.
//
// Values are layered, later layers winning: built-in defaults, an optional
// YAML file, a .env file in the working directory, then the process
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AquitariBrain/services/brain/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment variables read by Load.
const (
	EnvGraphPath      = "AQUITARI_GRAPH_PATH"
	EnvRedisHost      = "REDIS_HOST"
	EnvRedisPort      = "REDIS_PORT"
	EnvRedisDB        = "REDIS_DB"
	EnvClassifierURL  = "AQUITARI_CLASSIFIER_URL"
	EnvEmbeddingURL   = "AQUITARI_EMBEDDING_URL"
	EnvEmbeddingModel = "AQUITARI_EMBEDDING_MODEL"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvLogLevel       = "AQUITARI_LOG_LEVEL"
	EnvHTTPAddr       = "AQUITARI_HTTP_ADDR"
)

// Config is the full process configuration.
type Config struct {
	Graph     GraphConfig      `yaml:"graph"`
	Redis     RedisConfig      `yaml:"redis"`
	Linker    LinkerConfig     `yaml:"linker"`
	Embedding EmbeddingConfig  `yaml:"embedding"`
	HTTP      HTTPConfig       `yaml:"http"`
	Log       LogConfig        `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// GraphConfig locates the document and tunes diagnosis.
type GraphConfig struct {
	Path          string        `yaml:"path" validate:"required"`
	SafeModeID    string        `yaml:"safe_mode_id" validate:"required"`
	TraceDepth    int           `yaml:"trace_depth" validate:"min=1,max=16"`
	WatchDebounce time.Duration `yaml:"watch_debounce" validate:"gte=0"`
}

// RedisConfig locates the feedback channel.
type RedisConfig struct {
	Host    string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	DB      int    `yaml:"db" validate:"min=0"`
	Channel string `yaml:"channel" validate:"required"`
}

// URL returns the go-redis connection URL.
func (r RedisConfig) URL() string {
	return fmt.Sprintf("redis://%s:%d/%d", r.Host, r.Port, r.DB)
}

// LinkerConfig tunes enrichment passes.
type LinkerConfig struct {
	Threshold         float64       `yaml:"threshold" validate:"gt=0,lte=1"`
	LexicalRelation   string        `yaml:"lexical_relation" validate:"required"`
	FallbackRelation  string        `yaml:"fallback_relation" validate:"required"`
	Semantic          bool          `yaml:"semantic"`
	Classifier        string        `yaml:"classifier" validate:"oneof=webhook llm static"`
	ClassifierURL     string        `yaml:"classifier_url" validate:"omitempty,url"`
	ClassifierModel   string        `yaml:"classifier_model"`
	ClassifierTimeout time.Duration `yaml:"classifier_timeout" validate:"gt=0"`
	ClassifierRPS     float64       `yaml:"classifier_rps" validate:"gte=0"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Model   string        `yaml:"model" validate:"required"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// CacheDir holds the badger embedding cache. Empty disables caching;
	// InMemoryCacheDir keeps the cache for the life of the process.
	CacheDir string        `yaml:"cache_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// InMemoryCacheDir selects an in-memory embedding cache.
const InMemoryCacheDir = ":memory:"

// HTTPConfig configures the query server.
type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		Graph: GraphConfig{
			Path:          "brain_graph.json",
			SafeModeID:    "safe_mode",
			TraceDepth:    2,
			WatchDebounce: 100 * time.Millisecond,
		},
		Redis: RedisConfig{
			Host:    "localhost",
			Port:    6379,
			DB:      0,
			Channel: "feedback_channel",
		},
		Linker: LinkerConfig{
			Threshold:         0.35,
			LexicalRelation:   "RELATED_TFIDF",
			FallbackRelation:  "UNKNOWN_RELATION",
			Semantic:          true,
			Classifier:        "webhook",
			ClassifierModel:   "gpt-4o-mini",
			ClassifierTimeout: 10 * time.Second,
		},
		Embedding: EmbeddingConfig{
			BaseURL:  "http://localhost:11434/v1",
			Model:    "all-minilm",
			Timeout:  30 * time.Second,
			CacheTTL: 30 * 24 * time.Hour,
		},
		HTTP:      HTTPConfig{Addr: ":12230"},
		Log:       LogConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load builds the configuration.
//
// # Inputs
//
//   - path: YAML file to read. Empty skips the file; a named file that does
//     not exist is an error.
//   - dotenv: .env files to load into the environment. Missing files are
//     skipped. Variables already set in the environment are not replaced.
//
// # Outputs
//
//   - Config: The validated configuration.
//   - error: File, parse, environment or validation failure.
func Load(path string, dotenv ...string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ClassifierKind resolves which classifier to build. A webhook classifier
// without a URL degrades to the static fallback.
func (c Config) ClassifierKind() string {
	if c.Linker.Classifier == "webhook" && c.Linker.ClassifierURL == "" {
		return "static"
	}
	return c.Linker.Classifier
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Graph.Path, EnvGraphPath)
	setString(&cfg.Redis.Host, EnvRedisHost)
	setString(&cfg.Linker.ClassifierURL, EnvClassifierURL)
	setString(&cfg.Embedding.BaseURL, EnvEmbeddingURL)
	setString(&cfg.Embedding.Model, EnvEmbeddingModel)
	setString(&cfg.Embedding.APIKey, EnvOpenAIKey)
	setString(&cfg.Log.Level, EnvLogLevel)
	setString(&cfg.HTTP.Addr, EnvHTTPAddr)

	if err := setInt(&cfg.Redis.Port, EnvRedisPort); err != nil {
		return err
	}
	return setInt(&cfg.Redis.DB, EnvRedisDB)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
	}
	*dst = n
	return nil
}
