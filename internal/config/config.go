package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Quiz struct {
		QuestionCount   int    `yaml:"question_count"`
		AnswerTimeLimit string `yaml:"answer_time_limit"`
		Lobby           string `yaml:"lobby"`
		RateLimit       string `yaml:"rate_limit"`
		Points          int    `yaml:"points"`
		DefaultCategory string `yaml:"default_category"`
		DataDir         string `yaml:"data_dir"`
		XLSX            string `yaml:"xlsx"`
		TTL             string `yaml:"ttl"`
	} `yaml:"quiz"`
	Discord struct {
		Token    string   `yaml:"token"`
		Prefix   string   `yaml:"prefix"`
		Channels []string `yaml:"channels"`
	} `yaml:"discord"`
	Admins []string `yaml:"admins"`
}

// Default values used when the YAML leaves a field out.
const (
	DefaultQuestionCount   = 10
	DefaultAnswerTimeLimit = 30 * time.Second
	DefaultLobby           = 30 * time.Second
	DefaultCategory        = "random"
	DefaultPort            = "8080"
)

// Load reads YAML config from path and applies environment overrides.
// A missing file yields the defaults so the service can run on env alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Quiz.QuestionCount == 0 {
		c.Quiz.QuestionCount = DefaultQuestionCount
	}
	if c.Quiz.Points == 0 {
		c.Quiz.Points = 1
	}
	if c.Quiz.DefaultCategory == "" {
		c.Quiz.DefaultCategory = DefaultCategory
	}
	if c.Discord.Prefix == "" {
		c.Discord.Prefix = "!"
	}
}

// Validate rejects settings a quiz cannot run with.
func (c Config) Validate() error {
	if c.Quiz.QuestionCount <= 0 {
		return fmt.Errorf("quiz.question_count must be positive, got %d", c.Quiz.QuestionCount)
	}
	if c.Quiz.Points <= 0 {
		return fmt.Errorf("quiz.points must be positive, got %d", c.Quiz.Points)
	}
	for name, raw := range map[string]string{
		"quiz.answer_time_limit": c.Quiz.AnswerTimeLimit,
		"quiz.lobby":             c.Quiz.Lobby,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, raw)
		}
	}
	if c.Quiz.RateLimit != "" {
		d, err := time.ParseDuration(c.Quiz.RateLimit)
		if err != nil {
			return fmt.Errorf("quiz.rate_limit: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("quiz.rate_limit must not be negative, got %s", c.Quiz.RateLimit)
		}
	}
	return nil
}

func (c Config) AnswerTimeLimit() time.Duration {
	return Duration(c.Quiz.AnswerTimeLimit, DefaultAnswerTimeLimit)
}

func (c Config) LobbyDuration() time.Duration {
	return Duration(c.Quiz.Lobby, DefaultLobby)
}

func (c Config) RateLimit() time.Duration {
	return Duration(c.Quiz.RateLimit, 0)
}

// Duration parses a duration string or returns the fallback if empty.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
