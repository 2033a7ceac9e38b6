// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AccountConfig holds credentials for a single mailbox account.
type AccountConfig struct {
	Provider     string `yaml:"provider"` // "gmail"
	AccountKey   string `yaml:"account_key"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// Config holds all configuration for the triage service.
type Config struct {
	Accounts []AccountConfig

	// Mail provider
	MailBaseURL string
	MailQuery   string
	MaxResults  int

	// Matcher service
	ClassifierURL string

	// Sync
	SyncInterval    time.Duration
	FetchTimeout    time.Duration
	ClassifyTimeout time.Duration

	// Storage
	DatabaseURL string
	RedisURL    string

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Accounts []struct {
		Provider     string `yaml:"provider"`
		AccountKey   string `yaml:"account_key"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RefreshToken string `yaml:"refresh_token"`
	} `yaml:"accounts"`
	Mail struct {
		BaseURL    string `yaml:"base_url"`
		Query      string `yaml:"query"`
		MaxResults int    `yaml:"max_results"`
	} `yaml:"mail"`
	Classifier struct {
		URL string `yaml:"url"`
	} `yaml:"classifier"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		MailBaseURL:     firstNonEmpty(raw.Mail.BaseURL, envOrDefault("MAIL_BASE_URL", "https://gmail.googleapis.com/gmail/v1")),
		MailQuery:       firstNonEmpty(raw.Mail.Query, envOrDefault("MAIL_QUERY", "category:primary newer_than:7d")),
		MaxResults:      raw.Mail.MaxResults,
		ClassifierURL:   firstNonEmpty(raw.Classifier.URL, os.Getenv("CLASSIFIER_URL")),
		SyncInterval:    envOrDefaultDuration("SYNC_INTERVAL", 15*time.Minute),
		FetchTimeout:    envOrDefaultDuration("FETCH_TIMEOUT", 30*time.Second),
		ClassifyTimeout: envOrDefaultDuration("CLASSIFY_TIMEOUT", 20*time.Second),
		DatabaseURL:     firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/jobdeck")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		Port:            envOrDefaultInt("PORT", 8080),
	}

	if cfg.ClassifierURL == "" {
		return nil, fmt.Errorf("classifier URL not configured")
	}

	// Build account configs
	for _, a := range raw.Accounts {
		ac := AccountConfig(a)

		// Skip accounts with empty credentials (commented out in YAML)
		if ac.ClientID == "" || ac.ClientSecret == "" || ac.RefreshToken == "" {
			continue
		}

		if ac.Provider == "" {
			ac.Provider = "gmail"
		}
		if ac.AccountKey == "" {
			ac.AccountKey = "default"
		}

		cfg.Accounts = append(cfg.Accounts, ac)
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured, check config.yaml and environment variables")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
