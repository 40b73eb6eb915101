// Package config loads the server configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gmail    GmailConfig    `yaml:"gmail"`
	Folders  FolderConfig   `yaml:"folders"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Auth     AuthConfig     `yaml:"auth"`
}

type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Duration is a time.Duration that unmarshals from the usual "10s"
// string form in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type GmailConfig struct {
	// PubSubTopic is the fully qualified topic the watch publishes to,
	// e.g. projects/autosort-prod/topics/gmail-notifications.
	PubSubTopic  string `yaml:"pubsub_topic"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// RPS caps outbound Gmail API calls per second.
	RPS int `yaml:"rps"`
}

type FolderConfig struct {
	// Prefix marks managed folders; dropping mail into a label whose
	// name starts with it teaches a rule.
	Prefix string `yaml:"prefix"`
	// BlackholeName is the well-known purge folder.
	BlackholeName string `yaml:"blackhole_name"`
}

type SweepConfig struct {
	PageSize    int `yaml:"page_size"`
	Concurrency int `yaml:"concurrency"`
}

type AuthConfig struct {
	// JWTSecret signs API bearer tokens (HS256).
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the configuration used when a field is absent.
func Default() Config {
	return Config{
		Server:   ServerConfig{Listen: ":8080", ShutdownTimeout: Duration(10 * time.Second)},
		Gmail:    GmailConfig{RPS: 4},
		Folders:  FolderConfig{Prefix: "@", BlackholeName: "@Blackhole"},
		Sweep:    SweepConfig{PageSize: 500, Concurrency: 4},
	}
}

// Load reads the YAML file at path, fills defaults, and applies
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.Listen, "AUTOSORT_LISTEN")
	set(&cfg.Database.URL, "AUTOSORT_DATABASE_URL")
	set(&cfg.Gmail.PubSubTopic, "AUTOSORT_PUBSUB_TOPIC")
	set(&cfg.Gmail.ClientID, "AUTOSORT_GOOGLE_CLIENT_ID")
	set(&cfg.Gmail.ClientSecret, "AUTOSORT_GOOGLE_CLIENT_SECRET")
	set(&cfg.Folders.Prefix, "AUTOSORT_FOLDER_PREFIX")
	set(&cfg.Folders.BlackholeName, "AUTOSORT_BLACKHOLE_NAME")
	set(&cfg.Auth.JWTSecret, "AUTOSORT_JWT_SECRET")
}

func (c Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (or AUTOSORT_DATABASE_URL)")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or AUTOSORT_JWT_SECRET)")
	}
	if c.Folders.Prefix == "" {
		return fmt.Errorf("folders.prefix must not be empty")
	}
	return nil
}
