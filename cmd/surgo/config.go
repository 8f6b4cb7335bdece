package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/surgo"
	"github.com/steveyegge/surgo/internal/reconnect"
	"github.com/steveyegge/surgo/internal/storage/sqlite"
)

// fileConfig is the YAML config file shape. Every field is optional;
// flags and SURGO_* env take precedence over file values.
type fileConfig struct {
	Endpoint  string           `yaml:"endpoint"`
	Namespace string           `yaml:"ns"`
	Database  string           `yaml:"db"`
	Token     string           `yaml:"token"`
	Encoding  string           `yaml:"encoding"`
	CacheDB   string           `yaml:"cache_db"`
	Reconnect *reconnectConfig `yaml:"reconnect"`
}

// reconnectConfig mirrors the policy variants in YAML form.
type reconnectConfig struct {
	Policy      string        `yaml:"policy"` // never, constant, backoff, always
	Delay       yamlDuration  `yaml:"delay"`
	Initial     yamlDuration  `yaml:"initial"`
	Max         yamlDuration  `yaml:"max"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

var loadedReconnect *reconnect.Policy

// loadFileConfig reads path (or the default location when path is
// empty) and seeds viper defaults from it.
func loadFileConfig(path string) error {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".config", "surgo", "config.yaml")
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	setDefault("endpoint", fc.Endpoint)
	setDefault("ns", fc.Namespace)
	setDefault("db", fc.Database)
	setDefault("token", fc.Token)
	setDefault("encoding", fc.Encoding)
	setDefault("cache-db", fc.CacheDB)
	if fc.Reconnect != nil {
		p, err := fc.Reconnect.policy()
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		loadedReconnect = &p
	}
	return nil
}

func setDefault(key, val string) {
	if val != "" {
		viper.SetDefault(key, val)
	}
}

func (rc *reconnectConfig) policy() (reconnect.Policy, error) {
	switch rc.Policy {
	case "never":
		return reconnect.Never(), nil
	case "constant":
		return reconnect.Constant(rc.Delay.d, rc.MaxAttempts), nil
	case "backoff", "":
		return reconnect.ExponentialBackoff(rc.Initial.d, rc.Max.d, rc.Multiplier, rc.MaxAttempts), nil
	case "always":
		return reconnect.AlwaysReconnect(rc.Initial.d, rc.Max.d, rc.Multiplier), nil
	default:
		return reconnect.Policy{}, fmt.Errorf("unknown reconnect policy %q", rc.Policy)
	}
}

// buildConfig assembles the library Config from the effective CLI
// settings.
func buildConfig() (*surgo.Config, error) {
	cfg := surgo.DefaultConfig()
	cfg.RequestTimeout = viper.GetDuration("timeout")

	switch enc := viper.GetString("encoding"); enc {
	case "", "json", "text":
		cfg.Encoding = surgo.EncodingText
	case "cbor", "binary":
		cfg.Encoding = surgo.EncodingBinary
	default:
		return nil, fmt.Errorf("unknown encoding %q (want json or cbor)", enc)
	}

	if loadedReconnect != nil {
		cfg.Reconnect = *loadedReconnect
	}

	if path := viper.GetString("cache-db"); path != "" {
		store, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		cfg.CacheStore = store
	}
	return cfg, nil
}
