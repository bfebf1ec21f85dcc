package config

import "time"

// Config is the complete hostbridge configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Session SessionConfig `yaml:"session"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Jobs    JobsConfig    `yaml:"jobs"`
	API     APIConfig     `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	TickInterval time.Duration `yaml:"tick_interval"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	LockFile     string        `yaml:"lock_file,omitempty"`
}

// SessionConfig defines the session store location. An empty path selects the
// in-memory store, where job records deliberately do not survive a reload.
type SessionConfig struct {
	Path string `yaml:"path"`
}

// BridgeConfig tunes the request dispatch bridge.
type BridgeConfig struct {
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`
	RetryHintMS   int           `yaml:"retry_hint_ms"`
}

// JobsConfig tunes the job lifecycle manager.
type JobsConfig struct {
	// Retention caps records kept per kind.
	Retention int `yaml:"retention"`
	// KindRetention overrides Retention for specific kinds.
	KindRetention map[string]int `yaml:"kind_retention,omitempty"`
	// SweepInterval is how often advisory stuck/orphan checks run; 0 disables.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// APIConfig defines HTTP transport settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// APIKey is an optional bearer token; empty disables auth.
	APIKey string `yaml:"api_key,omitempty"`
}
