package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, expands, defaults and validates configuration from a file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration usable without any file on disk.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvVars substitutes ${VAR} references. An unset variable is an error
// rather than a silent empty string.
func expandEnvVars(s string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined environment variable(s) in config: %v", missing)
	}
	return out, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "hostbridge"
	}
	if cfg.Service.TickInterval <= 0 {
		cfg.Service.TickInterval = 10 * time.Millisecond
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "INFO"
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = "json"
	}
	if cfg.Bridge.InvokeTimeout <= 0 {
		cfg.Bridge.InvokeTimeout = 30 * time.Second
	}
	if cfg.Bridge.RetryHintMS <= 0 {
		cfg.Bridge.RetryHintMS = 1000
	}
	if cfg.Jobs.Retention <= 0 {
		cfg.Jobs.Retention = 10
	}
	if cfg.Jobs.SweepInterval < 0 {
		cfg.Jobs.SweepInterval = 0
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8085"
	}
}

func validate(cfg *Config) error {
	if cfg.Service.TickInterval < time.Millisecond {
		return fmt.Errorf("service.tick_interval %s is below 1ms", cfg.Service.TickInterval)
	}
	if cfg.Bridge.InvokeTimeout < 100*time.Millisecond {
		return fmt.Errorf("bridge.invoke_timeout %s is below 100ms", cfg.Bridge.InvokeTimeout)
	}
	for kind, n := range cfg.Jobs.KindRetention {
		if n <= 0 {
			return fmt.Errorf("jobs.kind_retention[%q] must be positive, got %d", kind, n)
		}
	}
	return nil
}
