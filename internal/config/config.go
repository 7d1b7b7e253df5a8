package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	mu     sync.Mutex
	active *viper.Viper
)

// envBindings lists the keys that may be overridden from the environment
// without appearing in a config file.
var envBindings = []string{
	"server.port",
	"privacy.enabled",
	"logging.level",
	"logging.format",
	"classifier.backend",
	"classifier.openai.api_key",
	"classifier.openai.base_url",
	"classifier.openai.model",
	"cache.enabled",
	"cache.redis_url",
	"store.enabled",
	"store.database_url",
	"websocket.username",
	"websocket.password",
	"rate_limit.enabled",
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// A missing .env file is the normal case outside development
	_ = godotenv.Load()

	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/mailguard/")
	v.AddConfigPath("$HOME/.mailguard/")

	v.SetEnvPrefix("MAILGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envBindings {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	active = v
	mu.Unlock()

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d", config.Server.MaxBodyBytes)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Privacy.Enabled && len(config.Privacy.Detectors) == 0 && len(config.Privacy.CustomRules) == 0 {
		return fmt.Errorf("privacy is enabled but no detectors are configured")
	}

	for i, rule := range config.Privacy.CustomRules {
		if strings.TrimSpace(rule.Category) == "" || rule.Pattern == "" {
			return fmt.Errorf("custom rule %d: category and pattern are required", i)
		}
	}

	if config.Classifier.DefaultLabel == "" {
		return fmt.Errorf("classifier default_label is required")
	}

	switch config.Classifier.Backend {
	case "keyword":
	case "openai":
		if config.Classifier.OpenAI.APIKey == "" || config.Classifier.OpenAI.Model == "" {
			return fmt.Errorf("openai classifier requires api_key and model")
		}
	default:
		return fmt.Errorf("invalid classifier backend: %s (must be keyword or openai)", config.Classifier.Backend)
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	if config.Batch.BatchSize <= 0 || config.Batch.WorkerCount <= 0 {
		return fmt.Errorf("invalid batch settings: batch_size=%d worker_count=%d",
			config.Batch.BatchSize, config.Batch.WorkerCount)
	}

	return nil
}

// Watch starts watching the configuration file loaded by the last Load call.
// Invalid reloads are reported through onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := active
	mu.Unlock()

	if v == nil {
		return fmt.Errorf("configuration has not been loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to unmarshal %s: %w", e.Name, err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
