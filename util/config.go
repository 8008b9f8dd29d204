package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const Name = "pubengine"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

const (
	StorageSQL      = "sql"
	StorageDocument = "document"
)

// AppConfig is read once at startup and handed to every component by
// pointer. Nothing mutates it after ReadConf returns.
type AppConfig struct {
	Conf struct {
		Host     string
		HttpPort int    `yaml:"httpPort"`
		Domain   string `yaml:"domain"`
		LogLevel string `yaml:"logLevel"`
		KeyBits  int    `yaml:"keyBits"`
		Storage  struct {
			Type string
			Path string
		}
		Media struct {
			Dir      string
			MaxBytes int64 `yaml:"maxBytes"`
		}
		Federation struct {
			FetchTimeout        time.Duration `yaml:"fetchTimeout"`
			ProfileTimeout      time.Duration `yaml:"profileTimeout"`
			ProfileCacheTTL     time.Duration `yaml:"profileCacheTTL"`
			UserAgent           string        `yaml:"userAgent"`
			AutoAcceptFollows   bool          `yaml:"autoAcceptFollows"`
			DeliveryConcurrency int           `yaml:"deliveryConcurrency"`
			RetryDeliveries     bool          `yaml:"retryDeliveries"`
		}
		RateLimit struct {
			PerSecond float64 `yaml:"perSecond"`
			Burst     int
		} `yaml:"rateLimit"`
	}
}

func ReadConf() (*AppConfig, error) {
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			_ = os.WriteFile(configDir+"/"+ConfigFileName, embeddedConfig, 0644)
		}
	}

	return ParseConf(buf)
}

// ParseConf decodes yaml on top of the embedded defaults and applies
// PUBENGINE_* environment overrides.
func ParseConf(buf []byte) (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(embeddedConfig, c); err != nil {
		return nil, fmt.Errorf("in embedded config: %w", err)
	}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err := applyEnv(c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *AppConfig) error {
	if v := os.Getenv("PUBENGINE_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("PUBENGINE_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PUBENGINE_HTTPPORT: %w", err)
		}
		c.Conf.HttpPort = port
	}
	if v := os.Getenv("PUBENGINE_DOMAIN"); v != "" {
		c.Conf.Domain = v
	}
	if v := os.Getenv("PUBENGINE_LOG_LEVEL"); v != "" {
		c.Conf.LogLevel = v
	}
	if v := os.Getenv("PUBENGINE_STORAGE_TYPE"); v != "" {
		c.Conf.Storage.Type = v
	}
	if v := os.Getenv("PUBENGINE_STORAGE_PATH"); v != "" {
		c.Conf.Storage.Path = v
	}
	if v := os.Getenv("PUBENGINE_MEDIA_DIR"); v != "" {
		c.Conf.Media.Dir = v
	}
	if v := os.Getenv("PUBENGINE_AUTO_ACCEPT"); v != "" {
		c.Conf.Federation.AutoAcceptFollows = v == "true"
	}
	if v := os.Getenv("PUBENGINE_RETRY_DELIVERIES"); v != "" {
		c.Conf.Federation.RetryDeliveries = v == "true"
	}
	return nil
}

func (c *AppConfig) validate() error {
	if c.Conf.Domain == "" {
		return fmt.Errorf("config: domain is required")
	}
	switch c.Conf.Storage.Type {
	case StorageSQL, StorageDocument:
	default:
		return fmt.Errorf("config: unknown storage type %q", c.Conf.Storage.Type)
	}
	if c.Conf.KeyBits < 1024 {
		return fmt.Errorf("config: keyBits must be at least 1024, got %d", c.Conf.KeyBits)
	}
	return nil
}
