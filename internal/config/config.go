package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		// RateLimit is the allowed /analyze requests per second per client; 0 disables it.
		RateLimit float64 `mapstructure:"rate_limit"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Storage struct {
		// Driver is one of "postgres", "sqlite" or "memory".
		Driver     string `mapstructure:"driver"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Reasoning struct {
		// Provider is "http" or "bedrock".
		Provider string        `mapstructure:"provider"`
		URL      string        `mapstructure:"url"`
		APIToken string        `mapstructure:"api_token"`
		Model    string        `mapstructure:"model"`
		Region   string        `mapstructure:"region"`
		Timeout  time.Duration `mapstructure:"timeout"`
		Breaker  struct {
			MaxFailures uint32        `mapstructure:"max_failures"`
			Timeout     time.Duration `mapstructure:"timeout"`
			Interval    time.Duration `mapstructure:"interval"`
		} `mapstructure:"breaker"`
	} `mapstructure:"reasoning"`
	Workflow struct {
		DemoUserID    string        `mapstructure:"demo_user_id"`
		SystemPrompt  string        `mapstructure:"system_prompt"`
		HistoryLimit  int           `mapstructure:"history_limit"`
		PollAttempts  int           `mapstructure:"poll_attempts"`
		PollInterval  time.Duration `mapstructure:"poll_interval"`
		ResumeOnStart bool          `mapstructure:"resume_on_start"`
	} `mapstructure:"workflow"`
	Auth struct {
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Tracing struct {
		Enabled  bool   `mapstructure:"enabled"`
		Exporter string `mapstructure:"exporter"`
	} `mapstructure:"tracing"`
}

// DefaultSystemPrompt is the instruction that opens every reasoning conversation.
const DefaultSystemPrompt = "You are a Decision Architect. Help the user see hidden perspectives."

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in "." and "./config"; a missing file
// is not an error in that case so the defaults and environment still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("PERSPECTIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")
	v.SetDefault("dev_mode_bypass", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	// /analyze holds the request open for the whole poll window
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.rate_limit", 2.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "data/perspective.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("reasoning.provider", "http")
	v.SetDefault("reasoning.model", "@cf/meta/llama-3.1-8b-instruct")
	v.SetDefault("reasoning.region", "us-east-1")
	v.SetDefault("reasoning.timeout", 30*time.Second)
	v.SetDefault("reasoning.breaker.max_failures", 5)
	v.SetDefault("reasoning.breaker.timeout", 30*time.Second)
	v.SetDefault("reasoning.breaker.interval", 60*time.Second)
	v.SetDefault("workflow.demo_user_id", "user_1")
	v.SetDefault("workflow.system_prompt", DefaultSystemPrompt)
	v.SetDefault("workflow.history_limit", 3)
	v.SetDefault("workflow.poll_attempts", 40)
	v.SetDefault("workflow.poll_interval", time.Second)
	v.SetDefault("workflow.resume_on_start", true)
	v.SetDefault("tracing.exporter", "noop")
}

// Validate checks the values the server cannot run without.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("config: storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("config: unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Reasoning.Provider {
	case "http", "bedrock":
	default:
		return fmt.Errorf("config: unsupported reasoning provider %q", c.Reasoning.Provider)
	}

	if c.Workflow.PollAttempts <= 0 {
		return errors.New("config: workflow.poll_attempts must be positive")
	}
	if c.Workflow.PollInterval <= 0 {
		return errors.New("config: workflow.poll_interval must be positive")
	}
	if c.Workflow.HistoryLimit < 0 {
		return errors.New("config: workflow.history_limit must not be negative")
	}
	return nil
}

// PostgresDSN builds the pgx connection string from the db section.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeOktaIssuer removes any trailing slash so a URL pasted from the
// Okta admin console can be used as the issuer unchanged.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
