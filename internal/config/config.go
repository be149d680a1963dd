package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Backend  BackendConfig  `mapstructure:"backend" json:"backend"`
	Cache    CacheConfig    `mapstructure:"cache" json:"cache"`
	Memory   MemoryConfig   `mapstructure:"memory" json:"memory"`
	Profiles ProfilesConfig `mapstructure:"profiles" json:"profiles"`
	Auth     AuthConfig     `mapstructure:"auth" json:"auth"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host" json:"host"`
	Port        int    `mapstructure:"port" json:"port"`
	CORSOrigins string `mapstructure:"cors_origins" json:"cors_origins"`
	RateLimit   int    `mapstructure:"rate_limit" json:"rate_limit"`
	// CrawlerURL is the transcriber endpoint for linked content; empty disables fetching
	CrawlerURL     string        `mapstructure:"crawler_url" json:"crawler_url"`
	CrawlerTimeout time.Duration `mapstructure:"crawler_timeout" json:"crawler_timeout"`
}

type DatabaseConfig struct {
	// Driver is one of postgres, pgx or sqlite
	Driver   string `mapstructure:"driver" json:"driver"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"-"`
	Database string `mapstructure:"database" json:"database"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
	// Path is the database file when Driver is sqlite
	Path string `mapstructure:"path" json:"path"`
}

type BackendConfig struct {
	BaseURL         string        `mapstructure:"base_url" json:"base_url"`
	APIKey          string        `mapstructure:"api_key" json:"-"`
	Model           string        `mapstructure:"model" json:"model"`
	VisionModel     string        `mapstructure:"vision_model" json:"vision_model"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`
	RatePerMinute   int           `mapstructure:"rate_per_minute" json:"rate_per_minute"`
	BreakerFailures int           `mapstructure:"breaker_failures" json:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" json:"breaker_cooldown"`
}

type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl" json:"ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule" json:"sweep_schedule"`
}

type MemoryConfig struct {
	WindowSize       int           `mapstructure:"window_size" json:"window_size"`
	RetrievalK       int           `mapstructure:"retrieval_k" json:"retrieval_k"`
	SummaryThreshold int           `mapstructure:"summary_threshold" json:"summary_threshold"`
	SessionTimeout   time.Duration `mapstructure:"session_timeout" json:"session_timeout"`
	RetireSchedule   string        `mapstructure:"retire_schedule" json:"retire_schedule"`
}

type ProfilesConfig struct {
	SeedFile string `mapstructure:"seed_file" json:"seed_file"`
	Watch    bool   `mapstructure:"watch" json:"watch"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-"`
	Issuer    string `mapstructure:"issuer" json:"issuer"`
	Required  bool   `mapstructure:"required" json:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Load reads configuration from file (if any), defaults and environment.
// An explicit path wins over the search paths.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")

		// Check for user config directory
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".guardian"))
		}
	}

	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.crawler_url", "")
	v.SetDefault("server.crawler_timeout", 60*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "guardian")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "guardian")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "guardian.db")

	v.SetDefault("backend.base_url", "https://api.openai.com/v1")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.model", "gpt-4o-mini")
	v.SetDefault("backend.vision_model", "gpt-4o")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.max_retries", 2)
	v.SetDefault("backend.retry_backoff", time.Second)
	v.SetDefault("backend.rate_per_minute", 120)
	v.SetDefault("backend.breaker_failures", 5)
	v.SetDefault("backend.breaker_cooldown", 30*time.Second)

	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.sweep_schedule", "@every 10m")

	v.SetDefault("memory.window_size", 20)
	v.SetDefault("memory.retrieval_k", 10)
	v.SetDefault("memory.summary_threshold", 10)
	v.SetDefault("memory.session_timeout", 30*time.Minute)
	v.SetDefault("memory.retire_schedule", "@every 1m")

	v.SetDefault("profiles.seed_file", "")
	v.SetDefault("profiles.watch", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "guardian-backend")
	v.SetDefault("auth.required", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func loadEnvOverrides(cfg *Config) {
	// Database overrides
	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}

	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = secret
	}
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Memory.WindowSize < 1 {
		return fmt.Errorf("memory.window_size must be positive")
	}
	if c.Memory.SummaryThreshold < 1 {
		return fmt.Errorf("memory.summary_threshold must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.required needs auth.jwt_secret")
	}
	return nil
}

// Address returns the listen address of the HTTP server
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
