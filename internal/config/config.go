// Package config loads the gatekeeper settings from an optional YAML file,
// an optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Gate    GateConfig    `yaml:"gate"`
	Session SessionConfig `yaml:"session"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool `yaml:"trust_proxy"`
}

type AuthConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

type GateConfig struct {
	MaxFailedAttempts int      `yaml:"max_failed_attempts"`
	BanDuration       Duration `yaml:"ban_duration"`
	AttemptTTL        Duration `yaml:"attempt_ttl"`
	SweepInterval     Duration `yaml:"sweep_interval"`
}

// SessionConfig controls session tokens. An empty secret disables them
// together with the admin API.
type SessionConfig struct {
	Secret string   `yaml:"secret"`
	TTL    Duration `yaml:"ttl"`
}

// RedisConfig controls the ban event feed. An empty URL disables it.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
	ErrNoAllowedOrigins   = errors.New("at least one allowed origin is required")
	ErrInvalidMaxAttempts = errors.New("max failed attempts must be positive")
	ErrInvalidDuration    = errors.New("duration must be positive")
	ErrMissingUsername    = errors.New("username is required")
	ErrMissingPassword    = errors.New("password or password hash is required")
)

// Default returns the built-in configuration. The credentials are
// placeholders and must be overridden in production.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           3000,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Auth: AuthConfig{
			Username: "admin",
			Password: "password",
		},
		Gate: GateConfig{
			MaxFailedAttempts: 3,
			BanDuration:       Duration(15 * time.Minute),
			AttemptTTL:        Duration(15 * time.Minute),
			SweepInterval:     Duration(time.Minute),
		},
		Session: SessionConfig{
			TTL: Duration(time.Hour),
		},
		Redis: RedisConfig{
			Channel: "gatekeeper:bans",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. CONFIG_FILE names an optional YAML file;
// a .env file in the working directory is read if present.
func Load() (*Config, error) {
	cfg := Default()

	// .env feeds both the ${VAR} expansion below and applyEnv.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the value of VAR, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *Duration) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = Duration(d)
		return nil
	}

	if err := integer("PORT", &c.Server.Port); err != nil {
		return err
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	if err := boolean("TRUST_PROXY", &c.Server.TrustProxy); err != nil {
		return err
	}

	str("USERNAME", &c.Auth.Username)
	str("PASSWORD", &c.Auth.Password)
	str("PASSWORD_HASH", &c.Auth.PasswordHash)

	if err := integer("MAX_FAILED_ATTEMPTS", &c.Gate.MaxFailedAttempts); err != nil {
		return err
	}
	if err := duration("BAN_DURATION", &c.Gate.BanDuration); err != nil {
		return err
	}
	if err := duration("ATTEMPT_TTL", &c.Gate.AttemptTTL); err != nil {
		return err
	}
	if err := duration("SWEEP_INTERVAL", &c.Gate.SweepInterval); err != nil {
		return err
	}

	str("JWT_SECRET", &c.Session.Secret)
	if err := duration("JWT_TTL", &c.Session.TTL); err != nil {
		return err
	}

	str("REDIS_URL", &c.Redis.URL)
	str("REDIS_CHANNEL", &c.Redis.Channel)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}
	if len(c.Server.AllowedOrigins) == 0 {
		return ErrNoAllowedOrigins
	}
	if c.Auth.Username == "" {
		return ErrMissingUsername
	}
	if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
		return ErrMissingPassword
	}
	if c.Gate.MaxFailedAttempts <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxAttempts, c.Gate.MaxFailedAttempts)
	}
	if c.Gate.BanDuration <= 0 {
		return fmt.Errorf("ban_duration: %w", ErrInvalidDuration)
	}
	if c.Gate.AttemptTTL < 0 {
		return fmt.Errorf("attempt_ttl: %w", ErrInvalidDuration)
	}
	if c.Gate.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval: %w", ErrInvalidDuration)
	}
	if c.Session.Secret != "" && c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl: %w", ErrInvalidDuration)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Server.Port)
}
