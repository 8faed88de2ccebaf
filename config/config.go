// Package config loads server settings from defaults, an optional YAML file
// and the environment, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Mongo      MongoConfig      `koanf:"mongo"`
	Auth       AuthConfig       `koanf:"auth"`
	Cloudinary CloudinaryConfig `koanf:"cloudinary"`
	Maps       MapsConfig       `koanf:"maps"`
	Memcached  MemcachedConfig  `koanf:"memcached"`
	NATS       NATSConfig       `koanf:"nats"`
	Push       PushConfig       `koanf:"push"`
	Feed       FeedConfig       `koanf:"feed"`
	Logging    LoggingConfig    `koanf:"logging"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	Mode            string        `koanf:"mode"` // gin mode: debug or release
	PublicURL       string        `koanf:"public_url"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type MongoConfig struct {
	URI             string        `koanf:"uri"`
	Database        string        `koanf:"database"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

type AuthConfig struct {
	JWTSecret          string        `koanf:"jwt_secret"`
	TokenTTL           time.Duration `koanf:"token_ttl"`
	GoogleClientID     string        `koanf:"google_client_id"`
	GoogleClientSecret string        `koanf:"google_client_secret"`
	GoogleRedirectURL  string        `koanf:"google_redirect_url"`
	ResetTokenTTL      time.Duration `koanf:"reset_token_ttl"`
	ResetURL           string        `koanf:"reset_url"` // token is appended as ?token=
	RateLimitRPS       float64       `koanf:"rate_limit_rps"`
	RateLimitBurst     int           `koanf:"rate_limit_burst"`
}

type CloudinaryConfig struct {
	URL    string `koanf:"url"`
	Folder string `koanf:"folder"`
}

type MapsConfig struct {
	APIKey   string `koanf:"api_key"`
	Language string `koanf:"language"`
	Region   string `koanf:"region"`
}

type MemcachedConfig struct {
	Addr string        `koanf:"addr"`
	TTL  time.Duration `koanf:"ttl"`
}

type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

type PushConfig struct {
	VAPIDPublicKey  string `koanf:"vapid_public_key"`
	VAPIDPrivateKey string `koanf:"vapid_private_key"`
	Subscriber      string `koanf:"subscriber"`
}

type FeedConfig struct {
	LookupWorkers int           `koanf:"lookup_workers"`
	LookupTimeout time.Duration `koanf:"lookup_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// PathEnvVar overrides the YAML file location.
const PathEnvVar = "CONFIG_PATH"

var defaultPaths = []string{"config.yaml", "config.yml", "/etc/battletrails/config.yaml"}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Mode:            "debug",
			PublicURL:       "http://localhost:8080",
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:8080"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Mongo: MongoConfig{
			URI:             "mongodb://127.0.0.1:27017",
			Database:        "battletrails",
			ConnectTimeout:  15 * time.Second,
			ConnectAttempts: 3,
		},
		Auth: AuthConfig{
			TokenTTL:          24 * time.Hour,
			GoogleRedirectURL: "http://localhost:8080/api/google/callback",
			ResetTokenTTL:     time.Hour,
			ResetURL:          "http://localhost:3000/reset-password",
			RateLimitRPS:      1,
			RateLimitBurst:    10,
		},
		Cloudinary: CloudinaryConfig{Folder: "battletrails"},
		Maps:       MapsConfig{Language: "es", Region: "es"},
		Memcached:  MemcachedConfig{TTL: 24 * time.Hour},
		NATS:       NATSConfig{SubjectPrefix: "battletrails"},
		Push:       PushConfig{Subscriber: "mailto:admin@battletrails.app"},
		Feed:       FeedConfig{LookupWorkers: 8, LookupTimeout: 5 * time.Second},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
	}
}

// envMappings maps environment variable names (lower-cased) onto config paths.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	"port":                  "server.port",
	"gin_mode":              "server.mode",
	"public_url":            "server.public_url",
	"cors_origins":          "server.cors_origins",
	"mongodb_uri":           "mongo.uri",
	"mongodb_database":      "mongo.database",
	"jwt_secret":            "auth.jwt_secret",
	"token_ttl":             "auth.token_ttl",
	"google_client_id":      "auth.google_client_id",
	"google_client_secret":  "auth.google_client_secret",
	"google_redirect_url":   "auth.google_redirect_url",
	"reset_url":             "auth.reset_url",
	"reset_token_ttl":       "auth.reset_token_ttl",
	"auth_rate_limit_rps":   "auth.rate_limit_rps",
	"auth_rate_limit_burst": "auth.rate_limit_burst",
	"cloudinary_url":        "cloudinary.url",
	"cloudinary_folder":     "cloudinary.folder",
	"google_maps_api_key":   "maps.api_key",
	"maps_language":         "maps.language",
	"maps_region":           "maps.region",
	"memcached_addr":        "memcached.addr",
	"memcached_ttl":         "memcached.ttl",
	"nats_url":              "nats.url",
	"nats_subject_prefix":   "nats.subject_prefix",
	"vapid_public_key":      "push.vapid_public_key",
	"vapid_private_key":     "push.vapid_private_key",
	"vapid_subscriber":      "push.subscriber",
	"feed_lookup_workers":   "feed.lookup_workers",
	"feed_lookup_timeout":   "feed.lookup_timeout",
	"log_level":             "logging.level",
	"log_format":            "logging.format",
}

func envKey(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load reads .env (if present), then layers defaults, YAML and environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// CORS_ORIGINS arrives as a comma separated string
	if raw, ok := k.Get("server.cors_origins").(string); ok {
		if err := k.Set("server.cors_origins", splitList(raw)); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.Mongo.URI == "" {
		errs = append(errs, errors.New("MONGODB_URI must be set"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	if len(c.Server.CORSOrigins) == 0 {
		errs = append(errs, errors.New("at least one CORS origin is required"))
	}
	if c.Feed.LookupWorkers < 1 {
		errs = append(errs, errors.New("feed.lookup_workers must be at least 1"))
	}
	return errors.Join(errs...)
}

// GoogleEnabled reports whether federated sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.Auth.GoogleClientID != "" && c.Auth.GoogleClientSecret != ""
}
