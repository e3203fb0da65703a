package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Provider exposes the settings the database layer and the session gateway
// consume. It lets tests hand in a fixed configuration.
type Provider interface {
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	DBUrl            string        `env:"SURREAL_URL,required"`
	DBNs             string        `env:"SURREAL_NS,required"`
	DBDb             string        `env:"SURREAL_DB,required"`
	DBUser           string        `env:"SURREAL_USER"`
	DBPass           string        `env:"SURREAL_PASS"`
	DBQueryTimeout   time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"5s"`
	DBExecuteTimeout time.Duration `env:"DB_EXECUTE_TIMEOUT" envDefault:"10s"`

	ServerAddr    string `env:"SERVER_ADDR" envDefault:":8080"`
	SessionSecret string `env:"SESSION_SECRET,required"`
	PushSecret    string `env:"PUSH_SECRET"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"debug"`

	PubSubTracingEnabled     bool   `env:"PUBSUB_TRACING_ENABLED" envDefault:"false"`
	PubSubTracingServiceName string `env:"PUBSUB_TRACING_SERVICE_NAME" envDefault:"collegeos"`
	PubSubTracingZipkinURL   string `env:"PUBSUB_TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans"`

	TypingIdleTimeout             time.Duration `env:"TYPING_IDLE_TIMEOUT" envDefault:"3s"`
	TypingStaleWindow             time.Duration `env:"TYPING_STALE_WINDOW" envDefault:"10s"`
	NotificationDismissAfter      time.Duration `env:"NOTIFICATION_DISMISS_AFTER" envDefault:"5s"`
	NotificationPermissionTimeout time.Duration `env:"NOTIFICATION_PERMISSION_TIMEOUT" envDefault:"10s"`
	MessageHistoryLimit           int           `env:"MESSAGE_HISTORY_LIMIT" envDefault:"50"`
	SendTimeout                   time.Duration `env:"SEND_TIMEOUT" envDefault:"15s"`
}

// New loads configuration from a .env file (when present) and the process
// environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return Parse(env.Options{})
}

// Parse reads the configuration using the given options. Tests pass
// Options.Environment to avoid touching the process environment.
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustNew is New for entrypoints that cannot continue without configuration.
func MustNew() *Config {
	cfg, err := New()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.DBQueryTimeout <= 0 {
		return fmt.Errorf("DB_QUERY_TIMEOUT must be a positive duration")
	}
	if c.DBExecuteTimeout <= 0 {
		return fmt.Errorf("DB_EXECUTE_TIMEOUT must be a positive duration")
	}
	if c.TypingIdleTimeout <= 0 || c.TypingStaleWindow <= 0 {
		return fmt.Errorf("typing timeouts must be positive durations")
	}
	if c.TypingIdleTimeout >= c.TypingStaleWindow {
		return fmt.Errorf("TYPING_IDLE_TIMEOUT (%s) must be shorter than TYPING_STALE_WINDOW (%s)", c.TypingIdleTimeout, c.TypingStaleWindow)
	}
	if c.MessageHistoryLimit <= 0 {
		return fmt.Errorf("MESSAGE_HISTORY_LIMIT must be positive")
	}
	return nil
}

func (c *Config) GetDBURL() string                   { return c.DBUrl }
func (c *Config) GetDBNs() string                    { return c.DBNs }
func (c *Config) GetDBDb() string                    { return c.DBDb }
func (c *Config) GetDBUser() string                  { return c.DBUser }
func (c *Config) GetDBPass() string                  { return c.DBPass }
func (c *Config) GetDBQueryTimeout() time.Duration   { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration { return c.DBExecuteTimeout }
