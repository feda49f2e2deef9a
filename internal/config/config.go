package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type App struct {
	// HTTP
	HTTPAddr           string   `envconfig:"HTTP_ADDR" default:":8080"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	// Storage
	Store       string `envconfig:"STORE" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	// SeedFile is loaded into the memory store at startup; empty skips it
	SeedFile string `envconfig:"SEED_FILE" default:"configs/seed.yaml"`
	// JWT
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"24h"`
	// Auction
	TimerDefaultSeconds int `envconfig:"TIMER_DEFAULT_SECONDS" default:"300"`
	// Events; an empty URL logs events instead of publishing them
	NATSURL           string `envconfig:"NATS_URL"`
	NATSStream        string `envconfig:"NATS_STREAM" default:"AUCTION_EVENTS"`
	NATSSubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"auction.events"`
	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads .env if present, then the environment.
func Load() (App, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}
	var c App
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Validate checks values envconfig cannot express.
func (c App) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.TimerDefaultSeconds <= 0 || c.TimerDefaultSeconds > 24*60*60 {
		return fmt.Errorf("TIMER_DEFAULT_SECONDS must be between 1 and 86400, got %d", c.TimerDefaultSeconds)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must not be blank")
	}
	return nil
}

// TimerDefault is TimerDefaultSeconds as a duration.
func (c App) TimerDefault() time.Duration {
	return time.Duration(c.TimerDefaultSeconds) * time.Second
}
