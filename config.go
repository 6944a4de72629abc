package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/exp/slog"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Host     string `env:"APP_HOST" envDefault:"localhost"`
	Port     string `env:"APP_PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Database DatabaseConfig

	JWTSecret    string        `env:"JWT_SECRET_KEY,required"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	BcryptCost   int           `env:"BCRYPT_COST" envDefault:"10"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"false"`

	PublicDir      string `env:"PUBLIC_DIR" envDefault:"./public"`
	MaxImageSize   int64  `env:"MAX_IMAGE_SIZE" envDefault:"5242880"`
	MaxUploadFiles int    `env:"MAX_UPLOAD_FILES" envDefault:"10"`
	FreeTierLimit  int    `env:"FREE_TIER_LIMIT" envDefault:"6"`
}

type DatabaseConfig struct {
	Driver   string `env:"DB_DRIVER" envDefault:"postgres"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	Name     string `env:"DB_NAME" envDefault:"db"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD"`
	MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB  string `env:"MONGO_DB" envDefault:"gallery"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case strings.TrimSpace(c.JWTSecret) == "":
		return errors.New("config: JWT_SECRET_KEY must not be blank")
	case c.TokenTTL <= 0:
		return errors.New("config: TOKEN_TTL must be positive")
	case c.MaxImageSize <= 0:
		return errors.New("config: MAX_IMAGE_SIZE must be positive")
	case c.MaxUploadFiles <= 0:
		return errors.New("config: MAX_UPLOAD_FILES must be positive")
	case c.FreeTierLimit < 0:
		return errors.New("config: FREE_TIER_LIMIT must not be negative")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverMongo:
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.Database.Driver)
	}

	return nil
}

func (c *Config) ListenAddr() string {
	return c.Host + ":" + c.Port
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return level
}
