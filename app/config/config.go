package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is everything the bot and the webhook read from the environment.
type Config struct {
	Token            string        `env:"VERIFICATION_BOT_TOKEN"`
	GuildID          int64         `env:"GUILD_ID"`
	FormURL          string        `env:"FORM_URL"`
	FormEntryID      string        `env:"FORM_ENTRY_ID"`
	VerifiedRoleName string        `env:"VERIFIED_ROLE_NAME" envDefault:"Verified"`
	ReadyTimeout     time.Duration `env:"READY_TIMEOUT" envDefault:"30s"`
	LogLevel         slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
}

var (
	ErrMissingToken = errors.New("no 'VERIFICATION_BOT_TOKEN' set in config")
	ErrMissingGuild = errors.New("no 'GUILD_ID' set in config")
)

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, using process environment", slog.Any("err", err))
	}

	return Parse(env.Options{})
}

// Parse builds a Config from the environment described by opts. Tests pass
// opts.Environment to avoid touching the real process environment.
func Parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if cfg.GuildID <= 0 {
		return nil, ErrMissingGuild
	}
	if cfg.VerifiedRoleName == "" {
		cfg.VerifiedRoleName = "Verified"
	}

	return &cfg, nil
}

// GuildSnowflake is the guild id in the string form discordgo expects.
func (c *Config) GuildSnowflake() string {
	return strconv.FormatInt(c.GuildID, 10)
}

// FormConfigured reports whether /verify can build a pre-filled form link.
func (c *Config) FormConfigured() bool {
	return c.FormURL != "" && c.FormEntryID != ""
}
