package env

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"go.uber.org/zap"
)

type environment struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	GuildID      string `env:"GUILD_ID"`
	OwnerUserID  string `env:"OWNER_USER_ID"`

	// Role granted on a trap-box claim. Cosmetic; empty disables it.
	PenaltyRoleID string `env:"PENALTY_ROLE_ID"`

	ServerPort int  `env:"SERVER_PORT" envDefault:"8080"`
	DebugMode  bool `env:"DEBUG_MODE" envDefault:"false"`

	// How long a drop stays rendered before its buttons are torn down.
	DropVisibility time.Duration `env:"DROP_VISIBILITY" envDefault:"60s"`
	// Safety-net window after which an unclaimed drop is always removed.
	DropValidity time.Duration `env:"DROP_VALIDITY" envDefault:"24h"`

	// Automatic drop interval bounds; a fresh delay is sampled each cycle.
	AutoDropMinInterval time.Duration `env:"AUTO_DROP_MIN_INTERVAL" envDefault:"5m"`
	AutoDropMaxInterval time.Duration `env:"AUTO_DROP_MAX_INTERVAL" envDefault:"10m"`

	TimeoutDuration time.Duration `env:"TIMEOUT_DURATION" envDefault:"60s"`
}

// Value holds the parsed process configuration. LoadEnv must run before use.
var Value environment

// LoadEnv reads .env if present, then parses the environment into Value.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	if err := env.Parse(&Value); err != nil {
		logger.Fatal("Failed to parse environment", zap.Error(err))
	}

	if Value.AutoDropMaxInterval < Value.AutoDropMinInterval {
		Value.AutoDropMaxInterval = Value.AutoDropMinInterval
	}
}
