package internal

import (
	"fmt"

	"github.com/xaenox/modmail-bot/internal/storage"
	"github.com/xaenox/modmail-bot/pkg/config"
	"go.uber.org/zap"
)

// ConfigPath is set by the --config flag.
var ConfigPath = "config.yaml"

var (
	version   = "dev"
	gitCommit string
)

// FormatVersion returns the version string with the commit when known.
func FormatVersion() string {
	if gitCommit != "" {
		return fmt.Sprintf("%s (git: %s)", version, gitCommit)
	}
	return version
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(ConfigPath)
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// OpenStorage returns the configured store. PostgreSQL schemas are brought
// up to date on connect.
func OpenStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}

	logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))
	store, err := storage.NewPostgresStorage(storage.DatabaseConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}
