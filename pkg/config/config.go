package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/viper"
)

// Transports for the private side.
const (
	TransportDiscord  = "discord"
	TransportTelegram = "telegram"
)

type Config struct {
	Discord  DiscordConfig  `mapstructure:"discord"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Private  PrivateConfig  `mapstructure:"private"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Modmail  ModmailConfig  `mapstructure:"modmail"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type DiscordConfig struct {
	Token          string `mapstructure:"token"`
	GuildID        string `mapstructure:"guild_id"`
	AlertChannelID string `mapstructure:"alert_channel_id"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type PrivateConfig struct {
	// Transport is where users write from: discord or telegram.
	Transport string `mapstructure:"transport"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type ModmailConfig struct {
	CommandPrefix    string        `mapstructure:"command_prefix"`
	SelectionTimeout time.Duration `mapstructure:"selection_timeout"`
	CreateGrace      time.Duration `mapstructure:"create_grace"`
	CloseGrace       time.Duration `mapstructure:"close_grace"`
	ForwardGrace     time.Duration `mapstructure:"forward_grace"`
	Admins           []string      `mapstructure:"admins"`
	StaffRoles       []string      `mapstructure:"staff_roles"`
}

type SweepConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", u.Port(), err)
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("private.transport", TransportDiscord)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "modmail")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 150)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("modmail.command_prefix", "!")
	v.SetDefault("modmail.selection_timeout", 30*time.Second)
	v.SetDefault("modmail.create_grace", 15*time.Second)
	v.SetDefault("modmail.close_grace", 10*time.Second)
	v.SetDefault("modmail.forward_grace", 10*time.Second)
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "*/5 * * * *")
	v.SetDefault("logging.development", false)
}

// LoadConfig reads path, applies defaults and environment overrides and
// validates the result. A missing file is fine when the environment carries
// everything needed.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); !errors.Is(statErr, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("DISCORD_TOKEN"); token != "" {
		config.Discord.Token = token
	}
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks settings every command relies on.
func (c *Config) Validate() error {
	if c.Private.Transport != TransportDiscord && c.Private.Transport != TransportTelegram {
		return fmt.Errorf("private.transport must be %q or %q, got %q", TransportDiscord, TransportTelegram, c.Private.Transport)
	}
	if c.Sweep.Enabled && !gronx.New().IsValid(c.Sweep.Schedule) {
		return fmt.Errorf("sweep.schedule %q is not a valid cron expression", c.Sweep.Schedule)
	}
	for name, d := range map[string]time.Duration{
		"modmail.selection_timeout": c.Modmail.SelectionTimeout,
		"modmail.create_grace":      c.Modmail.CreateGrace,
		"modmail.close_grace":       c.Modmail.CloseGrace,
		"modmail.forward_grace":     c.Modmail.ForwardGrace,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Modmail.CommandPrefix == "" {
		return fmt.Errorf("modmail.command_prefix must not be empty")
	}
	return nil
}

// ValidateTransports checks the credentials needed to connect to the chat
// platforms.
func (c *Config) ValidateTransports() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required")
	}
	if c.Discord.GuildID == "" {
		return fmt.Errorf("discord.guild_id is required")
	}
	if c.Private.Transport == TransportTelegram && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required when private.transport is telegram")
	}
	return nil
}
