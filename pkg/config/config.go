package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Global  GlobalConfig  `mapstructure:"global"`
	Web     WebConfig     `mapstructure:"web"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// GlobalConfig holds the reflector core configuration
type GlobalConfig struct {
	ListenPort          int    `mapstructure:"listen_port"`           // TCP + UDP port
	AuthKey             string `mapstructure:"auth_key"`              // Shared handshake secret
	SqlTimeout          int    `mapstructure:"sql_timeout"`           // Max talker silence in seconds, 0 disables
	SqlTimeoutBlocktime int    `mapstructure:"sql_timeout_blocktime"` // Post-timeout block in seconds
	TGForV1Clients      uint32 `mapstructure:"tg_for_v1_clients"`     // TG shared by v1 nodes
	RandomQsyRange      string `mapstructure:"random_qsy_range"`      // "lo,size" pair, empty disables
}

// WebConfig holds the status endpoint configuration
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// HistoryConfig holds the talk history recorder configuration
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // SQLite database file
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/svxreflector")
	}

	viper.SetEnvPrefix("SVX")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is OK, use defaults
		} else if os.IsNotExist(err) {
			// File explicitly specified but doesn't exist - that's also OK
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("global.listen_port", 5300)
	viper.SetDefault("global.sql_timeout", 0)
	viper.SetDefault("global.sql_timeout_blocktime", 60)
	viper.SetDefault("global.tg_for_v1_clients", 1)

	viper.SetDefault("web.enabled", false)
	viper.SetDefault("web.host", "0.0.0.0")
	viper.SetDefault("web.port", 8080)

	viper.SetDefault("history.enabled", false)
	viper.SetDefault("history.path", "svxreflector.db")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
