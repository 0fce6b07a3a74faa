package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the runtime settings of the tool. Everything here is about
// how to reach the modem and how to run; the desired modem state itself
// lives in the separate YAML document named by DesiredConfig.
type Config struct {
	SerialPort string `mapstructure:"serial_port"`
	BaudRate   int    `mapstructure:"baud_rate"`

	DesiredConfig string        `mapstructure:"desired_config"`
	ATTimeout     time.Duration `mapstructure:"at_timeout"`
	InitTimeout   time.Duration `mapstructure:"init_timeout"`
	QueryRetries  int           `mapstructure:"query_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	SignalInterval   time.Duration `mapstructure:"signal_interval"`
	IdentifyInterval time.Duration `mapstructure:"identify_interval"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	ListCommands bool `mapstructure:"list_commands"`
	Watch        bool `mapstructure:"watch"`
}

// LoadConfig layers defaults, an optional config file, CELLWD_*
// environment variables and command line flags, flags winning.
func LoadConfig() (*Config, error) {
	viper.SetDefault("serial_port", "/dev/ttyUSB2")
	viper.SetDefault("baud_rate", 115200)
	viper.SetDefault("desired_config", "modem_config.yaml")
	viper.SetDefault("at_timeout", 5*time.Second)
	viper.SetDefault("init_timeout", 30*time.Second)
	viper.SetDefault("query_retries", 3)
	viper.SetDefault("retry_delay", 500*time.Millisecond)
	viper.SetDefault("signal_interval", 10*time.Second)
	viper.SetDefault("identify_interval", 5*time.Minute)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_file", "")

	pflag.StringP("config", "c", "", "Configuration file path.")
	pflag.StringP("serial_port", "p", viper.GetString("serial_port"), "Serial port device of the modem AT interface.")
	pflag.IntP("baud_rate", "s", viper.GetInt("baud_rate"), "Serial port speed.")
	pflag.StringP("desired_config", "d", viper.GetString("desired_config"), "Desired modem configuration (YAML).")
	pflag.Duration("at_timeout", viper.GetDuration("at_timeout"), "Per-command response timeout.")
	pflag.Duration("init_timeout", viper.GetDuration("init_timeout"), "Modem init sequence timeout.")
	pflag.Int("query_retries", viper.GetInt("query_retries"), "Query retries before a key is recorded as failed.")
	pflag.Duration("retry_delay", viper.GetDuration("retry_delay"), "Pause between query retries.")
	pflag.Duration("signal_interval", viper.GetDuration("signal_interval"), "Signal quality polling interval (with --watch).")
	pflag.Duration("identify_interval", viper.GetDuration("identify_interval"), "Identification polling interval (with --watch).")
	pflag.StringP("log_level", "v", viper.GetString("log_level"), "Log verbosity level (debug, info, warn, error).")
	pflag.StringP("log_file", "L", viper.GetString("log_file"), "Log file name (empty for STDOUT).")
	pflag.BoolP("list_commands", "l", false, "List supported configuration keys and exit.")
	pflag.BoolP("watch", "w", false, "Keep polling telemetry after reconciliation.")
	pflag.Parse()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, fmt.Errorf("failed to bind pflags: %w", err)
	}

	// Environment overrides file and defaults; explicit flags win.
	viper.SetEnvPrefix("cellwd")
	viper.AutomaticEnv()

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("cellwd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/cellwd/")
		viper.AddConfigPath("$HOME/.cellwd")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, everything has a default or flag.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
