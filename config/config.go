package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/socialnet/socialnet-chat/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultHistorySize = 20
	defaultSMTPPort    = 587
)

// Config is the global configuration object which is filled via the configuration file
type Config struct {
	HistoryConfig      HistoryConfig      `mapstructure:"history"`
	PersistenceConfig  PersistenceConfig  `mapstructure:"persistence"`
	NotificationConfig NotificationConfig `mapstructure:"notification"`
	LogLevel           string             `mapstructure:"log_level"`
}

// HistoryConfig configures how many recent messages are replayed to a newly
// connected client (global chat) resp. after a room assignment (room chat).
type HistoryConfig struct {
	HistorySize     int `mapstructure:"history_size"`
	RoomHistorySize int `mapstructure:"room_history_size"`
}

// PersistenceConfig selects and configures the persistence backend. Supported
// types are "mongo", "sqlite", "postgres" and "buntdb", the DSN is interpreted
// by the respective backend (a mongodb:// URI, a gorm DSN or a file path).
type PersistenceConfig struct {
	Type     string `mapstructure:"type"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"` // mongo only
}

// NotificationConfig configures the SMTP sender used for missed private
// message notifications. If Host is empty, notifications are disabled.
type NotificationConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Subject  string `mapstructure:"subject"`
}

func (h HistoryConfig) Size() int {
	if h.HistorySize > 0 {
		return h.HistorySize
	}
	return defaultHistorySize
}

func (h HistoryConfig) RoomSize() int {
	if h.RoomHistorySize > 0 {
		return h.RoomHistorySize
	}
	return h.Size()
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("notification.port", defaultSMTPPort)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("SNCHAT")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}
