package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	zarr "github.com/TuSKan/zarr-dechunk"
)

// EnvPrefix prefixes the environment variables read by LoadConfig,
// e.g. ZARR_DECHUNK_LOG_LEVEL.
const EnvPrefix = "ZARR_DECHUNK"

// Config holds the application configuration
type Config struct {
	LogLevel    string `yaml:"log_level"`
	StagingDir  string `yaml:"staging_dir"`
	TempDir     string `yaml:"temp_dir"`
	JournalPath string `yaml:"journal"`
	Quiet       bool   `yaml:"quiet"`
	DryRun      bool   `yaml:"dry_run"`
}

// flagKeys maps persistent flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"quiet":     "quiet",
	"dry-run":   "dry_run",
}

// LoadConfig loads configuration from config.yaml, environment variables, or CLI flags
// Priority: CLI flags > Environment variables > config.yaml > defaults
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	v := viper.New()
	if err := setupViper(v, configPath, rootCmd); err != nil {
		return nil, err
	}

	return &Config{
		LogLevel:    v.GetString("log_level"),
		StagingDir:  v.GetString("staging_dir"),
		TempDir:     v.GetString("temp_dir"),
		JournalPath: v.GetString("journal"),
		Quiet:       v.GetBool("quiet"),
		DryRun:      v.GetBool("dry_run"),
	}, nil
}

// Swapper returns the directory swapper described by the configuration.
func (c *Config) Swapper() *zarr.Swapper {
	return &zarr.Swapper{
		StagingDir:  c.StagingDir,
		TempDir:     c.TempDir,
		JournalPath: c.JournalPath,
	}
}

// setupViper configures Viper with defaults, paths, and bindings
func setupViper(v *viper.Viper, configPath string, rootCmd *cobra.Command) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if rootCmd != nil {
		for name, key := range flagKeys {
			flag := rootCmd.PersistentFlags().Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "error")
	v.SetDefault("staging_dir", zarr.DefaultStagingDir)
	v.SetDefault("temp_dir", zarr.DefaultTempDir)
	v.SetDefault("journal", zarr.DefaultJournalPath)
	v.SetDefault("quiet", false)
	v.SetDefault("dry_run", false)
}
