package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads Settings from DBHARNESS_* environment variables and, when present,
// a dbharness.yaml in the working directory. Environment variables take
// precedence over values from the file.
func Load() (*Settings, error) {
	v := newViper()
	v.SetConfigName("dbharness")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFile is like Load but reads the given YAML file, which must exist.
func LoadFile(path string) (*Settings, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("test_db", DefaultTestDB)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("operation_timeout", DefaultOperationTimeout.String())
	v.SetDefault("app_label", DefaultAppLabel)
	v.SetDefault("modules", []string{DefaultModule})

	v.SetConfigType("yaml")
	v.SetEnvPrefix("DBHARNESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so bind them explicitly.
	for _, key := range []string{"test_db", "log_level", "operation_timeout", "app_label", "modules"} {
		_ = v.BindEnv(key)
	}
	return v
}

func decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&s); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &s, nil
}
