package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets environment variables for the duration of the test.
// An empty value unsets the variable.
func setupEnv(t *testing.T, envVars map[string]string) {
	t.Helper()
	for name, value := range envVars {
		t.Setenv(name, value)
		if value == "" {
			require.NoError(t, os.Unsetenv(name))
		}
	}
}

// TestLoadDefaults verifies the values used when nothing is configured.
func TestLoadDefaults(t *testing.T) {
	setupEnv(t, map[string]string{
		EnvTestDB:                     "",
		"DBHARNESS_LOG_LEVEL":         "",
		"DBHARNESS_OPERATION_TIMEOUT": "",
		"DBHARNESS_APP_LABEL":         "",
		"DBHARNESS_MODULES":           "",
	})

	cfg, err := Load()

	require.NoError(t, err, "Load() should not return an error with default values")
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultTestDB, cfg.TestDB, "default test DB should be in-memory sqlite")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout)
	assert.Equal(t, DefaultAppLabel, cfg.AppLabel)
	assert.Equal(t, []string{DefaultModule}, cfg.Modules)
}

func TestLoadFromEnv(t *testing.T) {
	setupEnv(t, map[string]string{
		EnvTestDB:                     `postgres://postgres:@localhost:5432/test_\{\}`,
		"DBHARNESS_LOG_LEVEL":         "debug",
		"DBHARNESS_OPERATION_TIMEOUT": "2m",
		"DBHARNESS_APP_LABEL":         "events",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, `postgres://postgres:@localhost:5432/test_\{\}`, cfg.TestDB)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.OperationTimeout)
	assert.Equal(t, "events", cfg.AppLabel)
}

func TestLoadFile(t *testing.T) {
	setupEnv(t, map[string]string{
		EnvTestDB:             "",
		"DBHARNESS_LOG_LEVEL": "warn",
	})

	path := filepath.Join(t.TempDir(), "dbharness.yaml")
	content := "test_db: sqlite:///tmp/run-{}.sqlite\nlog_level: debug\nmodules:\n  - testmodels\n  - audit\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/run-{}.sqlite", cfg.TestDB)
	assert.Equal(t, "warn", cfg.LogLevel, "environment should take precedence over the file")
	assert.Equal(t, []string{"testmodels", "audit"}, cfg.Modules)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// TestLoadValidationErrors verifies that invalid values are rejected.
func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name           string
		envVars        map[string]string
		errorSubstring string
	}{
		{
			name:           "Invalid log level",
			envVars:        map[string]string{"DBHARNESS_LOG_LEVEL": "invalid-level"},
			errorSubstring: "validation failed",
		},
		{
			name:           "Negative timeout",
			envVars:        map[string]string{"DBHARNESS_OPERATION_TIMEOUT": "-1s"},
			errorSubstring: "validation failed",
		},
		{
			name:           "Unparseable timeout",
			envVars:        map[string]string{"DBHARNESS_OPERATION_TIMEOUT": "soon"},
			errorSubstring: "unmarshal",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setupEnv(t, tc.envVars)

			cfg, err := Load()

			require.Error(t, err, "Load() should return an error with invalid configuration")
			assert.Contains(t, err.Error(), tc.errorSubstring)
			assert.Nil(t, cfg, "Config should be nil when an error occurs")
		})
	}
}
