package config

import "time"

// EnvTestDB names the environment variable that selects the default test
// database URL.
const EnvTestDB = "DBHARNESS_TEST_DB"

// Defaults used when neither the environment nor a config file set a value.
const (
	DefaultTestDB           = "sqlite://:memory:"
	DefaultLogLevel         = "info"
	DefaultOperationTimeout = 30 * time.Second
	DefaultAppLabel         = "models"
	DefaultModule           = "testmodels"
)

// Settings holds the process-level configuration of the harness.
type Settings struct {
	// TestDB is the connection URL used for the default test configuration.
	// It usually carries a placeholder so each run gets its own database.
	TestDB string `mapstructure:"test_db" validate:"required"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// OperationTimeout bounds each create, drop and schema step.
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
	// AppLabel is the application (and connection) label of the default tree.
	AppLabel string `mapstructure:"app_label" validate:"required"`
	// Modules are the model modules registered under AppLabel.
	Modules []string `mapstructure:"modules" validate:"required,min=1,dive,required"`
}
