package testdb

import (
	"errors"
	"fmt"

	"github.com/phrazzld/dbharness/internal/config"
	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
)

// Errors returned by Runtime.
var (
	ErrRuntimeSuspended = errors.New("runtime is suspended")
	ErrRuntimeClosed    = errors.New("runtime is closed")
)

// formatSetupError adds troubleshooting guidance to a failure while
// preparing or tearing down a test database.
func formatSetupError(stage, rawURL string, err error) error {
	switch {
	case dberr.IsConfigurationError(err):
		return fmt.Errorf("%s: %w\nPlease check the %s environment variable or test_db setting", stage, err, config.EnvTestDB)
	case errors.Is(err, dberr.ErrConnection):
		return fmt.Errorf("%s: %w\nDatabase URL used: %s\n"+
			"Please check:\n"+
			"1. The database server is running\n"+
			"2. Credentials and host in the URL are correct\n"+
			"3. Network connectivity and firewall settings",
			stage, err, dburl.Mask(rawURL))
	default:
		return fmt.Errorf("%s: %w\nDatabase URL used: %s", stage, err, dburl.Mask(rawURL))
	}
}
