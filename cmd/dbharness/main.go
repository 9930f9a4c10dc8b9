// Command dbharness resolves database URLs and manages the databases they
// point at.
package main

import (
	"fmt"
	"os"

	"github.com/phrazzld/dbharness/internal/redact"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", redact.Error(err))
		os.Exit(1)
	}
}
