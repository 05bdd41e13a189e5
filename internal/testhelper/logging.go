// Package testhelper is blank-imported by test files to silence zerolog
// output. Set WEFT_TEST_LOG to any value to see log lines while debugging.
package testhelper

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func init() {
	if testing.Testing() && os.Getenv("WEFT_TEST_LOG") == "" {
		zerolog.SetGlobalLevel(zerolog.Disabled)
	}
}
