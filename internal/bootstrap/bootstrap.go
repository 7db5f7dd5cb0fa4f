// Package bootstrap initializes logging configuration before other packages.
//
// Import it first (using a blank import) in main.go so its init() runs before
// packages that log during their own initialization.
package bootstrap

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	level := os.Getenv("PULSEFEED_LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	zerolog.TimeFieldFormat = time.RFC3339
}

// Logger returns a component-tagged logger writing JSON to stderr.
func Logger(component string) zerolog.Logger {
	return zerolog.New(os.Stderr).With().
		Timestamp().
		Str("component", component).
		Logger()
}

// SetDebug lowers the global level to debug. Used when the config file or
// the --debug flag asks for verbose output after init() already ran.
func SetDebug() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}
