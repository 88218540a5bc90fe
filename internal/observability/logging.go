package observability

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var logSetup sync.Once

// NewLogger returns a component-tagged JSON logger writing to stdout.
// The level comes from COVER_LOG_LEVEL (zerolog level names); anything
// unparseable falls back to info.
func NewLogger(component string) zerolog.Logger {
	logSetup.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	})

	level := zerolog.InfoLevel
	if raw := os.Getenv("COVER_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
