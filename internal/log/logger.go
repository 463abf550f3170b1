// SPDX-License-Identifier: MIT

package log

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/version"
)

// root yields the process-wide base logger, built on first use. Level and
// service name come from LARDER_LOG_LEVEL and LARDER_LOG_SERVICE; init runs
// the build before main so a later SetLevel is never overwritten.
var root = sync.OnceValue(func() zerolog.Logger {
	zerolog.SetGlobalLevel(initialLevel())
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName()).
		Str("version", version.Version).
		Logger()
})

func init() { _ = root() }

func initialLevel() zerolog.Level {
	if env := os.Getenv("LARDER_LOG_LEVEL"); env != "" {
		if lvl, err := zerolog.ParseLevel(env); err == nil {
			return lvl
		}
	}
	return zerolog.InfoLevel
}

func serviceName() string {
	if env := os.Getenv("LARDER_LOG_SERVICE"); env != "" {
		return env
	}
	return "larder"
}

// SetLevel adjusts the global log level at runtime. Unknown levels are
// rejected so a bad config reload cannot silence the process.
func SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// WithComponent returns a child logger annotated with a component name.
func WithComponent(component string) zerolog.Logger {
	return root().With().Str(FieldComponent, component).Logger()
}
