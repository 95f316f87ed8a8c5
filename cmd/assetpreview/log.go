package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// initializeLogger sets the global logger to a console writer on stderr at
// the given level.
func initializeLogger(lvl string) error {
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		return fmt.Errorf("unable to parse log level %q: %w", lvl, err)
	}
	zerolog.SetGlobalLevel(level)

	stdErr := zerolog.ConsoleWriter{Out: os.Stderr}
	writers := []io.Writer{stdErr}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	return nil
}
