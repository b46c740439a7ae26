package logging

import (
	"os"

	"github.com/rs/zerolog"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

func Logger() *zerolog.Logger {
	return &log
}

// SetJSONOutput switches to structured JSON on stdout for deployments.
func SetJSONOutput() {
	log = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
