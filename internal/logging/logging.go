// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Config struct {
	Level  string
	Format string
}

// Setup installs the global logger. Extra writers (for example the web log
// tail) receive the same events as plain console text.
func Setup(cfg Config, out io.Writer, extra ...io.Writer) error {
	if out == nil {
		out = os.Stderr
	}
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var primary io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", FormatConsole:
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case FormatJSON:
		primary = out
	default:
		return fmt.Errorf("log format %q unsupported", cfg.Format)
	}

	writers := []io.Writer{primary}
	for _, w := range extra {
		if w != nil {
			writers = append(writers, zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339})
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return nil
}

// ParseLevel accepts zerolog level names; empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}
