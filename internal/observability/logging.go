// Package observability configures the process-wide zerolog logger.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global logger. When logPath is non-empty the
// output is duplicated to that file while the console keeps the
// human-readable writer.
func InitLogger(logPath, defaultLevel string) {
	levelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if levelStr == "" {
		levelStr = defaultLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		level = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	var w io.Writer = console
	if logPath != "" {
		if f, ferr := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); ferr == nil {
			w = zerolog.MultiLevelWriter(console, f)
		}
	}

	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}
