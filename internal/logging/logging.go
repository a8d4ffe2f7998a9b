package logging

import (
	"io"
	"os"
	"time"

	"blitz/internal/config"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger. Output goes to stdout, and additionally to
// a rotating file when cfg.Logging.File is set. The returned closer flushes
// and closes that file; it is a no-op otherwise.
func New(cfg *config.Config) (zerolog.Logger, io.Closer) {
	return build(cfg, os.Stdout)
}

func build(cfg *config.Config, stdout io.Writer) (zerolog.Logger, io.Closer) {
	var out io.Writer = stdout
	if cfg.Logging.Format == "console" {
		out = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if cfg.Logging.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}
		// The file always gets JSON so it stays machine readable.
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "matching-engine").Logger()
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
