// Package logging builds the zerolog logger shared by chainctl and its stores.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

const permission = 0o664

// Build collects logger settings before Make opens anything.
type Build struct {
	writer io.Writer
	path   string
	level  string
	format string
}

// Logger is a built logger together with the file it may own.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New starts a build that logs warnings and above to stderr.
func New() *Build {
	return &Build{writer: os.Stderr, level: "warn", format: "console"}
}

// FromPath appends to the file at path instead of the writer.
func (b *Build) FromPath(path string) *Build {
	b.path = path
	return b
}

// FromWriter logs to w.
func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

// Level sets the minimum level by name.
func (b *Build) Level(level string) *Build {
	b.level = level
	return b
}

// Format is "console" or "json".
func (b *Build) Format(format string) *Build {
	b.format = format
	return b
}

// Make builds the logger.
func (b *Build) Make() (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(b.level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", b.level, err)
	}

	l := &Logger{}
	w := b.writer
	if b.path != "" {
		l.file, err = os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		w = zerolog.SyncWriter(l.file)
	}

	switch b.format {
	case "", "json":
	case "console":
		// Files always get JSON.
		if b.path == "" {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
		}
	default:
		l.Close()
		return nil, fmt.Errorf("unknown log format %q", b.format)
	}

	l.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return l, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// gormWriter routes gorm's printf-style output into zerolog.
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Info().Str("component", "gorm").Msgf(format, args...)
}

// Gorm returns a gorm logger that writes through l at a level matching l's own.
func Gorm(l zerolog.Logger) gormlogger.Interface {
	level := gormlogger.Warn
	switch {
	case l.GetLevel() <= zerolog.InfoLevel:
		level = gormlogger.Info
	case l.GetLevel() >= zerolog.Disabled:
		level = gormlogger.Silent
	case l.GetLevel() >= zerolog.ErrorLevel:
		level = gormlogger.Error
	}
	return gormlogger.New(gormWriter{log: l}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
