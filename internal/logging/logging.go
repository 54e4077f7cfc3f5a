// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level and sinks. Writers may contain "console", "json"
// (stdout, machine readable) and "file".
type Options struct {
	Level   string
	Writers []string
	File    string
	MaxMB   int
}

// New returns a logger writing to every configured sink. With no usable sink
// it falls back to the console.
func New(opts Options) zerolog.Logger {
	var outs []io.Writer
	for _, w := range opts.Writers {
		switch strings.ToLower(strings.TrimSpace(w)) {
		case "console":
			outs = append(outs, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		case "json":
			outs = append(outs, os.Stdout)
		case "file":
			if opts.File == "" {
				continue
			}
			_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
			maxMB := opts.MaxMB
			if maxMB <= 0 {
				maxMB = 20
			}
			outs = append(outs, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    maxMB,
				MaxBackups: 3,
				MaxAge:     14,
				Compress:   true,
			})
		}
	}
	if len(outs) == 0 {
		outs = append(outs, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	var w io.Writer = outs[0]
	if len(outs) > 1 {
		w = zerolog.MultiLevelWriter(outs...)
	}
	return zerolog.New(w).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
