package app

import (
	"log"
	"strings"

	"github.com/rs/zerolog"
)

type zerologWriter struct{ log zerolog.Logger }

func (w zerologWriter) Write(p []byte) (int, error) {
	w.log.Warn().Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}

// newHTTPErrorLog adapts net/http's error logger onto zerolog.
func newHTTPErrorLog(l zerolog.Logger) *log.Logger {
	return log.New(zerologWriter{log: l.With().Str("component", "http").Logger()}, "", 0)
}
