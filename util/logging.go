package util

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// NewLogger returns a component logger writing to stderr.
func NewLogger(prefix string, level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          prefix,
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// Logger derives a component logger from the configured level.
func (c *AppConfig) Logger(prefix string) *log.Logger {
	return NewLogger(prefix, c.Conf.LogLevel)
}
