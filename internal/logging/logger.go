// Package logging builds the structured JSON logger shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a JSON logger tagged with the service name. An empty level
// falls back to LOG_LEVEL and then to info.
func New(service, level string) *logrus.Entry {
	return NewWithOutput(service, level, os.Stdout)
}

func NewWithOutput(service, level string, out io.Writer) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(out)
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	log.SetLevel(ParseLevel(level))
	return log.WithField("service", service)
}

// ParseLevel maps debug/info/warn/error onto logrus levels, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Discard is a logger for tests and callers that do not care about output.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
