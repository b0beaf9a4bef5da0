package logger

import (
	"io"
	"os"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/sirupsen/logrus"
)

// New builds the process logger. Unknown levels fall back to info.
func New(cfg config.LogConfig, service string) *logrus.Entry {
	return newWithOutput(cfg, service, os.Stdout)
}

func newWithOutput(cfg config.LogConfig, service string, out io.Writer) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return log.WithField("service", service)
}

// Discard is a logger for tests and tools that must stay quiet.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
