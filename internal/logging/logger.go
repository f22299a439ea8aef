package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config selects level and output format
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds the process logger
func New(c Config) (*logrus.Logger, error) {
	l := logrus.New()

	level := strings.TrimSpace(c.Level)
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(c.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", c.Format)
	}

	if c.Output != nil {
		l.SetOutput(c.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	return l, nil
}

// Component returns an entry tagged with the component name
func Component(l logrus.FieldLogger, name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Discard returns a logger that drops everything, for tests and tools
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// AsynqLogger adapts a logrus entry to asynq's Logger interface
type AsynqLogger struct {
	Entry *logrus.Entry
}

func (a AsynqLogger) Debug(args ...interface{}) { a.Entry.Debug(args...) }
func (a AsynqLogger) Info(args ...interface{})  { a.Entry.Info(args...) }
func (a AsynqLogger) Warn(args ...interface{})  { a.Entry.Warn(args...) }
func (a AsynqLogger) Error(args ...interface{}) { a.Entry.Error(args...) }
func (a AsynqLogger) Fatal(args ...interface{}) { a.Entry.Fatal(args...) }
