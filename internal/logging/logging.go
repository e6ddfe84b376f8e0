package logging

import (
	"fmt"
	"io"
	"os"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const RunIDKey = "run_id"

type Fields = logrus.Fields

type Options struct {
	Level  string
	File   string    // optional rotating log file
	Output io.Writer // defaults to os.Stderr
}

// New builds a logger writing to stderr and, when File is set, to a
// rotating file as well.
func New(opts Options) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&formatter.Formatter{
		TimestampFormat: "15:04:05",
		HideKeys:        false,
		FieldsOrder:     []string{RunIDKey, "stage", "frame"},
	})

	writers := []io.Writer{out}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return logger, nil
}

// Discard returns a logger that drops everything; used when a caller
// passes no logger.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// NewRunID tags one pipeline run.
func NewRunID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

// WithRun scopes a logger to a run.
func WithRun(logger logrus.FieldLogger, runID string) *logrus.Entry {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField(RunIDKey, runID)
}
