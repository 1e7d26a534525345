// Package clilog adapts logrus to the coord.Logger interface for the
// command-line tools.
package clilog

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/velmie/coord"
)

// Logger forwards coord log calls to a logrus logger.
type Logger struct {
	log *logrus.Logger
}

var _ coord.Logger = Logger{}

// New builds a text-format logger writing to stderr. Verbose enables debug
// output.
func New(verbose bool) Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	return Logger{log: log}
}

// Debug implements coord.Logger.
func (l Logger) Debug(msg string, args ...any) {
	l.log.WithFields(fields(args)).Debug(msg)
}

// Info implements coord.Logger.
func (l Logger) Info(msg string, args ...any) {
	l.log.WithFields(fields(args)).Info(msg)
}

// Warn implements coord.Logger.
func (l Logger) Warn(msg string, args ...any) {
	l.log.WithFields(fields(args)).Warn(msg)
}

// Error implements coord.Logger.
func (l Logger) Error(msg string, args ...any) {
	l.log.WithFields(fields(args)).Error(msg)
}

func fields(args []any) logrus.Fields {
	out := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprintf("%v", args[i])
		if i+1 < len(args) {
			out[key] = args[i+1]
		} else {
			out[key] = "<missing>"
		}
	}

	return out
}
