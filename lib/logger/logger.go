package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Level is shared by every logger built with New so a single flag can
// switch the whole process to debug output.
var Level = zap.NewAtomicLevelAt(zap.InfoLevel)

// New constructs a sugared logger tagged with the given service name.
// Output is human readable when stderr is a terminal and JSON otherwise.
func New(service string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.Level = Level
	config.OutputPaths = []string{"stderr"}
	config.DisableStacktrace = true
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]any{
		"service": service,
	}

	if term.IsTerminal(int(os.Stderr.Fd())) {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	log, err := config.Build()
	if err != nil {
		return zap.NewNop().Sugar(), err
	}

	return log.Sugar(), nil
}

// SetDebug toggles debug level output for all loggers.
func SetDebug(debug bool) {
	if debug {
		Level.SetLevel(zap.DebugLevel)
		return
	}

	Level.SetLevel(zap.InfoLevel)
}
