package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = zap.NewNop().Sugar()

// SetupLogging installs the process logger. Debug mode uses the human-readable
// development encoder, otherwise JSON lines at info level.
func SetupLogging(debug bool) error {
	var (
		raw *zap.Logger
		err error
	)
	if debug {
		raw, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		raw, err = cfg.Build()
	}
	if err != nil {
		return err
	}
	logger = raw.Sugar()
	return nil
}

// SetLogger replaces the process logger, mostly for tests
func SetLogger(l *zap.SugaredLogger) {
	logger = l
}

func syncLogger() {
	_ = logger.Sync()
}
