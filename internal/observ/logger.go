package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger: JSON in production, console in
// development. An unparseable level falls back to info rather than failing
// startup over a typo.
func NewLogger(env, level string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}

// Named returns a child logger tagged with the component name, so feed,
// store and chat lines are distinguishable in aggregate.
func Named(logger *zap.Logger, component string) *zap.Logger {
	return logger.Named(component)
}
