package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. "prod" emits JSON at info level,
// everything else gets the colored development encoder at debug level.
func NewLogger(env, service string) (*zap.Logger, error) {
	var config zap.Config

	if env == "prod" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if service != "" {
		config.InitialFields = map[string]interface{}{"service": service}
	}

	return config.Build()
}

func NewSugar(env, service string) (*zap.SugaredLogger, error) {
	logger, err := NewLogger(env, service)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Component returns a child logger tagged with the component name.
func Component(logger *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger.Named(name)
}
