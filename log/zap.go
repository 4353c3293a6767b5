package log

import (
	"strings"

	"github.com/bronystylecrazy/suitekit/build"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger level and output shape.
type Config struct {
	Level      string   `mapstructure:"level"`
	Format     string   `mapstructure:"format"`
	DropFields []string `mapstructure:"drop_fields"`
}

// NewLogger builds a colored console logger in development builds and a JSON
// production logger otherwise. Format "json" or "console" overrides the build default.
func NewLogger(cfg Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if useConsole(cfg.Format) {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	if len(cfg.DropFields) > 0 {
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return DropFieldsCore(core, cfg.DropFields...)
		}))
	}
	return logger, nil
}

func useConsole(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		return true
	case "json":
		return false
	default:
		return build.IsDevelopment()
	}
}

// ParseLevel maps debug|info|warn|error|fatal to a zap level. Unknown values
// fall back to debug in development builds and info otherwise.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	}
	if build.IsDevelopment() {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

func NewEventLogger(log *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: log}
}
