package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines the zap backend configuration
type ZapConfig struct {
	Level      string `yaml:"level"`      // "debug", "info", "warn", "error"
	Format     string `yaml:"format"`     // "json", "console"
	Output     string `yaml:"output"`     // "stdout", "stderr", file path
	Caller     bool   `yaml:"caller"`     // Include caller information
	Stacktrace bool   `yaml:"stacktrace"` // Include stacktrace on errors
}

// DefaultZapConfig returns the configuration used by the wrapper binary
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:  "info",
		Format: "console",
		Output: "stdout",
	}
}

// ZapBackend is a Logger backed by a zap sugared logger
type ZapBackend struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// NewZapLogger builds a zap backend from configuration
func NewZapLogger(config ZapConfig) (*ZapBackend, error) {
	zapLogger, err := createZapLogger(config)
	if err != nil {
		return nil, err
	}
	return NewZapBackend(zapLogger), nil
}

// NewZapBackend wraps an existing zap logger
func NewZapBackend(zapLogger *zap.Logger) *ZapBackend {
	return &ZapBackend{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
	}
}

func (z *ZapBackend) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		z.sugar.Debugf(format, args...)
	case LogLevelWarn:
		z.sugar.Warnf(format, args...)
	case LogLevelError:
		z.sugar.Errorf(format, args...)
	default:
		z.sugar.Infof(format, args...)
	}
}

func (z *ZapBackend) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapBackend) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapBackend) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapBackend) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// Named returns a child backend with the given service field attached
func (z *ZapBackend) Named(serviceID string) *ZapBackend {
	return NewZapBackend(z.logger.With(zap.String("service", serviceID)))
}

// Sync flushes any buffered log entries
func (z *ZapBackend) Sync() error {
	return z.logger.Sync()
}

func createZapLogger(config ZapConfig) (*zap.Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	switch config.Output {
	case "stdout", "":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	case "stderr":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", config.Output, err)
		}
		writeSyncer = zapcore.Lock(zapcore.AddSync(file))
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...), nil
}

// ParseLevel maps a level name to a zap level; zap v1.20 has no zapcore.ParseLevel.
func ParseLevel(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
