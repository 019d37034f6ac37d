package common

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dHALogger implements the ILogger interface on top of a zap logger
type dHALogger struct {
	name  string
	level logger.LogLevel
	sugar *zap.SugaredLogger
}

func (l *dHALogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dHALogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.sugar.Debugf(format, args...)
	}
}

func (l *dHALogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.sugar.Infof(format, args...)
	}
}

func (l *dHALogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.sugar.Warnf(format, args...)
	}
}

func (l *dHALogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.sugar.Errorf(format, args...)
	}
}

func (l *dHALogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		l.sugar.Panicf(format, args...)
	}
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var (
	baseLogger     *zap.Logger
	baseLoggerOnce sync.Once
)

// base returns the shared zap logger, all packages write to stdout with the same encoder
func base() *zap.Logger {
	baseLoggerOnce.Do(func() {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(fmt.Sprintf("%-15s", name))
		}

		// level filtering is done by dHALogger, so zap accepts everything
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(os.Stdout),
			zapcore.DebugLevel,
		)
		baseLogger = zap.New(core)
	})
	return baseLogger
}

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	return &dHALogger{
		name:  pkgName,
		level: logger.INFO,
		sugar: base().Named(pkgName).Sugar(),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerNames are all loggers of Dragonboat and of this module
var loggerNames = []string{
	// dragonboat
	"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb",
	// dHA
	"rpc", "transport/rpc", "client", "ha", "membership", "txlog", "badger",
}

// InitLoggers installs the zap backed factory and sets the level of all loggers
func InitLoggers(config ServerConfig) error {
	level, err := ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}

	// Set as the global logger factory for Dragonboat
	logger.SetLoggerFactory(CreateLogger)

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(level)
	}
	// badger is very chatty on info
	if level > logger.WARNING {
		logger.GetLogger("badger").SetLevel(logger.WARNING)
	}
	return nil
}
