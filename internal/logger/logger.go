package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger  *zap.Logger
	once    sync.Once
	initErr error
)

const (
	DefaultFilename   = "logs/canopy-core.log"
	DefaultMaxSize    = 100 // megabytes
	DefaultMaxAge     = 30  // days
	DefaultMaxBackups = 10
	DefaultCompress   = true
)

type settings struct {
	level         zapcore.Level
	consoleOutput bool
	fileOutput    bool
	filename      string
	maxSize       int
	maxAge        int
	maxBackups    int
	compress      bool
	jsonFormat    bool
}

// Option configures the logger
type Option func(*settings)

// WithLevel sets the logging level
func WithLevel(level string) Option {
	return func(s *settings) { s.level = parseLevel(level) }
}

// WithConsoleOutput enables/disables console output
func WithConsoleOutput(enabled bool) Option {
	return func(s *settings) { s.consoleOutput = enabled }
}

// WithFileOutput enables/disables file output
func WithFileOutput(enabled bool) Option {
	return func(s *settings) { s.fileOutput = enabled }
}

// WithFilename sets the log filename
func WithFilename(filename string) Option {
	return func(s *settings) { s.filename = filename }
}

// WithJSONFormat enables JSON format for console output (for API mode)
func WithJSONFormat(enabled bool) Option {
	return func(s *settings) { s.jsonFormat = enabled }
}

// WithRotationConfig sets the log rotation configuration
func WithRotationConfig(maxSize, maxAge, maxBackups int, compress bool) Option {
	return func(s *settings) {
		s.maxSize = maxSize
		s.maxAge = maxAge
		s.maxBackups = maxBackups
		s.compress = compress
	}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	case "panic":
		return zapcore.PanicLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes logger with default options
func Init(level string) (*zap.Logger, error) {
	return InitWithOptions(WithLevel(level))
}

// InitForCLI initializes logger for CLI with human-readable console output
func InitForCLI(level string) (*zap.Logger, error) {
	return InitWithOptions(
		WithLevel(level),
		WithConsoleOutput(true),
		WithJSONFormat(false),
	)
}

// InitForAPI initializes logger for API with JSON console output
func InitForAPI(level string, enableFileLogging bool) (*zap.Logger, error) {
	return InitWithOptions(
		WithLevel(level),
		WithConsoleOutput(true),
		WithJSONFormat(true),
		WithFileOutput(enableFileLogging),
	)
}

// InitWithOptions initializes logger with options
func InitWithOptions(opts ...Option) (*zap.Logger, error) {
	once.Do(func() {
		s := &settings{
			level:         zapcore.InfoLevel,
			consoleOutput: true,
			filename:      DefaultFilename,
			maxSize:       DefaultMaxSize,
			maxAge:        DefaultMaxAge,
			maxBackups:    DefaultMaxBackups,
			compress:      DefaultCompress,
		}
		for _, opt := range opts {
			opt(s)
		}

		var cores []zapcore.Core
		if s.consoleOutput {
			cores = append(cores, consoleCore(s))
		}
		if s.fileOutput {
			core, err := fileCore(s)
			if err != nil {
				initErr = err
				return
			}
			cores = append(cores, core)
		}
		if len(cores) == 0 {
			initErr = fmt.Errorf("no output configured for logger")
			return
		}

		logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	})

	return logger, initErr
}

func consoleCore(s *settings) zapcore.Core {
	var enc zapcore.Encoder
	if s.jsonFormat {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.StacktraceKey = ""
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.RFC3339TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), s.level)
}

func fileCore(s *settings) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(s.filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	})

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   s.filename,
		MaxSize:    s.maxSize,
		MaxAge:     s.maxAge,
		MaxBackups: s.maxBackups,
		Compress:   s.compress,
	})
	return zapcore.NewCore(enc, sink, s.level), nil
}

// Get returns the logger instance
func Get() *zap.Logger {
	if logger == nil {
		logger, _ = Init("info")
	}
	return logger
}

// Named returns a child logger scoped to a component name
func Named(name string) *zap.Logger {
	return Get().Named(name)
}

// Sync flushes any buffered log entries
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }
func With(fields ...zap.Field) *zap.Logger  { return Get().With(fields...) }
