package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config contains logging configuration
type Config struct {
	Level       string `yaml:"level" json:"level"`
	Encoding    string `yaml:"encoding" json:"encoding"` // json or console
	OutputPath  string `yaml:"output_path" json:"output_path"`
	Development bool   `yaml:"development" json:"development"`

	// Rotation settings for file output
	MaxSizeMB  int  `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool `yaml:"compress" json:"compress"`
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Encoding:   "console",
		OutputPath: "stdout",
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// Factory creates named component loggers that share one core and one
// dynamically adjustable level.
type Factory struct {
	config Config
	level  zap.AtomicLevel
	root   *zap.Logger
}

// NewFactory builds the root logger from config
func NewFactory(config Config) (*Factory, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := buildEncoderConfig(config)

	var encoder zapcore.Encoder
	if config.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	writers := []zapcore.WriteSyncer{}

	// File output with rotation
	if config.OutputPath != "" && config.OutputPath != "stdout" {
		if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		fileWriter := &lumberjack.Logger{
			Filename:   config.OutputPath,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
		writers = append(writers, zapcore.AddSync(fileWriter))
	}

	if config.OutputPath == "stdout" || config.Development {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), atomicLevel)

	options := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if config.Development {
		options = append(options, zap.Development())
	}

	root := zap.New(core, options...)

	return &Factory{
		config: config,
		level:  atomicLevel,
		root:   root,
	}, nil
}

// Logger returns a named logger for the given component
func (f *Factory) Logger(component string) *zap.Logger {
	return f.root.Named(component)
}

// Root returns the root logger
func (f *Factory) Root() *zap.Logger {
	return f.root
}

// SetLevel changes the level for all loggers created by this factory.
// Used by the config watcher to apply level changes without a restart.
func (f *Factory) SetLevel(level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	f.level.SetLevel(parsed)
	return nil
}

// Sync flushes buffered log entries
func (f *Factory) Sync() error {
	return f.root.Sync()
}

func buildEncoderConfig(config Config) zapcore.EncoderConfig {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if config.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return encoderConfig
}
