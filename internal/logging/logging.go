package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level enumerates supported logging granularities.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format enumerates supported logger output encodings.
type Format string

const (
	FormatStructured Format = "structured"
	FormatConsole    Format = "console"
)

var levelMapping = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

var formatEncoding = map[Format]string{
	FormatStructured: "json",
	FormatConsole:    "console",
}

// Factory builds zap loggers with consistent configuration.
type Factory struct {
	// OutputPaths overrides zap's default of stderr.
	OutputPaths []string
}

// New produces a logger honoring the requested level and format.
func (f Factory) New(level Level, format Format) (*zap.Logger, error) {
	zapLevel, ok := levelMapping[level]
	if !ok {
		return nil, fmt.Errorf("unsupported log level: %s", level)
	}
	encoding, ok := formatEncoding[format]
	if !ok {
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.Encoding = encoding
	if format == FormatConsole {
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if len(f.OutputPaths) > 0 {
		cfg.OutputPaths = f.OutputPaths
		cfg.ErrorOutputPaths = f.OutputPaths
	}
	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
