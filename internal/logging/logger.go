package logging

import (
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields carries structured context for a log entry.
type Fields map[string]interface{}

// LoggerV2 is a component-scoped structured logger.
type LoggerV2 struct {
	base *zap.Logger
}

var (
	rootMu sync.RWMutex
	root   = zap.NewNop()
)

// Setup configures the process root logger. Level is one of debug, info, warn, error;
// format is "json" or "console".
func Setup(level, format string) error {
	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	rootMu.Lock()
	root = logger
	rootMu.Unlock()
	return nil
}

// Sync flushes buffered entries of the root logger.
func Sync() {
	rootMu.RLock()
	defer rootMu.RUnlock()
	_ = root.Sync()
}

// NewLoggerV2 creates a logger tagged with the given component name.
func NewLoggerV2(component string) *LoggerV2 {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return &LoggerV2{base: root.With(zap.String("component", component))}
}

// NewNop returns a logger that discards everything.
func NewNop() *LoggerV2 {
	return &LoggerV2{base: zap.NewNop()}
}

// With returns a child logger that always carries the given fields.
func (l *LoggerV2) With(fields Fields) *LoggerV2 {
	return &LoggerV2{base: l.base.With(toZap(fields)...)}
}

func (l *LoggerV2) Debug(msg string, fields ...Fields) {
	l.base.Debug(msg, merge(fields)...)
}

func (l *LoggerV2) Info(msg string, fields ...Fields) {
	l.base.Info(msg, merge(fields)...)
}

func (l *LoggerV2) Warn(msg string, fields ...Fields) {
	l.base.Warn(msg, merge(fields)...)
}

func (l *LoggerV2) Error(msg string, fields ...Fields) {
	l.base.Error(msg, merge(fields)...)
}

// Fatal logs and exits the process.
func (l *LoggerV2) Fatal(msg string, fields ...Fields) {
	l.base.Fatal(msg, merge(fields)...)
	os.Exit(1)
}

func merge(fields []Fields) []zap.Field {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return toZap(fields[0])
	}
	out := make([]zap.Field, 0)
	for _, f := range fields {
		out = append(out, toZap(f)...)
	}
	return out
}

func toZap(fields Fields) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
