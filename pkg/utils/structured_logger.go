package utils

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFormat defines the output format for logs
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// levelState is shared by a logger and every child derived from it.
type levelState struct {
	mu              sync.RWMutex
	level           LogLevel
	componentLevels map[string]LogLevel
}

// StructuredLogger provides structured logging with levels and fields on
// top of zap.
type StructuredLogger struct {
	base      *zap.Logger
	levels    *levelState
	component string
}

// StructuredLoggerConfig holds configuration for the logger
type StructuredLoggerConfig struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
	IncludeStack  bool
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:         INFO,
		Output:        os.Stderr,
		Format:        FormatText,
		IncludeCaller: true,
		IncludeStack:  false,
	}
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case FormatText:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log format: %d", config.Format)
	}

	// Level filtering happens in isEnabled so that component levels can
	// lower the threshold below the global one.
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(output)), zapcore.DebugLevel)

	opts := []zap.Option{zap.AddCallerSkip(2)}
	if config.IncludeCaller {
		opts = append(opts, zap.AddCaller())
	}
	if config.IncludeStack {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return &StructuredLogger{
		base: zap.New(core, opts...),
		levels: &levelState{
			level:           config.Level,
			componentLevels: make(map[string]LogLevel),
		},
	}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *StructuredLogger {
	return &StructuredLogger{
		base:   zap.NewNop(),
		levels: &levelState{level: ERROR, componentLevels: make(map[string]LogLevel)},
	}
}

// WithField returns a new logger with an additional context field
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	child := *sl
	child.base = sl.base.With(zap.Any(key, value))
	if key == "component" {
		if s, ok := value.(string); ok {
			child.component = s
		}
	}
	return &child
}

// WithFields returns a new logger with multiple context fields
func (sl *StructuredLogger) WithFields(fields map[string]interface{}) *StructuredLogger {
	child := *sl
	child.base = sl.base.With(toZapFields(fields)...)
	if c, ok := fields["component"].(string); ok {
		child.component = c
	}
	return &child
}

// WithComponent returns a logger with a component field
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return sl.WithField("component", component)
}

// SetComponentLevel sets the log level for a specific component
func (sl *StructuredLogger) SetComponentLevel(component string, level LogLevel) {
	sl.levels.mu.Lock()
	defer sl.levels.mu.Unlock()
	sl.levels.componentLevels[component] = level
}

// SetLevel sets the global log level
func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.levels.mu.Lock()
	defer sl.levels.mu.Unlock()
	sl.levels.level = level
}

// GetLevel returns the current log level
func (sl *StructuredLogger) GetLevel() LogLevel {
	sl.levels.mu.RLock()
	defer sl.levels.mu.RUnlock()
	return sl.levels.level
}

// Zap exposes the underlying zap logger.
func (sl *StructuredLogger) Zap() *zap.Logger {
	return sl.base
}

func (sl *StructuredLogger) isEnabled(level LogLevel) bool {
	sl.levels.mu.RLock()
	defer sl.levels.mu.RUnlock()

	if sl.component != "" {
		if compLevel, exists := sl.levels.componentLevels[sl.component]; exists {
			return level >= compLevel
		}
	}
	return level >= sl.levels.level
}

// log must be called directly from the exported logging methods so that
// the caller skip lands on user code.
func (sl *StructuredLogger) log(level LogLevel, message string, fieldMaps []map[string]interface{}) {
	if !sl.isEnabled(level) {
		return
	}
	ce := sl.base.Check(level.zapLevel(), message)
	if ce == nil {
		return
	}
	var fields []zap.Field
	for _, m := range fieldMaps {
		fields = append(fields, toZapFields(m)...)
	}
	ce.Write(fields...)
}

func toZapFields(m map[string]interface{}) []zap.Field {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := m[k].(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, m[k]))
	}
	return fields
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.log(DEBUG, message, fields)
}

// Info logs an info message
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.log(INFO, message, fields)
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.log(WARN, message, fields)
}

// Error logs an error message
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.log(ERROR, message, fields)
}

// Debugf logs a formatted debug message
func (sl *StructuredLogger) Debugf(format string, args ...interface{}) {
	sl.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message
func (sl *StructuredLogger) Infof(format string, args ...interface{}) {
	sl.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (sl *StructuredLogger) Warnf(format string, args ...interface{}) {
	sl.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (sl *StructuredLogger) Errorf(format string, args ...interface{}) {
	sl.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Sync flushes any buffered log entries
func (sl *StructuredLogger) Sync() error {
	return sl.base.Sync()
}
