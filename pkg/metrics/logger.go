package metrics

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent // Disables all logging
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelSilent:
		return "SILENT"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level string. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "SILENT", "OFF", "NONE":
		return LevelSilent
	default:
		return LevelInfo
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		// above Fatal: nothing is enabled
		return zapcore.FatalLevel + 1
	}
}

// Fields represents structured log fields.
type Fields map[string]any

// Format specifies the log output format.
type Format int

const (
	FormatText Format = iota // Human-readable console format
	FormatJSON               // JSON format for log aggregation
)

// ParseFormat maps "json" to FormatJSON and anything else to FormatText.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Logger is a leveled structured logger on top of zap.
type Logger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

type loggerOptions struct {
	out    io.Writer
	level  Level
	format Format
	fields Fields
	name   string
	core   zapcore.Core
}

// LoggerOption configures a logger.
type LoggerOption func(*loggerOptions)

// WithOutput sets the output writer.
func WithOutput(w io.Writer) LoggerOption {
	return func(o *loggerOptions) {
		o.out = w
	}
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(o *loggerOptions) {
		o.level = level
	}
}

// WithFormat sets the output format.
func WithFormat(format Format) LoggerOption {
	return func(o *loggerOptions) {
		o.format = format
	}
}

// WithFields sets default fields for all log entries.
func WithFields(fields Fields) LoggerOption {
	return func(o *loggerOptions) {
		o.fields = fields
	}
}

// WithName sets the logger name.
func WithName(name string) LoggerOption {
	return func(o *loggerOptions) {
		o.name = name
	}
}

// WithCore writes entries to core instead of an encoder on the output
// writer. The level still filters entries before they reach core.
func WithCore(core zapcore.Core) LoggerOption {
	return func(o *loggerOptions) {
		o.core = core
	}
}

// NewLogger creates a new logger with the given options. The default is
// info level text on stdout.
func NewLogger(opts ...LoggerOption) *Logger {
	o := loggerOptions{out: os.Stdout, level: LevelInfo, format: FormatText}
	for _, opt := range opts {
		opt(&o)
	}

	level := zap.NewAtomicLevelAt(o.level.zap())
	core := o.core
	if core == nil {
		core = zapcore.NewCore(newEncoder(o.format), zapcore.AddSync(o.out), level)
	} else {
		core = levelFilter{Core: core, level: level}
	}

	z := zap.New(core)
	if o.name != "" {
		z = z.Named(o.name)
	}
	if len(o.fields) > 0 {
		z = z.With(zapFields(o.fields)...)
	}
	return &Logger{z: z, level: level}
}

func newEncoder(format Format) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	if format == FormatJSON {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// levelFilter applies the logger's atomic level in front of a foreign core.
type levelFilter struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (f levelFilter) Enabled(l zapcore.Level) bool {
	return f.level.Enabled(l) && f.Core.Enabled(l)
}

func (f levelFilter) With(fields []zapcore.Field) zapcore.Core {
	return levelFilter{Core: f.Core.With(fields), level: f.level}
}

func (f levelFilter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !f.level.Enabled(ent.Level) {
		return ce
	}
	return f.Core.Check(ent, ce)
}

// zapFields converts fields in key order so output is stable.
func zapFields(fields Fields) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

// With returns a new logger with additional fields.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{z: l.z.With(zapFields(fields)...), level: l.level}
}

// Named returns a new logger with the given name appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.z.Named(name), level: l.level}
}

// SetLevel changes the logging level for l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zap())
}

// Enabled reports whether level is logged.
func (l *Logger) Enabled(level Level) bool {
	return level != LevelSilent && l.level.Enabled(level.zap())
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(zapcore.DebugLevel, msg, fields)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(zapcore.InfoLevel, msg, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(zapcore.WarnLevel, msg, fields)
}

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(zapcore.ErrorLevel, msg, fields)
}

func (l *Logger) log(level zapcore.Level, msg string, extra []Fields) {
	ce := l.z.Check(level, msg)
	if ce == nil {
		return
	}
	var merged Fields
	switch len(extra) {
	case 0:
	case 1:
		merged = extra[0]
	default:
		merged = make(Fields)
		for _, f := range extra {
			for k, v := range f {
				merged[k] = v
			}
		}
	}
	ce.Write(zapFields(merged)...)
}

// --- Global Logger ---

var (
	globalLogger   = NewLogger()
	globalLoggerMu sync.RWMutex
)

// SetLogger sets the global logger.
func SetLogger(l *Logger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = l
}

// GetLogger returns the global logger.
func GetLogger() *Logger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

// Debug logs at debug level using the global logger.
func Debug(msg string, fields ...Fields) {
	GetLogger().Debug(msg, fields...)
}

// Info logs at info level using the global logger.
func Info(msg string, fields ...Fields) {
	GetLogger().Info(msg, fields...)
}

// Warn logs at warn level using the global logger.
func Warn(msg string, fields ...Fields) {
	GetLogger().Warn(msg, fields...)
}

// Error logs at error level using the global logger.
func Error(msg string, fields ...Fields) {
	GetLogger().Error(msg, fields...)
}

// NewNullLogger returns a logger that discards all output.
func NewNullLogger() *Logger {
	return &Logger{z: zap.NewNop(), level: zap.NewAtomicLevelAt(LevelSilent.zap())}
}

// ProductionLogger returns an info level JSON logger writing to w.
func ProductionLogger(w io.Writer) *Logger {
	return NewLogger(WithOutput(w), WithLevel(LevelInfo), WithFormat(FormatJSON))
}
