package bolt

// Logger is the structured logging contract used across the runtime.
// Messages carry variadic key/value pairs so implementations can be backed
// by slog, zap, logrus or anything with a comparable surface.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// scopedLogger decorates a Logger with a fixed set of key/value pairs.
// Every app instance logs through one of these so its unit and instance
// names appear on every record.
type scopedLogger struct {
	base Logger
	kv   []any
}

// ScopeLogger returns a logger that appends the given key/value pairs to
// every message logged through it.
func ScopeLogger(base Logger, kv ...any) Logger {
	if sl, ok := base.(*scopedLogger); ok {
		merged := make([]any, 0, len(sl.kv)+len(kv))
		merged = append(merged, sl.kv...)
		merged = append(merged, kv...)
		return &scopedLogger{base: sl.base, kv: merged}
	}
	return &scopedLogger{base: base, kv: kv}
}

func (l *scopedLogger) args(extra []any) []any {
	out := make([]any, 0, len(extra)+len(l.kv))
	out = append(out, extra...)
	out = append(out, l.kv...)
	return out
}

func (l *scopedLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.args(args)...) }
func (l *scopedLogger) Error(msg string, args ...any) { l.base.Error(msg, l.args(args)...) }
func (l *scopedLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.args(args)...) }
func (l *scopedLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.args(args)...) }
