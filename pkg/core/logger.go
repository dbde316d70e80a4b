package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that attaches fields to every entry
	WithFields(fields map[string]interface{}) Logger

	// WithContext returns a logger carrying the connection id stored in ctx, if any
	WithContext(ctx context.Context) Logger
}

// Fields is a shorthand for structured log fields.
type Fields = map[string]interface{}

// splitMessage separates a leading message from trailing key/value pairs,
// so logger.Info("server started", "addr", addr) works on every implementation.
func splitMessage(args []interface{}) (string, map[string]interface{}) {
	if len(args) < 3 || len(args)%2 == 0 {
		return fmt.Sprint(args...), nil
	}
	msg, ok := args[0].(string)
	if !ok {
		return fmt.Sprint(args...), nil
	}
	kv := make(map[string]interface{}, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			return fmt.Sprint(args...), nil
		}
		kv[key] = args[i+1]
	}
	return msg, kv
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		out[k] = v
	}
	return out
}

// defaultLogger implements Logger using Go's standard log package
type defaultLogger struct {
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
	fields      map[string]interface{}
}

// NewDefaultLogger creates a new default logger implementation
func NewDefaultLogger() Logger {
	return &defaultLogger{
		errorLogger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger:  log.New(os.Stderr, "[WARN] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(os.Stdout, "[INFO] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
	}
}

func (l *defaultLogger) output(lg *log.Logger, msg string, kv map[string]interface{}) {
	fields := mergeFields(l.fields, kv)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(msg)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
		msg = b.String()
	}
	_ = lg.Output(3, msg)
}

// Error logs an error message
func (l *defaultLogger) Error(args ...interface{}) {
	msg, kv := splitMessage(args)
	l.output(l.errorLogger, msg, kv)
}

// Errorf logs a formatted error message
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.output(l.errorLogger, fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *defaultLogger) Warn(args ...interface{}) {
	msg, kv := splitMessage(args)
	l.output(l.warnLogger, msg, kv)
}

// Warnf logs a formatted warning message
func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.output(l.warnLogger, fmt.Sprintf(format, args...), nil)
}

// Info logs an informational message
func (l *defaultLogger) Info(args ...interface{}) {
	msg, kv := splitMessage(args)
	l.output(l.infoLogger, msg, kv)
}

// Infof logs a formatted informational message
func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.output(l.infoLogger, fmt.Sprintf(format, args...), nil)
}

// Debug logs a debug message
func (l *defaultLogger) Debug(args ...interface{}) {
	msg, kv := splitMessage(args)
	l.output(l.debugLogger, msg, kv)
}

// Debugf logs a formatted debug message
func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.output(l.debugLogger, fmt.Sprintf(format, args...), nil)
}

func (l *defaultLogger) WithFields(fields map[string]interface{}) Logger {
	cp := *l
	cp.fields = mergeFields(l.fields, fields)
	return &cp
}

func (l *defaultLogger) WithContext(ctx context.Context) Logger {
	if id := GetConnID(ctx); id != "" {
		return l.WithFields(Fields{"conn_id": id})
	}
	return l
}

// jsonLogger writes one JSON object per entry
type jsonLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	fields map[string]interface{}
}

// NewJSONLogger creates a logger that writes JSON lines to stdout
func NewJSONLogger() Logger {
	return NewJSONLoggerTo(os.Stdout)
}

// NewJSONLoggerTo creates a JSON logger writing to w
func NewJSONLoggerTo(w io.Writer) Logger {
	return &jsonLogger{mu: &sync.Mutex{}, out: w}
}

func (l *jsonLogger) write(level, msg string, kv map[string]interface{}) {
	entry := mergeFields(l.fields, kv)
	if entry == nil {
		entry = make(map[string]interface{}, 3)
	} else if len(kv) == 0 {
		entry = mergeFields(nil, entry)
	}
	entry["level"] = level
	entry["msg"] = msg
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"level":%q,"msg":%q,"marshal_error":%q}`, level, msg, err.Error()))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

func (l *jsonLogger) Error(args ...interface{}) {
	msg, kv := splitMessage(args)
	l.write("error", msg, kv)
}

func (l *jsonLogger) Errorf(format string, args ...interface{}) {
	l.write("error", fmt.Sprintf(format, args...), nil)
}

func (l *jsonLogger) Warn(args ...interface{}) {
	msg, kv := splitMessage(args)
	l.write("warn", msg, kv)
}

func (l *jsonLogger) Warnf(format string, args ...interface{}) {
	l.write("warn", fmt.Sprintf(format, args...), nil)
}

func (l *jsonLogger) Info(args ...interface{}) {
	msg, kv := splitMessage(args)
	l.write("info", msg, kv)
}

func (l *jsonLogger) Infof(format string, args ...interface{}) {
	l.write("info", fmt.Sprintf(format, args...), nil)
}

func (l *jsonLogger) Debug(args ...interface{}) {
	msg, kv := splitMessage(args)
	l.write("debug", msg, kv)
}

func (l *jsonLogger) Debugf(format string, args ...interface{}) {
	l.write("debug", fmt.Sprintf(format, args...), nil)
}

func (l *jsonLogger) WithFields(fields map[string]interface{}) Logger {
	return &jsonLogger{mu: l.mu, out: l.out, fields: mergeFields(l.fields, fields)}
}

func (l *jsonLogger) WithContext(ctx context.Context) Logger {
	if id := GetConnID(ctx); id != "" {
		return l.WithFields(Fields{"conn_id": id})
	}
	return l
}
