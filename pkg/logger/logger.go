// Package logger provides the leveled key=value logger used across
// the reflector. Warnings that tend to repeat per misbehaving peer
// (bad datagrams, spoofed sources) go through the throttled variant,
// which caps them at one line per key per interval.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// ThrottleInterval is how often a throttled warning for the same key
// may repeat
const ThrottleInterval = time.Minute

// Config holds logger configuration
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// Field is one key=value pair attached to a log line
type Field struct {
	Key   string
	Value interface{}
}

// core is shared by a logger and all its WithComponent children, so
// lines interleave correctly and throttle state spans components
type core struct {
	mu        sync.Mutex
	out       io.Writer
	throttled map[string]*throttleState
}

type throttleState struct {
	last    time.Time
	dropped int
}

// Logger writes leveled, component-tagged log lines
type Logger struct {
	core      *core
	level     Level
	component string
}

// New creates a logger writing to cfg.Output, stdout by default
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		core: &core{
			out:       out,
			throttled: make(map[string]*throttleState),
		},
		level: parseLevel(cfg.Level),
	}
}

// WithComponent returns a child logger whose lines carry the given
// component tag. The child shares the parent's output and throttle
// state.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		core:      l.core,
		level:     l.level,
		component: component,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	l.emit(DebugLevel, msg, fields)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	l.emit(InfoLevel, msg, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	l.emit(WarnLevel, msg, fields)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(ErrorLevel, msg, fields)
}

// WarnThrottled logs a warning at most once per ThrottleInterval for
// the given key. When a key's window reopens, the number of lines
// dropped in between is appended as a field.
func (l *Logger) WarnThrottled(key, msg string, fields ...Field) {
	if l.level > WarnLevel {
		return
	}
	dropped, ok := l.core.admit(key, time.Now())
	if !ok {
		return
	}
	if dropped > 0 {
		fields = append(fields, Int("dropped", dropped))
	}
	l.emit(WarnLevel, msg, fields)
}

// ForgetThrottled clears throttle state for all keys with the given
// prefix. Used when the entity the keys refer to goes away.
func (l *Logger) ForgetThrottled(prefix string) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	for key := range l.core.throttled {
		if strings.HasPrefix(key, prefix) {
			delete(l.core.throttled, key)
		}
	}
}

// admit decides whether a throttled line for key may be written now,
// reporting how many were dropped since the last one
func (c *core) admit(key string, now time.Time) (dropped int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, seen := c.throttled[key]
	if !seen {
		c.throttled[key] = &throttleState{last: now}
		return 0, true
	}
	if now.Sub(s.last) >= ThrottleInterval {
		dropped = s.dropped
		s.last = now
		s.dropped = 0
		return dropped, true
	}
	s.dropped++
	return 0, false
}

func (l *Logger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006/01/02 15:04:05"))
	if l.component != "" {
		b.WriteString(" [")
		b.WriteString(l.component)
		b.WriteString("]")
	}
	b.WriteString(" [")
	b.WriteString(levelNames[level])
	b.WriteString("] ")
	b.WriteString(msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	b.WriteByte('\n')

	l.core.mu.Lock()
	_, _ = io.WriteString(l.core.out, b.String())
	l.core.mu.Unlock()
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Field constructors for the value types the reflector logs

// String creates a string field
func String(key, val string) Field {
	return Field{Key: key, Value: val}
}

// Int creates an int field
func Int(key string, val int) Field {
	return Field{Key: key, Value: val}
}

// Uint16 creates a uint16 field
func Uint16(key string, val uint16) Field {
	return Field{Key: key, Value: val}
}

// Uint32 creates a uint32 field
func Uint32(key string, val uint32) Field {
	return Field{Key: key, Value: val}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "nil"}
	}
	return Field{Key: "error", Value: err.Error()}
}
