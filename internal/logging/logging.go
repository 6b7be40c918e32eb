// Package logging adapts the teacher's kernel/utils hand-rolled leveled
// logger (component tag, colorized level, optional caller) for the
// mechtron/nucleus/shell subsystem. The wire/router/discovery subsystem
// logs through log/slog directly instead, mirroring how the teacher
// splits logging between kernel/utils and kernel/core/mesh/routing.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

// Logger is a minimal leveled, component-tagged logger.
type Logger struct {
	mu        sync.Mutex
	level     Level
	component string
	output    io.Writer
}

// New creates a Logger scoped to component, writing to os.Stdout at Info level.
func New(component string) *Logger {
	return &Logger{level: Info, component: component, output: os.Stdout}
}

// WithLevel returns a copy of the logger at the given minimum level.
func (l *Logger) WithLevel(level Level) *Logger {
	return &Logger{level: level, component: l.component, output: l.output}
}

// Field is a structured key-value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

func (l *Logger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(Error, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(time.Now().Format("15:04:05.000"))
	b.WriteString("] [")
	b.WriteString(fmt.Sprintf("%-5s", levelNames[level]))
	b.WriteString("] ")
	if l.component != "" {
		b.WriteString("[")
		b.WriteString(l.component)
		b.WriteString("] ")
	}
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		fmt.Fprintf(&b, "%v", f.Value)
	}
	b.WriteString("\n")
	l.output.Write([]byte(b.String()))
}
