package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// ParseLevel maps a level name to a Level. Unknown names fall back to INFO.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

type Logger struct {
	level    Level
	mu       *sync.Mutex
	prefix   string
	debugLog *log.Logger
	infoLog  *log.Logger
	warnLog  *log.Logger
	errorLog *log.Logger
}

func New(level string) *Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter builds a logger that writes every level to w.
func NewWithWriter(level string, w io.Writer) *Logger {
	flags := log.LstdFlags | log.Lmicroseconds

	return &Logger{
		level:    ParseLevel(level),
		mu:       &sync.Mutex{},
		debugLog: log.New(w, "[DEBUG] ", flags),
		infoLog:  log.New(w, "[INFO] ", flags),
		warnLog:  log.New(w, "[WARN] ", flags),
		errorLog: log.New(w, "[ERROR] ", flags),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l := NewWithWriter("ERROR", io.Discard)
	l.level = ERROR + 1
	return l
}

// With returns a child logger that prefixes each line with the given
// fields, rendered as sorted key=value pairs. The child shares the
// parent's outputs and lock.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	child := *l
	child.prefix = l.prefix + Fields(fields)
	return &child
}

func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) output(lg *log.Logger, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lg.Output(3, l.prefix+fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level <= DEBUG {
		l.output(l.debugLog, format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.level <= INFO {
		l.output(l.infoLog, format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level <= WARN {
		l.output(l.warnLog, format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.level <= ERROR {
		l.output(l.errorLog, format, args...)
	}
}

// Fields renders ctx as "k1=v1 k2=v2 " in key order.
func Fields(ctx map[string]interface{}) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v ", k, ctx[k])
	}
	return b.String()
}
