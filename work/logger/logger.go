package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// LogLevel orders message severities; anything below the configured level is
// dropped.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger. The zero value is not usable; construct with
// New or use the package-level functions, which share one default instance.
type Logger struct {
	level LogLevel
	mu    sync.RWMutex
}

// New creates a logger filtering below the named level.
func New(level string) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
	}
}

func defaultInstance() *Logger {
	once.Do(func() {
		defaultLogger = &Logger{level: INFO}
	})
	return defaultLogger
}

// ParseLogLevel maps a level name to its LogLevel. Unknown names fall back
// to INFO rather than silencing or flooding the log.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel adjusts the shared default logger's level. Used at startup when
// the debug flag is set.
func SetLogLevel(level string) {
	defaultInstance().SetLevel(level)
}

// SetLevel adjusts this logger's level. Safe to call while logging.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

func (l *Logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

// emit writes the formatted message with its severity tag through the
// standard logger, which carries the timestamp.
func emit(tag string, format string, v ...interface{}) {
	log.Printf("[%s] %s", tag, fmt.Sprintf(format, v...))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.shouldLog(DEBUG) {
		emit("DEBUG", format, v...)
	}
}

// Info logs at info level.
func (l *Logger) Info(format string, v ...interface{}) {
	if l.shouldLog(INFO) {
		emit("INFO", format, v...)
	}
}

// Warn logs at warning level.
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.shouldLog(WARN) {
		emit("WARN", format, v...)
	}
}

// Error logs at error level.
func (l *Logger) Error(format string, v ...interface{}) {
	if l.shouldLog(ERROR) {
		emit("ERROR", format, v...)
	}
}

// Package-level variants log through the shared default instance.

func Debug(format string, v ...interface{}) {
	defaultInstance().Debug(format, v...)
}

func Info(format string, v ...interface{}) {
	defaultInstance().Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	defaultInstance().Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	defaultInstance().Error(format, v...)
}
