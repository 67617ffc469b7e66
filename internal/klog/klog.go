// Package klog provides leveled, multi-writer logging for the kernel core.
// Any number of named loggers may be registered, each with its own minimum
// level; a log call fans out to every logger whose level admits it.
package klog

import (
	"fmt"
	"io"
	golog "log"
	"sync"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel parses one of "debug", "info", "warn", "error", "fatal".
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	}
	return -1, fmt.Errorf("invalid log level: %q", s)
}

type logger struct {
	l     *golog.Logger
	level Level
}

var (
	mu      sync.RWMutex
	loggers = map[string]*logger{}
)

// AddLogger registers a named logger writing to output, filtering out
// anything below level. Registering a name that already exists replaces it.
func AddLogger(name string, output io.Writer, level Level) {
	mu.Lock()
	defer mu.Unlock()

	loggers[name] = &logger{
		l:     golog.New(output, "", golog.LstdFlags|golog.Lmicroseconds),
		level: level,
	}
}

// DelLogger removes a previously registered logger.
func DelLogger(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(loggers, name)
}

// SetLevel changes the minimum level for a registered logger.
func SetLevel(name string, level Level) error {
	mu.Lock()
	defer mu.Unlock()

	l, ok := loggers[name]
	if !ok {
		return fmt.Errorf("no such logger: %v", name)
	}
	l.level = level
	return nil
}

func dispatch(level Level, tag string, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()

	msg := fmt.Sprintf(format, args...)
	for _, l := range loggers {
		if l.level <= level {
			l.l.Printf("[%s] %s%s", level, tag, msg)
		}
	}
}

func Debug(format string, args ...interface{}) { dispatch(DEBUG, "", format, args...) }
func Info(format string, args ...interface{})  { dispatch(INFO, "", format, args...) }
func Warn(format string, args ...interface{})  { dispatch(WARN, "", format, args...) }
func Error(format string, args ...interface{}) { dispatch(ERROR, "", format, args...) }

// Fatal logs at FATAL and panics (the kernel core never calls os.Exit --
// the caller, usually cmd/kernelsh, decides what a fatal kernel error means).
func Fatal(format string, args ...interface{}) {
	dispatch(FATAL, "", format, args...)
	panic(fmt.Sprintf(format, args...))
}

// Tag returns a logging function bound to a component tag, e.g.:
//
//	log := klog.Tag("fork")
//	log(klog.DEBUG, "cloning map for pid %d", pid)
func Tag(tag string) func(level Level, format string, args ...interface{}) {
	prefix := tag + ": "
	return func(level Level, format string, args ...interface{}) {
		dispatch(level, prefix, format, args...)
	}
}
