// Package logging provides a small colorized component logger on top of
// github.com/fatih/color: one logger per component, filtered by a minimum
// level read from LOG_LEVEL.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
)

// Level is a logger's minimum emitted severity.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger prefixes every line with a colorized component name and filters by
// minimum level.
type Logger struct {
	component string
	color     *color.Color
	min       Level
	out       *log.Logger
}

// NewComponentLogger creates a logger scoped to one component name, reading
// LOG_LEVEL from the environment (default info) the way the rest of the
// hub's ambient config does.
func NewComponentLogger(component string) *Logger {
	return &Logger{
		component: component,
		color:     color.New(color.FgCyan),
		min:       ParseLevel(os.Getenv("LOG_LEVEL")),
		out:       log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) log(level Level, label string, format string, args ...any) {
	if level < l.min {
		return
	}
	prefix := l.color.Sprintf("[%s]", l.component)
	l.out.Printf("%s %s %s", prefix, label, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) { l.log(DEBUG, "DEBUG", format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(INFO, "INFO", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(WARN, "WARN", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(ERROR, "ERROR", format, args...) }
