// Package logger configures the zerolog logger shared by every component.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger
type Logger struct {
	zerolog.Logger
}

// New creates the service logger. Development gets a console writer at
// debug level; other environments log JSON lines at info level.
func New(serviceName string, environment string) *Logger {
	if environment == "development" {
		l := NewWithWriter(serviceName, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		return &Logger{Logger: l.Level(zerolog.DebugLevel)}
	}
	l := NewWithWriter(serviceName, os.Stdout)
	return &Logger{Logger: l.Level(zerolog.InfoLevel)}
}

// NewWithWriter creates a logger writing JSON lines to w.
func NewWithWriter(serviceName string, w io.Writer) *Logger {
	return &Logger{
		Logger: zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With().Str(key, value).Logger()}
}

// WithComponent tags entries with the emitting component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithItemID tags entries with an inventory item.
func (l *Logger) WithItemID(itemID string) *Logger {
	return l.with("item_id", itemID)
}

// WithUserID tags entries with a notification recipient.
func (l *Logger) WithUserID(userID string) *Logger {
	return l.with("user_id", userID)
}
