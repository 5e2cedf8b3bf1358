package prolink

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// baseLogger is the process-wide default logger, writing leveled,
// timestamped output to stderr. Individual components never log directly
// against it; they call componentLogger to get a copy tagged with their
// own name, the same way the teacher's code separates per-subsystem
// loggers.
var baseLogger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

var baseLoggerMu sync.RWMutex

// SetLogger replaces the library-wide base logger. Passing nil restores the
// default stderr logger. Safe to call concurrently with running components.
func SetLogger(l *log.Logger) {
	baseLoggerMu.Lock()
	defer baseLoggerMu.Unlock()
	if l == nil {
		l = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, TimeFormat: "15:04:05.000"})
	}
	baseLogger = l
}

// componentLogger returns a logger tagged with "component"=name.
func componentLogger(name string) *log.Logger {
	baseLoggerMu.RLock()
	defer baseLoggerMu.RUnlock()
	return baseLogger.With("component", name)
}

// eventTimeFormat is shared by every device-found/lost/status line the demo
// CLI prints, so a session's output reads as one consistent log, independent
// of the leveled logger's own timestamp format.
const eventTimeFormat = "%Y-%m-%d %H:%M:%S"

// FormatEventTime renders t the way the demo CLI timestamps device and
// status events, separate from the leveled logger's own time format.
func FormatEventTime(t time.Time) string {
	formatted, err := strftime.Format(eventTimeFormat, t)
	if err != nil {
		return t.Format("2006-01-02 15:04:05")
	}
	return formatted
}
