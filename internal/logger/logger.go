package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger with the debug flag. Without debug only fatal
// errors are written. It satisfies logrus.FieldLogger.
type Logger struct {
	debug bool
	*logrus.Logger
}

// New creates a logger that writes to stderr when debug is enabled.
func New(debug bool) *Logger {
	var writer io.Writer = io.Discard
	if debug {
		writer = os.Stderr
	}
	return NewWithWriter(debug, writer)
}

// NewWithWriter creates a logger writing to w. Fatal errors are always
// written, falling back to stderr when debug is off.
func NewWithWriter(debug bool, w io.Writer) *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	if debug {
		l.SetOutput(w)
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.FatalLevel)
	}
	return &Logger{debug: debug, Logger: l}
}

// Enabled reports whether debug logging is on.
func (l *Logger) Enabled() bool {
	return l.debug
}

// Printf logs if debug is enabled
func (l *Logger) Printf(format string, v ...interface{}) {
	if l.debug {
		l.Logger.Infof(format, v...)
	}
}

// Print logs if debug is enabled
func (l *Logger) Print(v ...interface{}) {
	if l.debug {
		l.Logger.Info(v...)
	}
}

// Println logs if debug is enabled
func (l *Logger) Println(v ...interface{}) {
	if l.debug {
		l.Logger.Infoln(v...)
	}
}

// Fatalf always logs (fatal errors)
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.Logger.Fatalf(format, v...)
}
