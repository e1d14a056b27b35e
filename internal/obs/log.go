package obs

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var base = newLogger(os.Stdout)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        logrus.FieldMap{logrus.FieldKeyTime: "ts"},
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) {
	if v {
		base.SetLevel(logrus.DebugLevel)
		return
	}
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel accepts debug, info, warn or error. Unknown names fall back to info.
func SetLevel(name string) {
	switch strings.ToLower(name) {
	case "debug":
		base.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		base.SetLevel(logrus.WarnLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

// DebugEnabled reports whether debug events are emitted.
func DebugEnabled() bool { return base.IsLevelEnabled(logrus.DebugLevel) }

// SetOutput redirects all log lines, mostly for tests.
func SetOutput(w io.Writer) { base.SetOutput(w) }

type Fields map[string]any

func entry(f Fields) *logrus.Entry {
	return base.WithFields(logrus.Fields(f))
}

func Info(msg string, f Fields)  { entry(f).Info(msg) }
func Warn(msg string, f Fields)  { entry(f).Warn(msg) }
func Error(msg string, f Fields) { entry(f).Error(msg) }
func Debug(msg string, f Fields) { entry(f).Debug(msg) }
