package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New создаёт логгер процесса. В боевом режиме пишет JSON.
func New(level string, json bool) *logrus.Logger {
	return NewWithOutput(os.Stdout, level, json)
}

func NewWithOutput(w io.Writer, level string, json bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(ParseLevel(level))
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

func ParseLevel(level string) logrus.Level {
	switch level {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}
