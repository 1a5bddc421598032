package logrus

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/memocas/log"
)

var _ log.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New logs JSON lines to w at level. Unknown levels fall back to info.
func New(level string, w io.Writer) LogrusLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return LogrusLogger{E: l.WithField("component", "memocas")}
}

func (l LogrusLogger) Debug(msg string, f log.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f log.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f log.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f log.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
