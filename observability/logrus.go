package observability

import (
	"time"

	"github.com/sirupsen/logrus"
)

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus adapts a logrus logger. A nil logger uses the logrus standard logger.
func NewLogrus(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return logrusLogger{entry: logrus.NewEntry(l)}
}

// NewJSONLogrus returns a logrus logger with the JSON formatter at the named
// level. Unknown levels fall back to info.
func NewJSONLogrus(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func (l logrusLogger) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }
func (l logrusLogger) Info(msg string, fields ...Field)  { l.with(fields).Info(msg) }
func (l logrusLogger) Warn(msg string, fields ...Field)  { l.with(fields).Warn(msg) }
func (l logrusLogger) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }

func (l logrusLogger) With(fields ...Field) Logger {
	return logrusLogger{entry: l.with(fields)}
}

func (l logrusLogger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	lf := make(logrus.Fields, len(fields))
	for _, f := range fields {
		switch v := f.Value().(type) {
		case error:
			lf[f.Key()] = v.Error()
		case time.Duration:
			lf[f.Key()] = v.Milliseconds()
		default:
			lf[f.Key()] = v
		}
	}
	return l.entry.WithFields(lf)
}
