package drission

import (
	"os"

	"github.com/sirupsen/logrus"
)

// newLogger returns the default logger: text to stderr at warn level.
func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return l
}

func entry(l logrus.FieldLogger) *logrus.Entry {
	switch v := l.(type) {
	case *logrus.Entry:
		return v
	case *logrus.Logger:
		return logrus.NewEntry(v)
	case nil:
		return logrus.NewEntry(newLogger())
	}
	return l.WithFields(logrus.Fields{})
}
