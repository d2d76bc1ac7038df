// Package fmlog centralizes the engine's structured logging. Every
// component gets a child logger tagged with its own name so log lines can be
// filtered per component.
package fmlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("FM_LOG_LEVEL")); err == nil {
		base.SetLevel(lvl)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// For returns a component-scoped logger.
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// SetLevel overrides the base logger level, used by config loading and tests.
func SetLevel(lvl logrus.Level) {
	base.SetLevel(lvl)
}
