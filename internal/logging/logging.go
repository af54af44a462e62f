// Package logging wraps logrus with the structured fields every
// component in this repo attaches: stream key, worker id, connection id.
// It replaces the teacher's mix of logrus (config) and a decorative
// banner logger (rtmp package) with one consistent structured logger —
// see DESIGN.md for the drop rationale.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logrus logger configured from a textual level
// ("debug"|"info"|"warn"|"error"), defaulting to info on a bad value.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetReportCaller(lvl == logrus.DebugLevel)
	return log
}

// Component returns a logger scoped to a named component, carrying that
// name as a structured field on every entry.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
