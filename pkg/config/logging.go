package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging applies level and format to the standard logrus logger.
// An unknown level falls back to info.
func ConfigureLogging(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stdout)
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
