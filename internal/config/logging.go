package config

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// SetupLogging switches logrus to JSON on stdout for the server processes. An unknown level
// keeps the default and is reported once.
func SetupLogging(level string) {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
