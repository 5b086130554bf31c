package logging

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/TuSKan/zarr-dechunk/internal/config"
)

// InitLogger sets the log level and format based on the provided configuration
func InitLogger(cfg *config.Config) {
	log.SetLevel(parseLevel(cfg.LogLevel))
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

// parseLevel accepts any logrus level name; empty or unknown names mean error.
func parseLevel(name string) log.Level {
	level, err := log.ParseLevel(name)
	if err != nil {
		return log.ErrorLevel
	}
	return level
}
