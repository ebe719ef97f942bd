// Package logging configures the process-wide structured logger.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// appNameHook prefixes every log line with the service name, matching the
// convention used across the rest of the fleet.
type appNameHook struct {
	appName string
}

func (h *appNameHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *appNameHook) Fire(entry *logrus.Entry) error {
	entry.Message = "[" + h.appName + "] " + entry.Message
	return nil
}

// New builds a logrus.Logger reading its level from LOG_LEVEL (default info).
func New(appName string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		logger.Warnf("invalid LOG_LEVEL %q, defaulting to info", levelStr)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.AddHook(&appNameHook{appName: appName})

	return logger
}
