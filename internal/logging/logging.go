// Package logging builds the logrus logger used across the daemons.
package logging

import (
	"fmt"
	"os"
	"path"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/config"
)

// New creates a logger writing to stderr at the configured level. When a
// log directory is set, entries are additionally split into per-level
// files underneath it.
func New(cfg config.LogConfig) (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	if cfg.Dir != "" {
		if err := addFileHook(logger, cfg.Dir); err != nil {
			return nil, err
		}
	}
	return logger, nil
}

func addFileHook(logger *log.Logger, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logger.Hooks.Add(lfshook.NewHook(lfshook.PathMap{
		log.DebugLevel: path.Join(dir, "debug.log"),
		log.InfoLevel:  path.Join(dir, "info.log"),
		log.WarnLevel:  path.Join(dir, "warn.log"),
		log.ErrorLevel: path.Join(dir, "error.log"),
		log.FatalLevel: path.Join(dir, "fatal.log"),
		log.PanicLevel: path.Join(dir, "panic.log"),
	}, nil))
	return nil
}
