// Package sink holds the batch destinations a collector or writer daemon
// can be configured with.
package sink

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/model"
)

// Builder creates a sink from the configuration, or returns nil when the
// sink's section is disabled.
type Builder func(cfg *config.Config, logger *log.Logger) (model.Sink, error)

var (
	registry = make(map[string]Builder)
	order    []string
)

// Register adds a sink builder under a unique name. Called from init.
func Register(name string, builder Builder) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sink '%s' already registered", name))
	}
	registry[name] = builder
	order = append(order, name)
}

// Build instantiates every enabled sink in registration order. A sink that
// fails to build aborts startup; a disabled one is skipped.
func Build(cfg *config.Config, logger *log.Logger) ([]model.Sink, error) {
	var sinks []model.Sink
	for _, name := range order {
		s, err := registry[name](cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("error creating sink '%s': %w", name, err)
		}
		if s == nil {
			continue
		}
		logger.WithField("sink", name).Info("sink enabled")
		sinks = append(sinks, s)
	}
	return sinks, nil
}
