package sink

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/model"
)

var batchJSON = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	Register("nats", func(cfg *config.Config, logger *log.Logger) (model.Sink, error) {
		if !cfg.Sinks.NATS.Enabled {
			return nil, nil
		}
		return NewNATS(cfg.Sinks.NATS, logger)
	})
}

// NATS publishes each flushed batch as a JSON message, letting writer
// daemons elsewhere persist it.
type NATS struct {
	nc      *nats.Conn
	subject string
	log     *log.Logger
}

// NewNATS connects to the NATS server.
func NewNATS(cfg config.NATSSinkConfig, logger *log.Logger) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.WithField("url", cfg.URL).Info("connected to NATS")
	return &NATS{nc: nc, subject: cfg.Subject, log: logger}, nil
}

func (n *NATS) Name() string { return "nats" }

// WriteBatch serializes the batch and publishes it to the configured
// subject.
func (n *NATS) WriteBatch(ctx context.Context, batch *model.ExportBatch) error {
	data, err := batchJSON.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish batch: %w", err)
	}
	return nil
}

// Close drains the connection so published batches reach the server before
// shutdown completes.
func (n *NATS) Close(ctx context.Context) error {
	return n.nc.Drain()
}
