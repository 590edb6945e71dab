// Package stream consumes batches published by collectors over NATS, for
// writer daemons that persist them away from the capture host.
package stream

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/model"
)

var batchJSON = jsoniter.Config{UseNumber: true}.Froze()

// BatchHandler processes one received export batch.
type BatchHandler func(batch *model.ExportBatch)

// Subscriber receives export batches from a NATS subject. Subscribers
// sharing a queue group split the stream between them.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	queue   string
	log     *log.Logger
}

// NewSubscriber connects to the NATS server.
func NewSubscriber(cfg config.StreamConfig, logger *log.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.WithField("url", cfg.URL).Info("connected to NATS")
	return &Subscriber{nc: nc, subject: cfg.Subject, queue: cfg.Queue, log: logger}, nil
}

// Start subscribes and dispatches every decoded batch to the handler.
// Messages that do not decode are logged and dropped.
func (s *Subscriber) Start(handler BatchHandler) error {
	sub, err := s.nc.QueueSubscribe(s.subject, s.queue, func(msg *nats.Msg) {
		batch, err := DecodeBatch(msg.Data)
		if err != nil {
			s.log.WithError(err).Warn("dropping undecodable batch message")
			return
		}
		handler(batch)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", s.subject, err)
	}
	s.sub = sub
	s.log.WithFields(log.Fields{"subject": s.subject, "queue": s.queue}).Info("subscribed, waiting for batches")
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}

// DecodeBatch parses a published batch message. Numeric flow values arrive
// as json.Number, which the model accessors understand.
func DecodeBatch(data []byte) (*model.ExportBatch, error) {
	var batch model.ExportBatch
	if err := batchJSON.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	return &batch, nil
}
