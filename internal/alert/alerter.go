// Package alert watches paired connections for transfers large enough to
// notify an operator about.
package alert

import (
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/model"
)

// maxPending bounds one interval's report; further hits are only counted.
const maxPending = 100

// Alerter collects connections whose size reaches the configured
// threshold and mails a digest at most once per interval.
type Alerter struct {
	minBytes uint64
	interval time.Duration
	notifier model.Notifier
	log      *log.Logger

	mu         sync.Mutex
	pending    []string
	suppressed int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates an Alerter from the alert configuration.
func New(cfg config.AlertConfig, notifier model.Notifier, logger *log.Logger) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid interval for alerter: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("alerter interval must be a positive duration")
	}
	return &Alerter{
		minBytes: cfg.MinBytes,
		interval: interval,
		notifier: notifier,
		log:      logger,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins the periodic digest loop.
func (a *Alerter) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.drain()
			case <-a.stopChan:
				return
			}
		}
	}()
	a.log.WithFields(log.Fields{
		"min_bytes": a.minBytes,
		"interval":  a.interval.String(),
	}).Info("alerter started")
}

// Stop ends the loop and sends whatever is still pending.
func (a *Alerter) Stop() {
	close(a.stopChan)
	a.wg.Wait()
	a.drain()
}

// Observe records a connection if it crosses the threshold. Called from
// collector workers, so it only appends under the lock.
func (a *Alerter) Observe(con *model.Connection) {
	if con.Size < a.minBytes {
		return
	}
	line := fmt.Sprintf("%s %s:%d -> %s:%d moved %s in %s",
		time.Unix(int64(con.Time), 0).UTC().Format("2006-01-02 15:04:05"),
		con.Src, con.SrcPort, con.Dest, con.DestPort,
		con.HumanSize(), con.HumanDuration())

	a.mu.Lock()
	if len(a.pending) < maxPending {
		a.pending = append(a.pending, line)
	} else {
		a.suppressed++
	}
	a.mu.Unlock()
}

func (a *Alerter) drain() {
	a.mu.Lock()
	pending := a.pending
	suppressed := a.suppressed
	a.pending = nil
	a.suppressed = 0
	a.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	subject := fmt.Sprintf("nfsession: %d large transfer(s)", len(pending)+suppressed)
	body := strings.Join(pending, "\n")
	if suppressed > 0 {
		body += fmt.Sprintf("\n... and %d more", suppressed)
	}

	if err := a.notifier.Send(subject, body); err != nil {
		a.log.WithError(err).Error("failed to send alert notification")
		return
	}
	a.log.WithField("connections", len(pending)+suppressed).Info("alert notification sent")
}
