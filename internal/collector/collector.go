// Package collector runs the UDP receive loop and the per-exporter
// decode/normalize/sessionize pipeline behind it.
package collector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/alert"
	"github.com/irino/nfsession/internal/capture"
	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/enrich"
	"github.com/irino/nfsession/internal/model"
	"github.com/irino/nfsession/internal/netflow"
	"github.com/irino/nfsession/internal/normalize"
	"github.com/irino/nfsession/internal/session"
)

// maxDatagramSize fits any UDP payload an exporter can send.
const maxDatagramSize = 65535

// datagram is one received export packet queued for a worker.
type datagram struct {
	exporter string
	payload  []byte
}

// exporterState is everything a worker keeps per exporter: the pairing
// aggregator and one sequence tracker per observation domain.
type exporterState struct {
	agg *session.Aggregator
	seq map[uint32]*seqTracker
}

// Options wires a Collector together. Logger, Metrics and at least one
// sink are required; Enricher, Alerter and Capture are optional.
type Options struct {
	Config   config.CollectorConfig
	Logger   *log.Logger
	Metrics  *Metrics
	Sinks    []model.Sink
	Enricher *enrich.GeoIP
	Alerter  *alert.Alerter
	Capture  *capture.Writer
}

// Collector receives export datagrams on a UDP socket, shards them to
// workers by exporter address and periodically flushes the assembled
// batches to the sinks.
//
// Each worker owns the template stores and aggregators of the exporters
// sharded to it, so per-exporter state never needs locking. Only the
// pending batch map, filled by workers and drained by the flusher, is
// shared.
type Collector struct {
	cfg      config.CollectorConfig
	log      *log.Logger
	metrics  *Metrics
	sinks    []model.Sink
	enricher *enrich.GeoIP
	alerter  *alert.Alerter
	capture  *capture.Writer

	flushInterval time.Duration
	writeTimeout  time.Duration

	conn   *net.UDPConn
	queues []chan datagram

	readerWg  sync.WaitGroup
	workerWg  sync.WaitGroup
	flusherWg sync.WaitGroup
	done      chan struct{}

	mu      sync.Mutex
	pending map[uint32]*model.ExportBatch

	stats     Stats
	startTime time.Time
}

// New validates the options and builds a stopped Collector.
func New(opts Options) (*Collector, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("collector requires a logger")
	}
	if opts.Metrics == nil {
		return nil, fmt.Errorf("collector requires metrics")
	}
	if len(opts.Sinks) == 0 {
		return nil, fmt.Errorf("collector requires at least one sink")
	}

	flushInterval, err := time.ParseDuration(opts.Config.FlushInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid flush_interval: %w", err)
	}
	if flushInterval <= 0 {
		return nil, fmt.Errorf("flush_interval must be a positive duration")
	}
	writeTimeout, err := time.ParseDuration(opts.Config.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}
	if writeTimeout <= 0 {
		return nil, fmt.Errorf("write_timeout must be a positive duration")
	}

	queues := make([]chan datagram, opts.Config.Workers)
	for i := range queues {
		queues[i] = make(chan datagram, opts.Config.QueueSize)
	}

	return &Collector{
		cfg:           opts.Config,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		sinks:         opts.Sinks,
		enricher:      opts.Enricher,
		alerter:       opts.Alerter,
		capture:       opts.Capture,
		flushInterval: flushInterval,
		writeTimeout:  writeTimeout,
		queues:        queues,
		done:          make(chan struct{}),
		pending:       make(map[uint32]*model.ExportBatch),
	}, nil
}

// Start binds the UDP socket and launches the reader, workers and flusher.
// A bind failure is returned to the caller; it is the one receive-side
// error worth dying for.
func (c *Collector) Start() error {
	addr, err := net.ResolveUDPAddr("udp", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %q: %w", c.cfg.ListenAddr, err)
	}
	if c.cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(c.cfg.ReadBuffer); err != nil {
			c.log.WithError(err).Warn("could not grow socket read buffer")
		}
	}
	c.conn = conn
	c.startTime = time.Now()

	c.workerWg.Add(len(c.queues))
	for _, q := range c.queues {
		go c.worker(q)
	}

	c.flusherWg.Add(1)
	go c.flusher()

	c.readerWg.Add(1)
	go c.reader()

	c.log.WithFields(log.Fields{
		"addr":    conn.LocalAddr().String(),
		"workers": len(c.queues),
		"queue":   c.cfg.QueueSize,
		"pairing": c.cfg.Pairing,
	}).Info("collector listening")
	return nil
}

// Stop shuts the collector down in order: stop accepting datagrams, drain
// the worker queues, flush everything assembled, close the sinks.
func (c *Collector) Stop() {
	c.log.Info("collector stopping")

	// 1. Stop accepting datagrams.
	c.conn.Close()
	c.readerWg.Wait()

	// 2. Drain the queues; workers flush their open intervals on exit.
	for _, q := range c.queues {
		close(q)
	}
	c.workerWg.Wait()

	// 3. Stop the flusher and deliver whatever is still pending.
	close(c.done)
	c.flusherWg.Wait()
	c.flush()

	// 4. Close the sinks.
	for _, s := range c.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		if err := s.Close(ctx); err != nil {
			c.log.WithError(err).WithField("sink", s.Name()).Error("failed to close sink")
		}
		cancel()
	}
	if c.capture != nil {
		if err := c.capture.Close(); err != nil {
			c.log.WithError(err).Error("failed to close capture file")
		}
	}
	c.log.Info("collector stopped")
}

// Status reports the totals since Start.
func (c *Collector) Status() StatusCounts {
	return c.stats.Snapshot()
}

// Uptime is the time since the socket was bound.
func (c *Collector) Uptime() time.Duration {
	if c.startTime.IsZero() {
		return 0
	}
	return time.Since(c.startTime)
}

func (c *Collector) reader() {
	defer c.readerWg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.WithError(err).Error("UDP read error")
			continue
		}

		exporter := addr.IP.String()
		c.stats.PacketsReceived.Add(1)
		c.stats.Exporter(exporter).Packets.Add(1)
		c.metrics.packetsReceived.WithLabelValues(exporter).Inc()

		// The read buffer is reused; queued payloads need their own copy.
		payload := make([]byte, n)
		copy(payload, buf[:n])

		if c.capture != nil {
			if err := c.capture.WriteDatagram(addr, c.conn.LocalAddr().(*net.UDPAddr), payload); err != nil {
				c.log.WithError(err).Debug("failed to capture datagram")
			}
		}

		select {
		case c.queues[c.shard(exporter)] <- datagram{exporter: exporter, payload: payload}:
		default:
			c.stats.PacketsDropped.Add(1)
			c.metrics.packetsDropped.WithLabelValues(exporter).Inc()
		}
	}
}

// shard maps an exporter address onto a worker, keeping each exporter's
// datagrams in receipt order on a single goroutine.
func (c *Collector) shard(exporter string) int {
	hasher := fnv.New32a()
	hasher.Write([]byte(exporter))
	return int(hasher.Sum32() % uint32(len(c.queues)))
}

func (c *Collector) worker(queue chan datagram) {
	defer c.workerWg.Done()

	store := netflow.NewStore(c.cfg.Templates.MaxExporters, c.cfg.Templates.MaxTemplates)
	states := make(map[string]*exporterState)

	var evicted uint64
	for dg := range queue {
		c.process(store, states, dg)
		if ev := store.Evicted(); ev > evicted {
			delta := ev - evicted
			evicted = ev
			c.stats.TemplatesEvicted.Add(delta)
			c.metrics.templatesEvicted.Add(float64(delta))
		}
	}
	for _, st := range states {
		if b := st.agg.Flush(); b != nil {
			c.merge(b)
		}
	}
}

func (c *Collector) process(store *netflow.Store, states map[string]*exporterState, dg datagram) {
	pkt, err := netflow.Decode(dg.exporter, dg.payload, store)
	if err != nil {
		c.stats.PacketsInvalid.Add(1)
		c.metrics.packetsInvalid.WithLabelValues(dg.exporter).Inc()
		c.log.WithError(err).WithField("exporter", dg.exporter).Debug("dropping undecodable datagram")
		return
	}

	st := states[dg.exporter]
	if st == nil {
		st = &exporterState{
			agg: session.New(dg.exporter, c.cfg.Pairing, c.log),
			seq: make(map[uint32]*seqTracker),
		}
		states[dg.exporter] = st
	}
	exStats := c.stats.Exporter(dg.exporter)

	tracker := st.seq[pkt.Header.SourceID]
	if tracker == nil {
		tracker = &seqTracker{}
		st.seq[pkt.Header.SourceID] = tracker
	}
	if lost, reordered := tracker.observe(pkt); lost > 0 {
		c.stats.SequenceLost.Add(lost)
		exStats.SequenceLost.Add(lost)
		c.metrics.sequenceLost.WithLabelValues(dg.exporter).Add(float64(lost))
	} else if reordered {
		c.stats.SequenceReordered.Add(1)
		c.metrics.sequenceReorder.WithLabelValues(dg.exporter).Inc()
	}

	if n := len(pkt.Templates); n > 0 {
		c.stats.Templates.Add(uint64(n))
		c.metrics.templates.WithLabelValues(dg.exporter).Add(float64(n))
	}
	if pkt.UnknownSets > 0 {
		c.stats.UnknownSets.Add(uint64(pkt.UnknownSets))
		c.metrics.unknownSets.WithLabelValues(dg.exporter).Add(float64(pkt.UnknownSets))
	}

	flows := make([]model.FlowRecord, 0, len(pkt.Records))
	options := 0
	for i := range pkt.Records {
		if pkt.Records[i].Options {
			options++
			continue
		}
		flows = append(flows, normalize.Record(&pkt.Records[i]))
	}
	if len(flows) > 0 {
		c.stats.Records.Add(uint64(len(flows)))
		exStats.Records.Add(uint64(len(flows)))
		c.metrics.records.WithLabelValues(dg.exporter).Add(float64(len(flows)))
	}
	if options > 0 {
		c.stats.OptionsRecords.Add(uint64(options))
		c.metrics.optionsRecords.WithLabelValues(dg.exporter).Add(float64(options))
	}

	if closed := st.agg.Add(pkt.Header.ExportTime, flows); closed != nil {
		c.merge(closed)
	}
}

// merge folds one exporter's closed interval into the shared pending batch
// for its export timestamp.
func (c *Collector) merge(b *session.Batch) {
	for _, con := range b.Connections {
		if c.enricher != nil {
			c.enricher.Annotate(con)
		}
		if c.alerter != nil {
			c.alerter.Observe(con)
		}
	}

	if n := len(b.Connections); n > 0 {
		c.stats.Connections.Add(uint64(n))
		c.stats.Exporter(b.Exporter).Connections.Add(uint64(n))
		c.metrics.connections.WithLabelValues(b.Exporter).Add(float64(n))
	}
	if b.Unpaired > 0 {
		c.stats.UnpairedFlows.Add(uint64(b.Unpaired))
		c.metrics.unpairedFlows.WithLabelValues(b.Exporter).Add(float64(b.Unpaired))
	}
	if len(b.Flows) == 0 && len(b.Connections) == 0 {
		return
	}

	c.mu.Lock()
	eb := c.pending[b.Time]
	if eb == nil {
		eb = &model.ExportBatch{Time: b.Time}
		c.pending[b.Time] = eb
	}
	eb.Flows = append(eb.Flows, b.Flows...)
	eb.Connections = append(eb.Connections, b.Connections...)
	c.mu.Unlock()
}

func (c *Collector) flusher() {
	defer c.flusherWg.Done()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.done:
			return
		}
	}
}

// flush delivers all pending batches in ascending timestamp order. Batches
// are handed to every sink once; a failed write is counted and the batch
// is not retried.
func (c *Collector) flush() {
	c.mu.Lock()
	batches := make([]*model.ExportBatch, 0, len(c.pending))
	for _, b := range c.pending {
		batches = append(batches, b)
	}
	c.pending = make(map[uint32]*model.ExportBatch)
	c.mu.Unlock()

	sort.Slice(batches, func(i, j int) bool { return batches[i].Time < batches[j].Time })
	for _, b := range batches {
		c.deliver(b)
	}
}

func (c *Collector) deliver(b *model.ExportBatch) {
	for _, s := range c.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		err := s.WriteBatch(ctx, b)
		cancel()
		if err != nil {
			c.stats.SinkErrors.Add(1)
			c.metrics.sinkErrors.WithLabelValues(s.Name()).Inc()
			c.log.WithError(err).WithFields(log.Fields{
				"sink": s.Name(),
				"time": b.Time,
			}).Error("failed to write batch")
			continue
		}
		c.stats.BatchesFlushed.Add(1)
		c.metrics.batchesFlushed.WithLabelValues(s.Name()).Inc()
	}
}
