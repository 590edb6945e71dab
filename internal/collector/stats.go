package collector

import (
	"sync"
	"sync/atomic"

	"github.com/irino/nfsession/internal/netflow"
)

// Stats are process-wide totals behind the status endpoint. Workers update
// them with atomics; readers get a consistent-enough snapshot.
type Stats struct {
	PacketsReceived   atomic.Uint64
	PacketsDropped    atomic.Uint64
	PacketsInvalid    atomic.Uint64
	Templates         atomic.Uint64
	TemplatesEvicted  atomic.Uint64
	Records           atomic.Uint64
	OptionsRecords    atomic.Uint64
	UnknownSets       atomic.Uint64
	Connections       atomic.Uint64
	UnpairedFlows     atomic.Uint64
	SequenceLost      atomic.Uint64
	SequenceReordered atomic.Uint64
	BatchesFlushed    atomic.Uint64
	SinkErrors        atomic.Uint64

	perExporter sync.Map // exporter address -> *ExporterStats
}

// ExporterStats are one exporter's totals. The reader bumps Packets; the
// exporter's worker owns the rest.
type ExporterStats struct {
	Packets      atomic.Uint64
	Records      atomic.Uint64
	Connections  atomic.Uint64
	SequenceLost atomic.Uint64
}

// Exporter returns the stats cell for one exporter, creating it on first
// sight.
func (s *Stats) Exporter(name string) *ExporterStats {
	if v, ok := s.perExporter.Load(name); ok {
		return v.(*ExporterStats)
	}
	v, _ := s.perExporter.LoadOrStore(name, &ExporterStats{})
	return v.(*ExporterStats)
}

// StatusCounts is the JSON shape of a stats snapshot.
type StatusCounts struct {
	PacketsReceived   uint64 `json:"packets_received"`
	PacketsDropped    uint64 `json:"packets_dropped"`
	PacketsInvalid    uint64 `json:"packets_invalid"`
	Templates         uint64 `json:"templates_received"`
	TemplatesEvicted  uint64 `json:"templates_evicted"`
	Records           uint64 `json:"records"`
	OptionsRecords    uint64 `json:"options_records"`
	UnknownSets       uint64 `json:"unknown_template_sets"`
	Connections       uint64 `json:"connections"`
	UnpairedFlows     uint64 `json:"unpaired_flows"`
	SequenceLost      uint64 `json:"sequence_lost"`
	SequenceReordered uint64 `json:"sequence_reordered"`
	BatchesFlushed    uint64 `json:"batches_flushed"`
	SinkErrors        uint64 `json:"sink_errors"`
	Exporters         uint64 `json:"exporters"`

	PerExporter map[string]ExporterCounts `json:"per_exporter,omitempty"`
}

// ExporterCounts is the JSON shape of one exporter's totals.
type ExporterCounts struct {
	Packets      uint64 `json:"packets"`
	Records      uint64 `json:"records"`
	Connections  uint64 `json:"connections"`
	SequenceLost uint64 `json:"sequence_lost"`
}

// Snapshot reads the current totals.
func (s *Stats) Snapshot() StatusCounts {
	counts := StatusCounts{
		PacketsReceived:   s.PacketsReceived.Load(),
		PacketsDropped:    s.PacketsDropped.Load(),
		PacketsInvalid:    s.PacketsInvalid.Load(),
		Templates:         s.Templates.Load(),
		TemplatesEvicted:  s.TemplatesEvicted.Load(),
		Records:           s.Records.Load(),
		OptionsRecords:    s.OptionsRecords.Load(),
		UnknownSets:       s.UnknownSets.Load(),
		Connections:       s.Connections.Load(),
		UnpairedFlows:     s.UnpairedFlows.Load(),
		SequenceLost:      s.SequenceLost.Load(),
		SequenceReordered: s.SequenceReordered.Load(),
		BatchesFlushed:    s.BatchesFlushed.Load(),
		SinkErrors:        s.SinkErrors.Load(),
		PerExporter:       make(map[string]ExporterCounts),
	}
	s.perExporter.Range(func(key, value any) bool {
		ex := value.(*ExporterStats)
		counts.PerExporter[key.(string)] = ExporterCounts{
			Packets:      ex.Packets.Load(),
			Records:      ex.Records.Load(),
			Connections:  ex.Connections.Load(),
			SequenceLost: ex.SequenceLost.Load(),
		}
		return true
	})
	counts.Exporters = uint64(len(counts.PerExporter))
	return counts
}

// seqTracker follows one exporter's sequence numbers. NetFlow v9 counts
// export packets, IPFIX counts data records, so the expected next value
// advances differently per version. Gaps only feed counters; processing
// never depends on them.
type seqTracker struct {
	next uint32
	init bool
}

// observe returns (lost, reordered) for this packet's sequence number.
func (t *seqTracker) observe(pkt *netflow.Packet) (uint64, bool) {
	seq := pkt.Header.Sequence

	var step uint32
	switch pkt.Header.Version {
	case netflow.VersionIPFIX:
		step = uint32(len(pkt.Records))
	default:
		step = 1
	}

	if !t.init {
		t.init = true
		t.next = seq + step
		return 0, false
	}

	diff := seq - t.next // wraps correctly in uint32
	// A huge forward distance is really a packet from the past; it must
	// not move the expectation backwards.
	if diff > 1<<31 {
		return 0, true
	}
	t.next = seq + step
	return uint64(diff), false
}
