package collector

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/model"
)

// memorySink records every delivered batch.
type memorySink struct {
	mu      sync.Mutex
	batches []*model.ExportBatch
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) WriteBatch(ctx context.Context, batch *model.ExportBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return nil
}

func (m *memorySink) Close(ctx context.Context) error { return nil }

func (m *memorySink) all() []*model.ExportBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.ExportBatch(nil), m.batches...)
}

// wire builds big-endian packet bytes.
type wire struct{ b []byte }

func (w *wire) u8(v uint8) *wire { w.b = append(w.b, v); return w }

func (w *wire) u16(v uint16) *wire {
	w.b = binary.BigEndian.AppendUint16(w.b, v)
	return w
}

func (w *wire) u32(v uint32) *wire {
	w.b = binary.BigEndian.AppendUint32(w.b, v)
	return w
}

func (w *wire) raw(b ...byte) *wire { w.b = append(w.b, b...); return w }

// v9Packet wraps sets in a NetFlow v9 header carrying the export time.
func v9Packet(exportTime, seq uint32, count uint16, sets ...[]byte) []byte {
	w := &wire{}
	w.u16(9).u16(count).u32(12345).u32(exportTime).u32(seq).u32(0)
	for _, s := range sets {
		w.raw(s...)
	}
	return w.b
}

// softflowdTemplate declares template 256 with the usual 8 IPv4 fields.
func softflowdTemplate() []byte {
	w := &wire{}
	w.u16(0).u16(40)
	w.u16(256).u16(8)
	for _, f := range [][2]uint16{
		{8, 4}, {12, 4}, {7, 2}, {11, 2}, {4, 1}, {1, 4}, {22, 4}, {21, 4},
	} {
		w.u16(f[0]).u16(f[1])
	}
	return w.b
}

type flowSpec struct {
	src, dst     [4]byte
	sport, dport uint16
	bytes        uint32
	first, last  uint32
}

// dataSet encodes records for template 256, padded to 32 bits.
func dataSet(flows ...flowSpec) []byte {
	w := &wire{}
	body := &wire{}
	for _, f := range flows {
		body.raw(f.src[:]...).raw(f.dst[:]...)
		body.u16(f.sport).u16(f.dport)
		body.u8(6)
		body.u32(f.bytes).u32(f.first).u32(f.last)
	}
	for len(body.b)%4 != 0 {
		body.u8(0)
	}
	w.u16(256).u16(uint16(4 + len(body.b))).raw(body.b...)
	return w.b
}

func testCollector(t *testing.T) (*Collector, *memorySink, *net.UDPAddr) {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)

	mem := &memorySink{}
	c, err := New(Options{
		Config: config.CollectorConfig{
			ListenAddr:    "127.0.0.1:0",
			Workers:       2,
			QueueSize:     64,
			FlushInterval: "100ms",
			WriteTimeout:  "1s",
			Pairing:       "tuple",
			Templates:     config.TemplatesConfig{MaxExporters: 16, MaxTemplates: 32},
		},
		Logger:  logger,
		Metrics: NewMetrics(),
		Sinks:   []model.Sink{mem},
	})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	return c, mem, c.conn.LocalAddr().(*net.UDPAddr)
}

func send(t *testing.T, laddr *net.UDPAddr, raddr *net.UDPAddr, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", laddr, raddr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func waitFor(t *testing.T, cond func(StatusCounts) bool, c *Collector) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.Status()) },
		2*time.Second, 5*time.Millisecond)
}

func TestCollectorEndToEnd(t *testing.T) {
	c, mem, addr := testCollector(t)

	forward := flowSpec{
		src: [4]byte{10, 0, 0, 1}, dst: [4]byte{10, 0, 0, 2},
		sport: 443, dport: 50000,
		bytes: 2048, first: 1000, last: 4000,
	}
	reverse := flowSpec{
		src: [4]byte{10, 0, 0, 2}, dst: [4]byte{10, 0, 0, 1},
		sport: 50000, dport: 443,
		bytes: 100, first: 1000, last: 4000,
	}
	send(t, nil, addr, v9Packet(1609459200, 1, 3, softflowdTemplate(), dataSet(forward, reverse)))

	waitFor(t, func(s StatusCounts) bool { return s.Records == 2 }, c)
	c.Stop()

	batches := mem.all()
	require.Len(t, batches, 1)
	b := batches[0]
	assert.Equal(t, uint32(1609459200), b.Time)
	assert.Len(t, b.Flows, 2)
	require.Len(t, b.Connections, 1)

	con := b.Connections[0]
	assert.Equal(t, "10.0.0.1", con.Src)
	assert.Equal(t, "10.0.0.2", con.Dest)
	assert.Equal(t, uint64(2048), con.Size)
	assert.Equal(t, "2.00K", con.HumanSize())
	assert.Equal(t, uint64(3000), con.Duration)
	assert.Equal(t, "3 sec", con.HumanDuration())
	assert.Equal(t, "127.0.0.1", con.Exporter)

	s := c.Status()
	assert.Equal(t, uint64(1), s.PacketsReceived)
	assert.Equal(t, uint64(1), s.Templates)
	assert.Equal(t, uint64(1), s.Connections)
	assert.Equal(t, uint64(1), s.Exporters)
	assert.Equal(t, uint64(1), s.BatchesFlushed)

	ex := s.PerExporter["127.0.0.1"]
	assert.Equal(t, uint64(1), ex.Packets)
	assert.Equal(t, uint64(2), ex.Records)
	assert.Equal(t, uint64(1), ex.Connections)
}

func TestCollectorSurvivesMalformedDatagrams(t *testing.T) {
	c, mem, addr := testCollector(t)

	send(t, nil, addr, []byte{0x00})                      // short
	send(t, nil, addr, []byte{0x00, 0x05, 0x00, 0x01})    // NetFlow v5
	send(t, nil, addr, make([]byte, 64))                  // zeroed junk
	waitFor(t, func(s StatusCounts) bool { return s.PacketsInvalid == 3 }, c)

	flow := flowSpec{
		src: [4]byte{10, 0, 0, 1}, dst: [4]byte{10, 0, 0, 2},
		sport: 443, dport: 50000, bytes: 9000, first: 0, last: 10,
	}
	send(t, nil, addr, v9Packet(100, 1, 3, softflowdTemplate(), dataSet(flow, flow)))

	waitFor(t, func(s StatusCounts) bool { return s.Records == 2 }, c)
	c.Stop()

	require.Len(t, mem.all(), 1, "valid traffic still flows after junk")
}

func TestCollectorSkipsDataWithoutTemplate(t *testing.T) {
	c, _, addr := testCollector(t)

	flow := flowSpec{src: [4]byte{10, 0, 0, 1}, dst: [4]byte{10, 0, 0, 2}}
	send(t, nil, addr, v9Packet(100, 1, 2, dataSet(flow, flow)))
	waitFor(t, func(s StatusCounts) bool { return s.UnknownSets == 1 }, c)

	// The template arrives late; subsequent data decodes.
	send(t, nil, addr, v9Packet(100, 2, 1, softflowdTemplate()))
	send(t, nil, addr, v9Packet(100, 3, 2, dataSet(flow, flow)))
	waitFor(t, func(s StatusCounts) bool { return s.Records == 2 }, c)

	c.Stop()
	s := c.Status()
	assert.Equal(t, uint64(1), s.UnknownSets)
	assert.Equal(t, uint64(0), s.PacketsInvalid, "missing template is not a decode error")
}

func TestCollectorScopesTemplatesByExporter(t *testing.T) {
	c, mem, addr := testCollector(t)

	flow := flowSpec{
		src: [4]byte{10, 0, 0, 1}, dst: [4]byte{10, 0, 0, 2},
		sport: 443, dport: 50000, bytes: 500, first: 0, last: 10,
	}

	// 127.0.0.1 declares the template; 127.0.0.2 does not, so its data
	// set must be skipped even though the template IDs match.
	send(t, nil, addr, v9Packet(100, 1, 1, softflowdTemplate()))
	waitFor(t, func(s StatusCounts) bool { return s.Templates == 1 }, c)

	other := &net.UDPAddr{IP: net.ParseIP("127.0.0.2")}
	send(t, other, addr, v9Packet(100, 1, 2, dataSet(flow, flow)))
	waitFor(t, func(s StatusCounts) bool { return s.UnknownSets == 1 }, c)

	send(t, nil, addr, v9Packet(100, 2, 2, dataSet(flow, flow)))
	waitFor(t, func(s StatusCounts) bool { return s.Records == 2 }, c)

	c.Stop()
	assert.Equal(t, uint64(2), c.Status().Exporters)

	batches := mem.all()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Flows, 2, "only the declaring exporter's flows decode")
}

func TestCollectorCountsSequenceGaps(t *testing.T) {
	c, _, addr := testCollector(t)

	send(t, nil, addr, v9Packet(100, 10, 1, softflowdTemplate()))
	send(t, nil, addr, v9Packet(100, 11, 1, softflowdTemplate()))
	send(t, nil, addr, v9Packet(100, 15, 1, softflowdTemplate())) // 12..14 missing
	waitFor(t, func(s StatusCounts) bool { return s.Templates == 3 }, c)

	c.Stop()
	assert.Equal(t, uint64(3), c.Status().SequenceLost)
}

func TestCollectorFlushesOnTimestampBoundary(t *testing.T) {
	c, mem, addr := testCollector(t)

	flow := flowSpec{
		src: [4]byte{10, 0, 0, 1}, dst: [4]byte{10, 0, 0, 2},
		sport: 443, dport: 50000, bytes: 100, first: 0, last: 5,
	}
	send(t, nil, addr, v9Packet(100, 1, 3, softflowdTemplate(), dataSet(flow, flow)))
	waitFor(t, func(s StatusCounts) bool { return s.Records == 2 }, c)

	// Moving to the next export time closes the first interval; the
	// periodic flusher then delivers it without a shutdown.
	send(t, nil, addr, v9Packet(101, 2, 2, dataSet(flow, flow)))
	waitFor(t, func(s StatusCounts) bool { return s.BatchesFlushed == 1 }, c)

	batches := mem.all()
	require.Len(t, batches, 1)
	assert.Equal(t, uint32(100), batches[0].Time)

	c.Stop()
}
