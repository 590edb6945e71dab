// Package session pairs directionally opposite flow records into
// connections, one exporter and one export timestamp at a time.
package session

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/model"
)

// Pairing mode names accepted in configuration.
const (
	ModeTuple      = "tuple"
	ModeSequential = "sequential"
)

// Batch is one closed reporting interval of a single exporter: the raw flows
// in receipt order, the connections paired from them, and how many flows
// were left unpaired and dropped when the interval closed.
type Batch struct {
	Exporter    string
	Time        uint32
	Flows       []model.FlowRecord
	Connections []*model.Connection
	Unpaired    int
}

// Aggregator accumulates one exporter's flows per export timestamp and pairs
// them when the interval closes. In tuple mode (the default) flows are
// matched by reversed 5-tuple first and only the rest is paired
// two-at-a-time in arrival order; sequential mode reproduces the plain
// pending-slot automaton. Either way an odd flow left at the close is
// dropped with a warning, never carried into the next interval.
//
// An Aggregator belongs to a single worker goroutine.
type Aggregator struct {
	exporter string
	mode     string
	log      *log.Logger

	ts    uint32
	open  bool
	flows []model.FlowRecord
}

// New builds an Aggregator for one exporter. Unrecognized modes fall back to
// tuple matching.
func New(exporter, mode string, logger *log.Logger) *Aggregator {
	if mode != ModeSequential {
		mode = ModeTuple
	}
	return &Aggregator{exporter: exporter, mode: mode, log: logger}
}

// Add appends flows arriving for the given export timestamp and returns the
// previous interval's batch when the timestamp moved on, nil otherwise.
func (a *Aggregator) Add(ts uint32, flows []model.FlowRecord) *Batch {
	var closed *Batch
	if a.open && ts != a.ts {
		closed = a.close()
	}
	if !a.open {
		a.open = true
		a.ts = ts
	}
	a.flows = append(a.flows, flows...)
	return closed
}

// Flush closes the open interval, if any. Called when the exporter's worker
// drains on shutdown.
func (a *Aggregator) Flush() *Batch {
	if !a.open {
		return nil
	}
	return a.close()
}

func (a *Aggregator) close() *Batch {
	batch := &Batch{Exporter: a.exporter, Time: a.ts, Flows: a.flows}
	switch a.mode {
	case ModeSequential:
		batch.Connections, batch.Unpaired = pairSequential(a.exporter, a.ts, a.flows)
	default:
		batch.Connections, batch.Unpaired = pairTuple(a.exporter, a.ts, a.flows)
	}
	if batch.Unpaired > 0 {
		a.log.WithFields(log.Fields{
			"exporter": a.exporter,
			"time":     a.ts,
			"flows":    len(a.flows),
		}).Warn("dropping unpaired flow at end of export interval")
	}
	a.flows = nil
	a.open = false
	return batch
}

// pairSequential is the pending-slot automaton: empty, holding one, emit and
// reset. A flow still held when the interval ends is dropped.
func pairSequential(exporter string, ts uint32, flows []model.FlowRecord) ([]*model.Connection, int) {
	var conns []*model.Connection
	var pending model.FlowRecord
	holding := false
	for _, flow := range flows {
		if !holding {
			pending, holding = flow, true
			continue
		}
		conns = append(conns, model.NewConnection(exporter, ts, pending, flow))
		holding = false
	}
	if holding {
		return conns, 1
	}
	return conns, 0
}

// pairTuple matches each flow with the first later flow whose 5-tuple is its
// exact reverse; flows without a reverse partner fall back to sequential
// pairing among themselves, preserving arrival order.
func pairTuple(exporter string, ts uint32, flows []model.FlowRecord) ([]*model.Connection, int) {
	byKey := make(map[string][]int, len(flows))
	for i, flow := range flows {
		if key := tupleKey(flow, false); key != "" {
			byKey[key] = append(byKey[key], i)
		}
	}

	used := make([]bool, len(flows))
	var conns []*model.Connection
	for i, flow := range flows {
		if used[i] {
			continue
		}
		reverse := tupleKey(flow, true)
		if reverse == "" {
			continue
		}
		for _, j := range byKey[reverse] {
			if j == i || used[j] {
				continue
			}
			conns = append(conns, model.NewConnection(exporter, ts, flow, flows[j]))
			used[i], used[j] = true, true
			break
		}
	}

	var pending model.FlowRecord
	holding := false
	unpaired := 0
	for i, flow := range flows {
		if used[i] {
			continue
		}
		if !holding {
			pending, holding = flow, true
			continue
		}
		conns = append(conns, model.NewConnection(exporter, ts, pending, flow))
		holding = false
	}
	if holding {
		unpaired = 1
	}
	return conns, unpaired
}

// tupleKey renders the flow's 5-tuple, reversed when asked, or "" when the
// record carries no usable address pair.
func tupleKey(flow model.FlowRecord, reverse bool) string {
	src, dst := flow.SrcAddr(), flow.DstAddr()
	if src == "" || dst == "" {
		return ""
	}
	srcPort, _ := flow.Uint(model.FieldL4SrcPort)
	dstPort, _ := flow.Uint(model.FieldL4DstPort)
	proto, _ := flow.Uint(model.FieldProtocol)
	if reverse {
		src, dst, srcPort, dstPort = dst, src, dstPort, srcPort
	}
	return fmt.Sprintf("%s|%s|%d|%d|%d", src, dst, srcPort, dstPort, proto)
}
