package model

import "fmt"

// Connection is the paired, bidirectional summary of two flow records that
// represent opposite directions of one conversation. The src side is the flow
// that moved more bytes (direction of bulk transfer, not connection
// initiator); size and duration come from that flow. Immutable once built.
type Connection struct {
	Exporter  string `json:"exporter,omitempty"`
	Time      uint32 `json:"time"`
	Src       string `json:"src"`
	Dest      string `json:"dest"`
	SrcPort   uint16 `json:"src_port"`
	DestPort  uint16 `json:"dest_port"`
	Protocol  uint8  `json:"protocol"`
	IPVersion uint8  `json:"ip_version"`

	// Size is the byte count of the dominant flow, Duration the elapsed
	// milliseconds between its first and last switched timestamps.
	Size     uint64 `json:"size"`
	Duration uint64 `json:"duration_ms"`

	SrcCountry  string `json:"src_country,omitempty"`
	DestCountry string `json:"dest_country,omitempty"`
}

// NewConnection derives a Connection from two flows of one reporting
// interval. Direction does not depend on arrival order: the flow with the
// larger IN_BYTES becomes src, the first of the pair winning ties. Addresses,
// ports, size and duration all come from that dominant flow.
func NewConnection(exporter string, ts uint32, a, b FlowRecord) *Connection {
	src := a
	ab, _ := a.Uint(FieldInBytes)
	bb, _ := b.Uint(FieldInBytes)
	if bb > ab {
		src = b
	}

	size, _ := src.Uint(FieldInBytes)
	srcPort, _ := src.Uint(FieldL4SrcPort)
	destPort, _ := src.Uint(FieldL4DstPort)
	proto, _ := src.Uint(FieldProtocol)

	version := uint8(6)
	if src.IsIPv4() {
		version = 4
	}

	return &Connection{
		Exporter:  exporter,
		Time:      ts,
		Src:       src.SrcAddr(),
		Dest:      src.DstAddr(),
		SrcPort:   uint16(srcPort),
		DestPort:  uint16(destPort),
		Protocol:  uint8(proto),
		IPVersion: version,
		Size:      size,
		Duration:  switchedDuration(src),
	}
}

// switchedDuration computes LAST_SWITCHED - FIRST_SWITCHED in milliseconds.
// The switched timestamps are 32-bit uptime counters, so a flow spanning a
// counter wrap yields LAST < FIRST and needs 2^32 added back.
func switchedDuration(r FlowRecord) uint64 {
	first, _ := r.Uint(FieldFirstSwitched)
	last, _ := r.Uint(FieldLastSwitched)
	if last >= first {
		return last - first
	}
	return (1 << 32) - first + last
}

// HumanSize renders Size the way the transfer report prints it: bytes below
// 1K, otherwise two decimals in the largest fitting 1024-based unit.
func (c *Connection) HumanSize() string {
	const unit = 1024.0
	size := float64(c.Size)
	switch {
	case c.Size < 1024:
		return fmt.Sprintf("%dB", c.Size)
	case size/unit < unit:
		return fmt.Sprintf("%.2fK", size/unit)
	case size/unit/unit < unit:
		return fmt.Sprintf("%.2fM", size/unit/unit)
	default:
		return fmt.Sprintf("%.2fG", size/unit/unit/unit)
	}
}

// HumanDuration renders Duration like the transfer report: whole seconds
// under a minute, MM:SS up to an hour, H:MM.SS beyond.
func (c *Connection) HumanDuration() string {
	secs := c.Duration / 1000
	if secs < 60 {
		return fmt.Sprintf("%d sec", secs)
	}
	if float64(secs)/60 > 60 {
		return fmt.Sprintf("%d:%02d.%02d hours", secs/3600, secs%3600/60, secs%60)
	}
	return fmt.Sprintf("%02d:%02d min", secs/60, secs%60)
}
