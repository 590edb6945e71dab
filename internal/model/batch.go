package model

import "strconv"

// ExportBatch is the unit handed to sinks: every flow record received for one
// export timestamp (epoch seconds, taken from the packet headers) together
// with the connections derived from them. Flows keep receipt order.
type ExportBatch struct {
	Time        uint32        `json:"time"`
	Flows       []FlowRecord  `json:"flows"`
	Connections []*Connection `json:"connections,omitempty"`
}

// Key returns the timestamp in the form used as the dump document's mapping
// key.
func (b *ExportBatch) Key() string {
	return strconv.FormatUint(uint64(b.Time), 10)
}
