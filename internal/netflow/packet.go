package netflow

import "errors"

// Wire protocol versions accepted by the decoder.
const (
	Version9     = 9
	VersionIPFIX = 10
)

// Reserved set IDs. Data sets use IDs from minDataSetID upward.
const (
	v9TemplateSetID           = 0
	v9OptionsTemplateSetID    = 1
	ipfixTemplateSetID        = 2
	ipfixOptionsTemplateSetID = 3
	minDataSetID              = 256
)

// Decode failure classes. Errors wrap these so callers can test with
// errors.Is; every one of them means "drop this datagram", never "stop the
// collector".
var (
	ErrTruncated = errors.New("truncated packet")
	ErrMalformed = errors.New("malformed packet")
	ErrVersion   = errors.New("unsupported protocol version")
)

// Header is the fixed packet header. SysUptime and Count are NetFlow v9
// only; IPFIX instead declares its total message length. SourceID carries
// the v9 source ID or the IPFIX observation domain ID.
type Header struct {
	Version    uint16
	Count      uint16
	Length     uint16
	SysUptime  uint32
	ExportTime uint32
	Sequence   uint32
	SourceID   uint32
}

// RawField is one undecoded field value sliced out of a data record.
type RawField struct {
	Type         uint16
	EnterpriseID uint32
	Value        []byte
}

// DataRecord is one data record tagged with the template that described it.
// Options marks records decoded against an options template; they describe
// the exporter, not a flow.
type DataRecord struct {
	TemplateID uint16
	Options    bool
	Fields     []RawField
}

// Packet is one fully decoded datagram.
type Packet struct {
	Exporter string
	Header   Header

	// Templates announced by this datagram, in order. They are already in
	// the store by the time Decode returns.
	Templates []*Template

	Records []DataRecord

	// UnknownSets counts data sets that were skipped whole because no
	// template for their ID has been seen yet.
	UnknownSets int
}
