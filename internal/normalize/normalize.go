// Package normalize turns decoded data records into canonical flow records:
// upper-case field names mapped to typed values, the shape both the dump
// format and the session aggregator consume.
package normalize

import (
	"encoding/binary"
	"encoding/hex"
	"net"
	"strings"

	"github.com/irino/nfsession/internal/model"
	"github.com/irino/nfsession/internal/netflow"
)

// Record converts one data record. Every field survives: known type codes
// get their table name and typed value, unknown ones are preserved under a
// generic numeric key with a best-effort value.
func Record(rec *netflow.DataRecord) model.FlowRecord {
	flow := make(model.FlowRecord, len(rec.Fields))
	for _, f := range rec.Fields {
		name, kind := fieldType(f)
		flow[name] = fieldValue(kind, f.Value)
	}
	return flow
}

func fieldType(f netflow.RawField) (string, netflow.FieldKind) {
	if f.EnterpriseID != 0 {
		return netflow.EnterpriseFieldName(f.EnterpriseID, f.Type), netflow.KindBytes
	}
	if ft, ok := netflow.LookupField(f.Type); ok {
		return ft.Name, ft.Kind
	}
	return netflow.GenericFieldName(f.Type), netflow.KindNumber
}

// fieldValue decodes one raw value per its kind, falling back to the
// numeric/hex path when the wire length does not match the kind.
func fieldValue(kind netflow.FieldKind, v []byte) any {
	switch kind {
	case netflow.KindIPv4:
		if len(v) == net.IPv4len {
			return net.IP(v).String()
		}
	case netflow.KindIPv6:
		if len(v) == net.IPv6len {
			return net.IP(v).String()
		}
	case netflow.KindMAC:
		if len(v) == 6 {
			return net.HardwareAddr(v).String()
		}
	case netflow.KindString:
		return strings.TrimRight(string(v), "\x00")
	case netflow.KindBytes:
		return hex.EncodeToString(v)
	}
	return numberValue(v)
}

// numberValue reads a big-endian unsigned integer of any span up to eight
// bytes; wider spans stay opaque as hex.
func numberValue(v []byte) any {
	switch len(v) {
	case 1:
		return uint64(v[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(v))
	case 4:
		return uint64(binary.BigEndian.Uint32(v))
	case 8:
		return binary.BigEndian.Uint64(v)
	}
	if len(v) > 8 {
		return hex.EncodeToString(v)
	}
	var n uint64
	for _, b := range v {
		n = n<<8 | uint64(b)
	}
	return n
}
