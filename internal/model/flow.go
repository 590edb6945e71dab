package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"strconv"
)

// Canonical field names the pipeline itself reads. The full field-type table
// lives in internal/netflow; these are the keys with pipeline semantics.
const (
	FieldInBytes       = "IN_BYTES"
	FieldInPkts        = "IN_PKTS"
	FieldProtocol      = "PROTOCOL"
	FieldL4SrcPort     = "L4_SRC_PORT"
	FieldL4DstPort     = "L4_DST_PORT"
	FieldIPv4SrcAddr   = "IPV4_SRC_ADDR"
	FieldIPv4DstAddr   = "IPV4_DST_ADDR"
	FieldIPv6SrcAddr   = "IPV6_SRC_ADDR"
	FieldIPv6DstAddr   = "IPV6_DST_ADDR"
	FieldFirstSwitched = "FIRST_SWITCHED"
	FieldLastSwitched  = "LAST_SWITCHED"
	FieldIPVersion     = "IP_PROTOCOL_VERSION"
)

// FlowRecord is one normalized flow record: canonical upper-case field names
// mapped to decoded values. The normalizer stores addresses as strings and
// counters as unsigned integers; records loaded back from a JSON dump carry
// json.Number / float64 instead, which the accessors below also accept.
type FlowRecord map[string]any

// Uint returns the named field coerced to an unsigned integer.
func (r FlowRecord) Uint(name string) (uint64, bool) {
	v, ok := r[name]
	if !ok {
		return 0, false
	}
	return AsUint(v)
}

// Has reports whether the record carries the named field.
func (r FlowRecord) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// IsIPv4 applies the protocol-version rule: a record is IPv4 when an explicit
// IP_PROTOCOL_VERSION field says 4 or when any IPv4 address field is present.
// Everything else is treated as IPv6.
func (r FlowRecord) IsIPv4() bool {
	if v, ok := r.Uint(FieldIPVersion); ok && v == 4 {
		return true
	}
	if r.Has(FieldIPv4SrcAddr) {
		return true
	}
	return r.Has(FieldIPv4DstAddr)
}

// SrcAddr returns the source address in display form, choosing the IPv4 or
// IPv6 field per IsIPv4.
func (r FlowRecord) SrcAddr() string {
	if r.IsIPv4() {
		return AddrString(r[FieldIPv4SrcAddr])
	}
	return AddrString(r[FieldIPv6SrcAddr])
}

// DstAddr returns the destination address in display form.
func (r FlowRecord) DstAddr() string {
	if r.IsIPv4() {
		return AddrString(r[FieldIPv4DstAddr])
	}
	return AddrString(r[FieldIPv6DstAddr])
}

// AsUint coerces the dynamic value types a record may carry after a JSON
// round-trip into an unsigned integer.
func AsUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		return u, true
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return u, true
	}
	return 0, false
}

// AddrString renders an address field value. String values pass through
// untouched; numeric values (the Python collector dumps addresses as raw
// integers, IPv6 included) are converted, with the integer range deciding the
// family the way the reference loader does.
func AddrString(v any) string {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return a
	case json.Number:
		return intAddr(a.String())
	case float64:
		return intAddr(strconv.FormatFloat(a, 'f', -1, 64))
	case uint64:
		return intAddr(strconv.FormatUint(a, 10))
	case uint32:
		return intAddr(strconv.FormatUint(uint64(a), 10))
	case int:
		return intAddr(strconv.Itoa(a))
	case int64:
		return intAddr(strconv.FormatInt(a, 10))
	}
	return fmt.Sprint(v)
}

func intAddr(s string) string {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return s
	}
	if n.BitLen() <= 32 {
		ip := make(net.IP, net.IPv4len)
		binary.BigEndian.PutUint32(ip, uint32(n.Uint64()))
		return ip.String()
	}
	if n.BitLen() > 128 {
		return s
	}
	return net.IP(n.FillBytes(make([]byte, net.IPv6len))).String()
}
