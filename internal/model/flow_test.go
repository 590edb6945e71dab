package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsIPv4(t *testing.T) {
	cases := []struct {
		name string
		rec  FlowRecord
		want bool
	}{
		{"explicit version 4", FlowRecord{FieldIPVersion: uint64(4)}, true},
		{"explicit version 6", FlowRecord{FieldIPVersion: uint64(6)}, false},
		{"v4 src addr, no version", FlowRecord{FieldIPv4SrcAddr: "10.0.0.1"}, true},
		{"v4 dst addr, no version", FlowRecord{FieldIPv4DstAddr: "10.0.0.1"}, true},
		{"v4 addr overrides version 6", FlowRecord{FieldIPVersion: uint64(6), FieldIPv4SrcAddr: "10.0.0.1"}, true},
		{"neither addr nor version", FlowRecord{FieldIPv6SrcAddr: "2001:db8::1"}, false},
		{"empty record", FlowRecord{}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.rec.IsIPv4(), tc.name)
	}
}

func TestAsUint(t *testing.T) {
	for name, v := range map[string]any{
		"uint64":      uint64(42),
		"uint32":      uint32(42),
		"float64":     float64(42),
		"int":         int(42),
		"json.Number": json.Number("42"),
		"string":      "42",
	} {
		got, ok := AsUint(v)
		assert.True(t, ok, name)
		assert.Equal(t, uint64(42), got, name)
	}

	_, ok := AsUint(int64(-1))
	assert.False(t, ok)
	_, ok = AsUint("not a number")
	assert.False(t, ok)
	_, ok = AsUint(nil)
	assert.False(t, ok)
}

func TestAddrString(t *testing.T) {
	// Native string form passes through.
	assert.Equal(t, "10.0.0.1", AddrString("10.0.0.1"))

	// The Python collector dumps addresses as integers: 10.0.0.1 =
	// 167772161, and IPv6 as one 128-bit integer.
	assert.Equal(t, "10.0.0.1", AddrString(json.Number("167772161")))
	assert.Equal(t, "10.0.0.1", AddrString(float64(167772161)))
	assert.Equal(t,
		"2001:db8::1",
		AddrString(json.Number("42540766411282592856903984951653826561")))

	assert.Equal(t, "", AddrString(nil))
}

func TestSrcDstAddrFamilySelection(t *testing.T) {
	rec := FlowRecord{
		FieldIPv4SrcAddr: "192.168.0.1",
		FieldIPv4DstAddr: "192.168.0.2",
	}
	assert.Equal(t, "192.168.0.1", rec.SrcAddr())
	assert.Equal(t, "192.168.0.2", rec.DstAddr())

	rec6 := FlowRecord{
		FieldIPv6SrcAddr: "2001:db8::1",
		FieldIPv6DstAddr: "2001:db8::2",
	}
	assert.Equal(t, "2001:db8::1", rec6.SrcAddr())
	assert.Equal(t, "2001:db8::2", rec6.DstAddr())
}
