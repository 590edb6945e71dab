package netflow

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wbuf builds synthetic exporter datagrams for tests, big-endian like the
// wire format.
type wbuf struct{ b []byte }

func (w *wbuf) u8(v uint8) *wbuf {
	w.b = append(w.b, v)
	return w
}

func (w *wbuf) u16(v uint16) *wbuf {
	w.b = append(w.b, byte(v>>8), byte(v))
	return w
}

func (w *wbuf) u32(v uint32) *wbuf {
	w.b = append(w.b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	return w
}

func (w *wbuf) raw(p []byte) *wbuf {
	w.b = append(w.b, p...)
	return w
}

// flowSet wraps a body with a set header and pads it to the 32-bit boundary
// the way exporters do.
func flowSet(id uint16, body []byte) []byte {
	padded := len(body)
	for padded%4 != 0 {
		padded++
	}
	w := &wbuf{}
	w.u16(id).u16(uint16(padded + 4)).raw(body)
	for len(w.b) < padded+4 {
		w.u8(0)
	}
	return w.b
}

// rawSet wraps a body without alignment padding; exporters leave sets with
// variable-length records unpadded so padding cannot be read as a record.
func rawSet(id uint16, body []byte) []byte {
	w := &wbuf{}
	w.u16(id).u16(uint16(len(body) + 4)).raw(body)
	return w.b
}

func v9Packet(count uint16, uptime, secs, seq, source uint32, sets ...[]byte) []byte {
	w := &wbuf{}
	w.u16(Version9).u16(count).u32(uptime).u32(secs).u32(seq).u32(source)
	for _, s := range sets {
		w.raw(s)
	}
	return w.b
}

func ipfixPacket(secs, seq, domain uint32, sets ...[]byte) []byte {
	length := ipfixHeaderLen
	for _, s := range sets {
		length += len(s)
	}
	w := &wbuf{}
	w.u16(VersionIPFIX).u16(uint16(length)).u32(secs).u32(seq).u32(domain)
	for _, s := range sets {
		w.raw(s)
	}
	return w.b
}

// v9TemplateBody encodes one template record: id, field count, field specs.
func v9TemplateBody(id uint16, fields ...TemplateField) []byte {
	w := &wbuf{}
	w.u16(id).u16(uint16(len(fields)))
	for _, f := range fields {
		w.u16(f.Type).u16(f.Length)
	}
	return w.b
}

// flowTemplate is the layout used across these tests: the fields softflowd
// exports for an IPv4 flow.
func flowTemplate() []TemplateField {
	return []TemplateField{
		{Type: 8, Length: 4},  // IPV4_SRC_ADDR
		{Type: 12, Length: 4}, // IPV4_DST_ADDR
		{Type: 7, Length: 2},  // L4_SRC_PORT
		{Type: 11, Length: 2}, // L4_DST_PORT
		{Type: 4, Length: 1},  // PROTOCOL
		{Type: 1, Length: 4},  // IN_BYTES
		{Type: 22, Length: 4}, // FIRST_SWITCHED
		{Type: 21, Length: 4}, // LAST_SWITCHED
	}
}

// flowData encodes one data record against flowTemplate.
func flowData(src, dst [4]byte, srcPort, dstPort uint16, proto uint8, bytesSent, first, last uint32) []byte {
	w := &wbuf{}
	w.raw(src[:]).raw(dst[:]).u16(srcPort).u16(dstPort).u8(proto).u32(bytesSent).u32(first).u32(last)
	return w.b
}

const testExporter = "192.0.2.10"

func TestDecodeV9TemplateAndData(t *testing.T) {
	store := NewStore(16, 16)

	recA := flowData([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 443, 52000, 6, 2048, 1000, 4000)
	recB := flowData([4]byte{10, 0, 0, 2}, [4]byte{10, 0, 0, 1}, 52000, 443, 6, 100, 1000, 4000)
	payload := v9Packet(3, 12345, 1700000000, 1, 42,
		flowSet(v9TemplateSetID, v9TemplateBody(256, flowTemplate()...)),
		flowSet(256, append(append([]byte{}, recA...), recB...)),
	)

	pkt, err := Decode(testExporter, payload, store)
	require.NoError(t, err)

	assert.Equal(t, uint16(Version9), pkt.Header.Version)
	assert.Equal(t, uint16(3), pkt.Header.Count)
	assert.Equal(t, uint32(12345), pkt.Header.SysUptime)
	assert.Equal(t, uint32(1700000000), pkt.Header.ExportTime)
	assert.Equal(t, uint32(1), pkt.Header.Sequence)
	assert.Equal(t, uint32(42), pkt.Header.SourceID)

	require.Len(t, pkt.Templates, 1)
	assert.Equal(t, uint16(256), pkt.Templates[0].ID)
	require.Len(t, pkt.Records, 2)

	// Decoding against the announcing template must reproduce the encoded
	// field values bit for bit.
	wantA := [][]byte{
		{10, 0, 0, 1}, {10, 0, 0, 2}, {0x01, 0xBB}, {0xCB, 0x20}, {6},
		{0, 0, 0x08, 0}, {0, 0, 0x03, 0xE8}, {0, 0, 0x0F, 0xA0},
	}
	require.Len(t, pkt.Records[0].Fields, len(wantA))
	for i, want := range wantA {
		assert.Equal(t, want, pkt.Records[0].Fields[i].Value, "field %d", i)
	}
	assert.Equal(t, []byte{10, 0, 0, 2}, pkt.Records[1].Fields[0].Value)

	tmpl, ok := store.Get(testExporter, 256)
	require.True(t, ok)
	assert.Equal(t, flowTemplate(), tmpl.Fields)
}

func TestDecodeUnknownTemplateSkipsSet(t *testing.T) {
	store := NewStore(16, 16)

	// A data set for a template never announced, then a template set, then
	// a decodable data set: the unknown set must not take the rest of the
	// packet down with it.
	rec := flowData([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 80, 1024, 6, 512, 0, 0)
	payload := v9Packet(3, 0, 1700000000, 1, 0,
		flowSet(999, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		flowSet(v9TemplateSetID, v9TemplateBody(256, flowTemplate()...)),
		flowSet(256, rec),
	)

	pkt, err := Decode(testExporter, payload, store)
	require.NoError(t, err)
	assert.Equal(t, 1, pkt.UnknownSets)
	require.Len(t, pkt.Records, 1)
	assert.Equal(t, uint16(256), pkt.Records[0].TemplateID)
}

func TestDecodeDataBeforeTemplateAcrossDatagrams(t *testing.T) {
	store := NewStore(16, 16)
	rec := flowData([4]byte{192, 168, 0, 1}, [4]byte{192, 168, 0, 2}, 22, 60000, 6, 9000, 10, 20)
	data := flowSet(300, rec)

	// Data first: skipped, not fatal.
	pkt, err := Decode(testExporter, v9Packet(1, 0, 1, 1, 0, data), store)
	require.NoError(t, err)
	assert.Equal(t, 1, pkt.UnknownSets)
	assert.Empty(t, pkt.Records)

	// Template catches up.
	_, err = Decode(testExporter, v9Packet(1, 0, 2, 2, 0,
		flowSet(v9TemplateSetID, v9TemplateBody(300, flowTemplate()...))), store)
	require.NoError(t, err)

	// Same data decodes now.
	pkt, err = Decode(testExporter, v9Packet(1, 0, 3, 3, 0, data), store)
	require.NoError(t, err)
	assert.Zero(t, pkt.UnknownSets)
	require.Len(t, pkt.Records, 1)
}

func TestDecodeTemplateRedefinitionReplaces(t *testing.T) {
	store := NewStore(16, 16)

	_, err := Decode(testExporter, v9Packet(1, 0, 1, 1, 0,
		flowSet(v9TemplateSetID, v9TemplateBody(256, flowTemplate()...))), store)
	require.NoError(t, err)

	// Redefine 256 with a two-field layout; the old one must be gone.
	narrow := []TemplateField{{Type: 1, Length: 4}, {Type: 2, Length: 4}}
	_, err = Decode(testExporter, v9Packet(1, 0, 2, 2, 0,
		flowSet(v9TemplateSetID, v9TemplateBody(256, narrow...))), store)
	require.NoError(t, err)

	tmpl, ok := store.Get(testExporter, 256)
	require.True(t, ok)
	assert.Equal(t, narrow, tmpl.Fields)

	body := &wbuf{}
	body.u32(111).u32(222)
	pkt, err := Decode(testExporter, v9Packet(1, 0, 3, 3, 0, flowSet(256, body.b)), store)
	require.NoError(t, err)
	require.Len(t, pkt.Records, 1)
	require.Len(t, pkt.Records[0].Fields, 2)
}

func TestDecodeMalformed(t *testing.T) {
	store := NewStore(16, 16)

	cases := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty", nil, ErrTruncated},
		{"short v9 header", v9Packet(0, 0, 0, 0, 0)[:10], ErrTruncated},
		{"short ipfix header", (&wbuf{}).u16(VersionIPFIX).u16(40).b, ErrTruncated},
		{"netflow v5", (&wbuf{}).u16(5).u16(0).u32(0).u32(0).u32(0).u32(0).b, ErrVersion},
		{"set past buffer", v9Packet(1, 0, 0, 0, 0, (&wbuf{}).u16(256).u16(400).u32(0).b), ErrTruncated},
		{"set length under header", v9Packet(1, 0, 0, 0, 0, (&wbuf{}).u16(256).u16(2).u32(0).b), ErrMalformed},
		{"ipfix length past datagram", (&wbuf{}).u16(VersionIPFIX).u16(200).u32(0).u32(0).u32(0).b, ErrTruncated},
		{"template spec truncated", v9Packet(1, 0, 0, 0, 0,
			flowSet(v9TemplateSetID, (&wbuf{}).u16(256).u16(9).u16(1).u16(4).b)), ErrTruncated},
	}
	for _, tc := range cases {
		_, err := Decode(testExporter, tc.payload, store)
		require.Error(t, err, tc.name)
		assert.ErrorIs(t, err, tc.want, tc.name)
	}
}

func TestDecodeTrailingPaddingTolerated(t *testing.T) {
	store := NewStore(16, 16)

	payload := v9Packet(1, 0, 1, 1, 0,
		flowSet(v9TemplateSetID, v9TemplateBody(256, flowTemplate()...)))
	payload = append(payload, 0, 0) // tail shorter than a set header

	_, err := Decode(testExporter, payload, store)
	assert.NoError(t, err)

	// A whole zero word reads as set id 0 length 0 and ends the walk too.
	payload = append(payload[:len(payload)-2], 0, 0, 0, 0)
	_, err = Decode(testExporter, payload, store)
	assert.NoError(t, err)
}

func TestDecodeDataSetPadding(t *testing.T) {
	store := NewStore(16, 16)

	// 3-byte records: two of them plus two bytes of padding in one set.
	tiny := []TemplateField{{Type: 4, Length: 1}, {Type: 7, Length: 2}}
	body := &wbuf{}
	body.u8(6).u16(80).u8(17).u16(53)

	pkt, err := Decode(testExporter, v9Packet(3, 0, 1, 1, 0,
		flowSet(v9TemplateSetID, v9TemplateBody(257, tiny...)),
		flowSet(257, body.b)), store)
	require.NoError(t, err)
	require.Len(t, pkt.Records, 2)
	assert.Equal(t, []byte{17}, pkt.Records[1].Fields[0].Value)
}

func ipfixTemplateBody(id uint16, fields ...TemplateField) []byte {
	w := &wbuf{}
	w.u16(id).u16(uint16(len(fields)))
	for _, f := range fields {
		if f.EnterpriseID != 0 {
			w.u16(f.Type | enterpriseBit).u16(f.Length).u32(f.EnterpriseID)
			continue
		}
		w.u16(f.Type).u16(f.Length)
	}
	return w.b
}

func TestDecodeIPFIXVarlen(t *testing.T) {
	store := NewStore(16, 16)

	tmpl := []TemplateField{
		{Type: 8, Length: 4},
		{Type: 96, Length: VariableLength}, // APPLICATION_NAME
		{Type: 1, Length: 4},
	}
	body := &wbuf{}
	body.raw([]byte{10, 0, 0, 1}).u8(5).raw([]byte("https")).u32(4096)
	body.raw([]byte{10, 0, 0, 2}).u8(3).raw([]byte("ssh")).u32(512)

	pkt, err := Decode(testExporter, ipfixPacket(1700000000, 10, 7,
		flowSet(ipfixTemplateSetID, ipfixTemplateBody(256, tmpl...)),
		rawSet(256, body.b)), store)
	require.NoError(t, err)

	assert.Equal(t, uint16(VersionIPFIX), pkt.Header.Version)
	assert.Equal(t, uint32(7), pkt.Header.SourceID)
	require.Len(t, pkt.Records, 2)
	assert.Equal(t, []byte("https"), pkt.Records[0].Fields[1].Value)
	assert.Equal(t, []byte("ssh"), pkt.Records[1].Fields[1].Value)
	assert.Equal(t, []byte{0, 0, 0x10, 0}, pkt.Records[0].Fields[2].Value)
}

func TestDecodeIPFIXVarlenExtendedForm(t *testing.T) {
	store := NewStore(16, 16)

	// A 1-byte prefix of 255 switches to the 2-byte extended length.
	long := bytes.Repeat([]byte{0xAB}, 300)
	tmpl := []TemplateField{{Type: 96, Length: VariableLength}}
	body := &wbuf{}
	body.u8(255).u16(300).raw(long)

	pkt, err := Decode(testExporter, ipfixPacket(1700000000, 11, 7,
		flowSet(ipfixTemplateSetID, ipfixTemplateBody(260, tmpl...)),
		rawSet(260, body.b)), store)
	require.NoError(t, err)
	require.Len(t, pkt.Records, 1)
	assert.Equal(t, long, pkt.Records[0].Fields[0].Value)
}

func TestDecodeIPFIXEnterpriseField(t *testing.T) {
	store := NewStore(16, 16)

	tmpl := []TemplateField{
		{Type: 1, Length: 4},
		{Type: 33, Length: 2, EnterpriseID: 29305},
	}
	body := &wbuf{}
	body.u32(1500).u16(7)

	pkt, err := Decode(testExporter, ipfixPacket(1700000000, 12, 7,
		flowSet(ipfixTemplateSetID, ipfixTemplateBody(270, tmpl...)),
		flowSet(270, body.b)), store)
	require.NoError(t, err)
	require.Len(t, pkt.Records, 1)

	f := pkt.Records[0].Fields[1]
	assert.Equal(t, uint16(33), f.Type)
	assert.Equal(t, uint32(29305), f.EnterpriseID)
	assert.Equal(t, []byte{0, 7}, f.Value)
}

func TestDecodeV9OptionsTemplate(t *testing.T) {
	store := NewStore(16, 16)

	// Scope: System (4 bytes). Options: SAMPLING_INTERVAL, SAMPLING_ALGORITHM.
	otBody := &wbuf{}
	otBody.u16(400).u16(4).u16(8)
	otBody.u16(1).u16(4)  // scope spec
	otBody.u16(34).u16(4) // option specs
	otBody.u16(35).u16(1)

	optData := &wbuf{}
	optData.u32(99).u32(1000).u8(1)

	pkt, err := Decode(testExporter, v9Packet(2, 0, 1, 1, 0,
		flowSet(v9OptionsTemplateSetID, otBody.b),
		flowSet(400, optData.b)), store)
	require.NoError(t, err)

	tmpl, ok := store.Get(testExporter, 400)
	require.True(t, ok)
	assert.True(t, tmpl.Options)
	assert.Equal(t, 1, tmpl.ScopeCount)
	require.Len(t, tmpl.Fields, 3)

	require.Len(t, pkt.Records, 1)
	assert.True(t, pkt.Records[0].Options)
	assert.Equal(t, []byte{0, 0, 0x03, 0xE8}, pkt.Records[0].Fields[1].Value)
}

func TestDecodeIPFIXOptionsTemplate(t *testing.T) {
	store := NewStore(16, 16)

	otBody := &wbuf{}
	otBody.u16(410).u16(3).u16(1) // 3 fields, 1 scope
	otBody.u16(130).u16(4)        // exporterIPv4Address (scope)
	otBody.u16(41).u16(8)         // TOTAL_PKTS_EXP
	otBody.u16(42).u16(4)         // TOTAL_FLOWS_EXP

	_, err := Decode(testExporter, ipfixPacket(1700000000, 13, 7,
		flowSet(ipfixOptionsTemplateSetID, otBody.b)), store)
	require.NoError(t, err)

	tmpl, ok := store.Get(testExporter, 410)
	require.True(t, ok)
	assert.True(t, tmpl.Options)
	assert.Equal(t, 1, tmpl.ScopeCount)
	assert.Len(t, tmpl.Fields, 3)
}

func TestDecodeIPFIXTemplateWithdrawalIgnored(t *testing.T) {
	store := NewStore(16, 16)

	_, err := Decode(testExporter, ipfixPacket(1, 1, 7,
		flowSet(ipfixTemplateSetID, ipfixTemplateBody(256, flowTemplate()...))), store)
	require.NoError(t, err)

	// Field count zero is a withdrawal; the cached template stays until
	// replaced or evicted.
	w := &wbuf{}
	w.u16(256).u16(0)
	_, err = Decode(testExporter, ipfixPacket(2, 2, 7,
		flowSet(ipfixTemplateSetID, w.b)), store)
	require.NoError(t, err)

	_, ok := store.Get(testExporter, 256)
	assert.True(t, ok)
}

func BenchmarkDecodeV9(b *testing.B) {
	store := NewStore(16, 16)
	rec := flowData([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 443, 52000, 6, 2048, 1000, 4000)
	var records []byte
	for i := 0; i < 10; i++ {
		records = append(records, rec...)
	}
	payload := v9Packet(11, 0, 1700000000, 1, 0,
		flowSet(v9TemplateSetID, v9TemplateBody(256, flowTemplate()...)),
		flowSet(256, records),
	)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(testExporter, payload, store); err != nil {
			b.Fatal(err)
		}
	}
}
