package pcapreplay

import (
	"io"
	"net"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irino/nfsession/internal/capture"
)

func writeCapture(t *testing.T, dgs ...[]byte) string {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)

	path := filepath.Join(t.TempDir(), "test.pcap")
	w, err := capture.NewWriter(path, logger)
	require.NoError(t, err)

	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.10"), Port: 50000}
	dst := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 2055}
	for _, payload := range dgs {
		require.NoError(t, w.WriteDatagram(src, dst, payload))
	}
	require.NoError(t, w.Close())
	return path
}

func collect(t *testing.T, path string, port uint16) []Datagram {
	t.Helper()
	r, err := NewReader(path, port)
	require.NoError(t, err)
	defer r.Close()

	out := make(chan Datagram)
	go r.ReadPackets(out)

	var got []Datagram
	for dg := range out {
		got = append(got, dg)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	path := writeCapture(t, []byte{0x00, 0x09, 0xde, 0xad}, []byte{0x00, 0x0a, 0xbe, 0xef})

	got := collect(t, path, 2055)
	require.Len(t, got, 2)
	assert.Equal(t, []byte{0x00, 0x09, 0xde, 0xad}, got[0].Payload)
	assert.Equal(t, []byte{0x00, 0x0a, 0xbe, 0xef}, got[1].Payload)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestPortFilter(t *testing.T) {
	path := writeCapture(t, []byte{0x01, 0x02})

	assert.Len(t, collect(t, path, 2055), 1)
	assert.Empty(t, collect(t, path, 9999))
	assert.Len(t, collect(t, path, 0), 1, "port 0 matches everything")
}

func TestIPv6Framing(t *testing.T) {
	logger := log.New()
	logger.SetOutput(io.Discard)

	path := filepath.Join(t.TempDir(), "v6.pcap")
	w, err := capture.NewWriter(path, logger)
	require.NoError(t, err)
	src := &net.UDPAddr{IP: net.ParseIP("2001:db8::10"), Port: 50000}
	dst := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 2055}
	require.NoError(t, w.WriteDatagram(src, dst, []byte{0xca, 0xfe}))
	require.NoError(t, w.Close())

	got := collect(t, path, 2055)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{0xca, 0xfe}, got[0].Payload)
}

func TestMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "absent.pcap"), 0)
	assert.Error(t, err)
}
