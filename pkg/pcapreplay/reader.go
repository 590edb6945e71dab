// Package pcapreplay lifts UDP payloads out of capture files, so recorded
// exporter traffic can be replayed against a live collector.
package pcapreplay

import (
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Datagram is one UDP payload from the capture, with its original capture
// timestamp for pacing.
type Datagram struct {
	Timestamp time.Time
	Payload   []byte
}

// Reader extracts UDP payloads from a pcap file.
type Reader struct {
	f    *os.File
	pcap *pcapgo.Reader
	port uint16
}

// NewReader opens the pcap file. When port is non-zero, only datagrams
// destined to it are returned.
func NewReader(filePath string, port uint16) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	return &Reader{f: f, pcap: r, port: port}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() {
	r.f.Close()
}

// ReadPackets sends every matching UDP payload to the channel in file
// order and closes it when the capture ends. Non-UDP packets are skipped.
func (r *Reader) ReadPackets(out chan<- Datagram) {
	defer close(out)

	packetSource := gopacket.NewPacketSource(r.pcap, r.pcap.LinkType())
	for packet := range packetSource.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if r.port != 0 && uint16(udp.DstPort) != r.port {
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}
		out <- Datagram{
			Timestamp: packet.Metadata().Timestamp,
			Payload:   udp.Payload,
		}
	}
}
