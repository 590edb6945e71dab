// Package capture mirrors received export datagrams into a pcap file, so
// a live collector's traffic can be replayed later.
package capture

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// The UDP payload is all that arrives on the socket; framing is
// synthesized so standard tools can read the file.
var (
	captureSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	captureDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Writer appends synthesized Ethernet/IP/UDP frames to a pcap file. It is
// owned by the receive loop; Close only after the loop has stopped.
type Writer struct {
	f *os.File
	w *pcapgo.Writer
}

// NewWriter creates the capture file, truncating an existing one.
func NewWriter(path string, logger *log.Logger) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	logger.WithField("path", path).Info("capturing datagrams")
	return &Writer{f: f, w: w}, nil
}

// WriteDatagram frames the payload as one UDP packet from src to dst and
// appends it. The address family follows src; a wildcard dst of the other
// family becomes the zero address.
func (w *Writer) WriteDatagram(src, dst *net.UDPAddr, payload []byte) error {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}

	udpLayer := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}

	var err error
	if src4 := src.IP.To4(); src4 != nil {
		dst4 := dst.IP.To4()
		if dst4 == nil {
			dst4 = net.IPv4zero.To4()
		}
		ethLayer := &layers.Ethernet{
			SrcMAC:       captureSrcMAC,
			DstMAC:       captureDstMAC,
			EthernetType: layers.EthernetTypeIPv4,
		}
		ipLayer := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    src4,
			DstIP:    dst4,
		}
		udpLayer.SetNetworkLayerForChecksum(ipLayer)
		err = gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, udpLayer, gopacket.Payload(payload))
	} else {
		dst16 := dst.IP.To16()
		if dst16 == nil {
			dst16 = net.IPv6zero
		}
		ethLayer := &layers.Ethernet{
			SrcMAC:       captureSrcMAC,
			DstMAC:       captureDstMAC,
			EthernetType: layers.EthernetTypeIPv6,
		}
		ipLayer := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      src.IP.To16(),
			DstIP:      dst16,
		}
		udpLayer.SetNetworkLayerForChecksum(ipLayer)
		err = gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, udpLayer, gopacket.Payload(payload))
	}
	if err != nil {
		return fmt.Errorf("failed to serialize packet: %w", err)
	}

	frame := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	return w.w.WritePacket(ci, frame)
}

func (w *Writer) Close() error {
	return w.f.Close()
}
