// flowgen emits synthetic NetFlow v9 traffic for exercising nf-collector
// without a real exporter: one template packet followed by paired flows in
// both directions. Output goes to a collector over UDP, to a pcap file
// replayable with nf-replay, or both.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"math/rand"
	"net"
	"time"

	logrus "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/capture"
)

const (
	templateID = 256
	recordSize = 25
)

type flow struct {
	src, dst     net.IP
	sport, dport uint16
	bytes        uint32
	first, last  uint32
}

func main() {
	addr := flag.String("addr", "", "collector address to send to (e.g. 127.0.0.1:2055)")
	out := flag.String("o", "", "pcap file to write instead of (or besides) sending")
	count := flag.Int("c", 10, "number of connections to generate")
	seed := flag.Int64("seed", 0, "random seed, 0 for time-based")
	flag.Parse()

	if *addr == "" && *out == "" {
		log.Fatal("Nothing to do: give -addr and/or -o")
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	var conn *net.UDPConn
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2055}
	if *addr != "" {
		raddr, err := net.ResolveUDPAddr("udp", *addr)
		if err != nil {
			log.Fatalf("Bad collector address: %v", err)
		}
		target = raddr
		conn, err = net.DialUDP("udp", nil, raddr)
		if err != nil {
			log.Fatalf("Failed to dial collector: %v", err)
		}
		defer conn.Close()
	}

	var pcapw *capture.Writer
	if *out != "" {
		var err error
		pcapw, err = capture.NewWriter(*out, logrus.New())
		if err != nil {
			log.Fatalf("Failed to open pcap output: %v", err)
		}
		defer pcapw.Close()
	}

	// The synthetic exporter's own address, used for pcap framing.
	exporter := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 40000}
	emit := func(payload []byte) {
		if conn != nil {
			if _, err := conn.Write(payload); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
		}
		if pcapw != nil {
			if err := pcapw.WriteDatagram(exporter, target, payload); err != nil {
				log.Fatalf("Pcap write failed: %v", err)
			}
		}
	}

	// Spread export timestamps one second apart so each packet closes the
	// previous interval and the collector flushes without waiting for
	// shutdown.
	base := uint32(time.Now().Unix()) - uint32(*count)
	seq := uint32(1)

	emit(templatePacket(base, seq))
	seq++

	for i := 0; i < *count; i++ {
		fwd, rev := randomConversation(rng)
		emit(dataPacket(base+uint32(i), seq, fwd, rev))
		seq++
	}

	log.Printf("Generated %d connections (%d packets, seed %d)", *count, *count+1, *seed)
}

// randomConversation builds the two directions of one flow pair: a bulk
// transfer from a well-known port and its small reverse direction.
func randomConversation(rng *rand.Rand) (flow, flow) {
	server := net.IPv4(192, 0, 2, byte(rng.Intn(254)+1)).To4()
	client := net.IPv4(10, 0, byte(rng.Intn(256)), byte(rng.Intn(254)+1)).To4()
	serverPort := []uint16{22, 80, 443, 993}[rng.Intn(4)]
	clientPort := uint16(rng.Intn(65535-1024) + 1024)

	first := uint32(rng.Intn(1 << 20))
	last := first + uint32(rng.Intn(120_000))

	fwd := flow{
		src: server, dst: client,
		sport: serverPort, dport: clientPort,
		bytes: uint32(rng.Intn(8 << 20)),
		first: first, last: last,
	}
	rev := flow{
		src: client, dst: server,
		sport: clientPort, dport: serverPort,
		bytes: uint32(rng.Intn(4 << 10)),
		first: first, last: last,
	}
	return fwd, rev
}

// templatePacket carries the softflowd-style eight-field template.
func templatePacket(exportTime, seq uint32) []byte {
	b := header(1, exportTime, seq)
	b = binary.BigEndian.AppendUint16(b, 0)  // template flowset
	b = binary.BigEndian.AppendUint16(b, 40) // set length
	b = binary.BigEndian.AppendUint16(b, templateID)
	b = binary.BigEndian.AppendUint16(b, 8)
	for _, f := range [][2]uint16{
		{8, 4},  // IPV4_SRC_ADDR
		{12, 4}, // IPV4_DST_ADDR
		{7, 2},  // L4_SRC_PORT
		{11, 2}, // L4_DST_PORT
		{4, 1},  // PROTOCOL
		{1, 4},  // IN_BYTES
		{22, 4}, // FIRST_SWITCHED
		{21, 4}, // LAST_SWITCHED
	} {
		b = binary.BigEndian.AppendUint16(b, f[0])
		b = binary.BigEndian.AppendUint16(b, f[1])
	}
	return b
}

func dataPacket(exportTime, seq uint32, flows ...flow) []byte {
	b := header(uint16(len(flows)), exportTime, seq)
	length := 4 + len(flows)*recordSize
	padding := (4 - length%4) % 4

	b = binary.BigEndian.AppendUint16(b, templateID)
	b = binary.BigEndian.AppendUint16(b, uint16(length+padding))
	for _, f := range flows {
		b = append(b, f.src.To4()...)
		b = append(b, f.dst.To4()...)
		b = binary.BigEndian.AppendUint16(b, f.sport)
		b = binary.BigEndian.AppendUint16(b, f.dport)
		b = append(b, 6) // TCP
		b = binary.BigEndian.AppendUint32(b, f.bytes)
		b = binary.BigEndian.AppendUint32(b, f.first)
		b = binary.BigEndian.AppendUint32(b, f.last)
	}
	for i := 0; i < padding; i++ {
		b = append(b, 0)
	}
	return b
}

func header(count uint16, exportTime, seq uint32) []byte {
	b := make([]byte, 0, 512)
	b = binary.BigEndian.AppendUint16(b, 9)
	b = binary.BigEndian.AppendUint16(b, count)
	b = binary.BigEndian.AppendUint32(b, 12345678) // sysUptime
	b = binary.BigEndian.AppendUint32(b, exportTime)
	b = binary.BigEndian.AppendUint32(b, seq)
	b = binary.BigEndian.AppendUint32(b, 0) // source id
	return b
}
