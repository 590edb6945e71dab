package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/irino/nfsession/pkg/pcapreplay"
)

const version = "1.0.0"

func main() {
	app := cli.NewApp()
	app.Name = "nf-replay"
	app.Usage = "replay captured export datagrams to a collector"
	app.ArgsUsage = "<capture.pcap>"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr, a",
			Usage: "collector address to replay to",
			Value: "127.0.0.1:2055",
		},
		cli.UintFlag{
			Name:  "port, p",
			Usage: "replay only datagrams captured toward this UDP port (0 for all)",
			Value: 2055,
		},
		cli.BoolFlag{
			Name:  "pace",
			Usage: "reproduce the original inter-packet gaps instead of replaying at full speed",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError(fmt.Sprintf("Usage: %s <capture.pcap>", c.App.Name), 1)
	}

	reader, err := pcapreplay.NewReader(c.Args().Get(0), uint16(c.Uint("port")))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer reader.Close()

	conn, err := net.Dial("udp", c.String("addr"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer conn.Close()

	datagrams := make(chan pcapreplay.Datagram, 64)
	go reader.ReadPackets(datagrams)

	var sent int
	var last time.Time
	for dg := range datagrams {
		if c.Bool("pace") && !last.IsZero() {
			if gap := dg.Timestamp.Sub(last); gap > 0 {
				time.Sleep(gap)
			}
		}
		last = dg.Timestamp
		if _, err := conn.Write(dg.Payload); err != nil {
			return cli.NewExitError(fmt.Sprintf("replay aborted after %d datagrams: %v", sent, err), 1)
		}
		sent++
	}

	fmt.Printf("Replayed %d datagrams to %s\n", sent, c.String("addr"))
	return nil
}
