package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/irino/nfsession/internal/analyze"
)

const version = "1.0.0"

func main() {
	app := cli.NewApp()
	app.Name = "nf-analyze"
	app.Usage = "summarize paired transfers from a JSON flow dump"
	app.ArgsUsage = "<dump.json>"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.Uint64Flag{
			Name:  "min-bytes, m",
			Usage: "report transfers larger than this many bytes",
			Value: analyze.DefaultMinBytes,
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
		return cli.NewExitError(fmt.Sprintf("Usage: %s <dump.json>", c.App.Name), 1)
	}
	filename := c.Args().Get(0)
	if _, err := os.Stat(filename); err != nil {
		return cli.NewExitError(fmt.Sprintf("File %s does not exist", filename), 1)
	}

	dump, err := analyze.LoadDump(filename)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	rows := analyze.BuildReport(dump, analyze.Options{
		MinBytes: c.Uint64("min-bytes"),
		Resolver: analyze.NewSystemResolver(),
	})
	if len(rows) == 0 {
		return nil
	}
	analyze.Render(os.Stdout, rows)
	return nil
}
