package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/logging"
	"github.com/irino/nfsession/internal/model"
	"github.com/irino/nfsession/internal/sink"
	"github.com/irino/nfsession/internal/stream"
)

const version = "1.0.0"

func main() {
	app := cli.NewApp()
	app.Name = "nf-writer"
	app.Usage = "persists connection batches published by nf-collector over NATS"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to the YAML configuration file",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		return cli.NewExitError("a config file is required (--config)", 1)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if cfg.Stream.URL == "" {
		return cli.NewExitError("stream.url is required for the writer", 1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	// The writer consumes from the stream; republishing to the same
	// subject would loop batches forever.
	cfg.Sinks.NATS.Enabled = false
	sinks, err := sink.Build(cfg, logger)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if len(sinks) == 0 {
		return cli.NewExitError("no sinks enabled; nothing to write batches into", 1)
	}

	writeTimeout, err := time.ParseDuration(cfg.Collector.WriteTimeout)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	sub, err := stream.NewSubscriber(cfg.Stream, logger)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	err = sub.Start(func(batch *model.ExportBatch) {
		deliver(batch, sinks, writeTimeout, logger)
	})
	if err != nil {
		sub.Close()
		return cli.NewExitError(err.Error(), 1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	sub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range sinks {
		if err := s.Close(ctx); err != nil {
			logger.WithError(err).WithField("sink", s.Name()).Error("failed to close sink")
		}
	}
	logger.Info("shutdown complete")
	return nil
}

func deliver(batch *model.ExportBatch, sinks []model.Sink, timeout time.Duration, logger *log.Logger) {
	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.WriteBatch(ctx, batch); err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"sink": s.Name(),
				"time": batch.Time,
			}).Error("failed to write batch")
		}
		cancel()
	}
}
