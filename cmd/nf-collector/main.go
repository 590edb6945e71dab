package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/irino/nfsession/internal/alert"
	"github.com/irino/nfsession/internal/capture"
	"github.com/irino/nfsession/internal/collector"
	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/enrich"
	"github.com/irino/nfsession/internal/logging"
	"github.com/irino/nfsession/internal/notification"
	"github.com/irino/nfsession/internal/query"
	"github.com/irino/nfsession/internal/sink"
)

const version = "1.0.0"

func main() {
	app := cli.NewApp()
	app.Name = "nf-collector"
	app.Usage = "NetFlow v9 / IPFIX collector that pairs flows into connections"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to the YAML configuration file",
		},
		cli.StringFlag{
			Name:  "listen, l",
			Usage: "UDP listen address, overriding the config file",
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "JSON dump file path, overriding the config file",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	sinks, err := sink.Build(cfg, logger)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if len(sinks) == 0 {
		return cli.NewExitError("no sinks enabled; nothing to collect into", 1)
	}

	var enricher *enrich.GeoIP
	if cfg.Enrich.GeoIPDB != "" {
		enricher, err = enrich.Open(cfg.Enrich.GeoIPDB, logger)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer enricher.Close()
	}

	var alerter *alert.Alerter
	if cfg.Alert.Enabled {
		notifier := notification.NewEmailNotifier(cfg.Alert.SMTP)
		alerter, err = alert.New(cfg.Alert, notifier, logger)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		alerter.Start()
	}

	var capturer *capture.Writer
	if cfg.Capture.Enabled {
		capturer, err = capture.NewWriter(cfg.Capture.Path, logger)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
	}

	col, err := collector.New(collector.Options{
		Config:   cfg.Collector,
		Logger:   logger,
		Metrics:  collector.NewMetrics(),
		Sinks:    sinks,
		Enricher: enricher,
		Alerter:  alerter,
		Capture:  capturer,
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if err := col.Start(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	var admin *http.Server
	if cfg.Admin.Enabled {
		var querier query.Querier
		if cfg.Sinks.ClickHouse.Enabled {
			querier, err = query.NewClickHouseQuerier(cfg.Sinks.ClickHouse)
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
		}
		admin = collector.NewAdminServer(cfg.Admin, col, querier, logger)
		go func() {
			logger.WithField("addr", admin.Addr).Info("admin server starting")
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Fatal("admin server failed")
			}
		}()
	}

	// Wait for a shutdown signal.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	if admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := admin.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("admin server shutdown failed")
		}
		cancel()
	}
	col.Stop()
	if alerter != nil {
		alerter.Stop()
	}
	logger.Info("shutdown complete")
	return nil
}

// loadConfig reads the config file if one is given, falling back to the
// built-in defaults, and applies the CLI overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if addr := c.String("listen"); addr != "" {
		cfg.Collector.ListenAddr = addr
	}
	if out := c.String("output"); out != "" {
		cfg.Sinks.JSON.Enabled = true
		cfg.Sinks.JSON.Path = out
	}
	return cfg, nil
}
