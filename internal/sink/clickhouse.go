package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/model"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS connections (
    Timestamp   DateTime,
    Exporter    String,
    SrcAddr     String,
    DstAddr     String,
    SrcPort     UInt16,
    DstPort     UInt16,
    Protocol    UInt8,
    IPVersion   UInt8,
    Bytes       UInt64,
    DurationMs  UInt64,
    SrcCountry  String,
    DstCountry  String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Exporter, Timestamp);
`

func init() {
	Register("clickhouse", func(cfg *config.Config, logger *log.Logger) (model.Sink, error) {
		if !cfg.Sinks.ClickHouse.Enabled {
			return nil, nil
		}
		return NewClickHouse(cfg.Sinks.ClickHouse, logger)
	})
}

// ClickHouse inserts paired connections into a MergeTree table, one batch
// insert per flushed export interval.
type ClickHouse struct {
	conn driver.Conn
	log  *log.Logger
}

// NewClickHouse connects, pings and ensures the connections table exists.
func NewClickHouse(cfg config.ClickHouseSinkConfig, logger *log.Logger) (*ClickHouse, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.WithField("addr", cfg.Addr).Info("connected to ClickHouse")
	return &ClickHouse{conn: conn, log: logger}, nil
}

func connect(cfg config.ClickHouseSinkConfig) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (c *ClickHouse) Name() string { return "clickhouse" }

// WriteBatch sends the batch's connections as one insert. Batches without
// connections (pure template or options traffic) are skipped.
func (c *ClickHouse) WriteBatch(ctx context.Context, batch *model.ExportBatch) error {
	if len(batch.Connections) == 0 {
		return nil
	}

	insert, err := c.conn.PrepareBatch(ctx, "INSERT INTO connections")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	ts := time.Unix(int64(batch.Time), 0).UTC()
	for _, con := range batch.Connections {
		err = insert.Append(
			ts,
			con.Exporter,
			con.Src,
			con.Dest,
			con.SrcPort,
			con.DestPort,
			con.Protocol,
			con.IPVersion,
			con.Size,
			con.Duration,
			con.SrcCountry,
			con.DestCountry,
		)
		if err != nil {
			return fmt.Errorf("failed to append connection to batch: %w", err)
		}
	}
	if err := insert.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	c.log.WithFields(log.Fields{
		"connections": len(batch.Connections),
		"time":        batch.Time,
	}).Debug("wrote connections to ClickHouse")
	return nil
}

func (c *ClickHouse) Close(ctx context.Context) error {
	return c.conn.Close()
}
