// Package query is the read side of the ClickHouse sink, backing the
// admin API.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/irino/nfsession/internal/config"
)

// TransferSummary aggregates the connections between one address pair.
type TransferSummary struct {
	Src         string    `json:"src"`
	Dest        string    `json:"dest"`
	TotalBytes  uint64    `json:"total_bytes"`
	Connections uint64    `json:"connections"`
	LastSeen    time.Time `json:"last_seen"`
}

// Querier defines the interface for querying stored connections.
type Querier interface {
	TopTransfers(ctx context.Context, since time.Time, limit int) ([]TransferSummary, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn clickhouse.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseSinkConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func connect(cfg config.ClickHouseSinkConfig) (clickhouse.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
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

// TopTransfers returns the address pairs that moved the most bytes since
// the given time, busiest first.
func (q *clickhouseQuerier) TopTransfers(ctx context.Context, since time.Time, limit int) ([]TransferSummary, error) {
	const query = `
		SELECT
			SrcAddr,
			DstAddr,
			SUM(Bytes) AS TotalBytes,
			COUNT(*) AS Connections,
			MAX(Timestamp) AS LastSeen
		FROM connections
		WHERE Timestamp >= ?
		GROUP BY SrcAddr, DstAddr
		ORDER BY TotalBytes DESC
		LIMIT ?
	`

	rows, err := q.conn.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var summaries []TransferSummary
	for rows.Next() {
		var s TransferSummary
		if err := rows.Scan(&s.Src, &s.Dest, &s.TotalBytes, &s.Connections, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan transfer summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
