// topquery prints the busiest address pairs a collector has stored, either
// through the admin API or straight from ClickHouse.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/query"
)

func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' via the admin endpoint, 'direct' against ClickHouse.")
	api := flag.String("api", "http://127.0.0.1:8099", "Admin endpoint base URL for api mode.")
	chAddr := flag.String("clickhouse", "127.0.0.1:9000", "ClickHouse address for direct mode.")
	database := flag.String("database", "nfsession", "ClickHouse database for direct mode.")
	username := flag.String("user", "default", "ClickHouse username for direct mode.")
	password := flag.String("password", "", "ClickHouse password for direct mode.")
	window := flag.Duration("window", 24*time.Hour, "How far back to look.")
	limit := flag.Int("limit", 10, "Number of address pairs to print.")
	flag.Parse()

	var summaries []query.TransferSummary
	var err error
	switch *mode {
	case "api":
		summaries, err = viaAPI(*api, *window, *limit)
	case "direct":
		summaries, err = viaClickHouse(config.ClickHouseSinkConfig{
			Addr:     *chAddr,
			Database: *database,
			Username: *username,
			Password: *password,
		}, *window, *limit)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
	if err != nil {
		log.Fatal(err)
	}

	if len(summaries) == 0 {
		fmt.Println("No transfers in the window.")
		return
	}
	for i, s := range summaries {
		fmt.Printf("%2d. %s -> %s: %d bytes over %d connections, last seen %s\n",
			i+1, s.Src, s.Dest, s.TotalBytes, s.Connections, s.LastSeen.Format(time.RFC3339))
	}
}

func viaAPI(base string, window time.Duration, limit int) ([]query.TransferSummary, error) {
	url := fmt.Sprintf("%s/api/v1/connections/top?limit=%d&window=%s", base, limit, window)
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("admin API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("admin API returned %s: %s", resp.Status, body)
	}
	var summaries []query.TransferSummary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		return nil, fmt.Errorf("failed to decode admin API response: %w", err)
	}
	return summaries, nil
}

func viaClickHouse(cfg config.ClickHouseSinkConfig, window time.Duration, limit int) ([]query.TransferSummary, error) {
	querier, err := query.NewClickHouseQuerier(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return querier.TopTransfers(ctx, time.Now().Add(-window), limit)
}
