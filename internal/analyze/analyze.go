// Package analyze builds transfer reports from the JSON flow dumps written by
// the collector's json sink.
package analyze

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/model"
)

// Dumps are parsed with UseNumber so large counters and integer-encoded
// addresses survive without float rounding.
var dumpJSON = jsoniter.Config{UseNumber: true}.Froze()

// timeLayout renders export timestamps with the report's historical
// minutes.seconds separator.
const timeLayout = "2006-01-02 15:04.05"

// DefaultMinBytes filters the report down to transfers larger than one
// mebibyte.
const DefaultMinBytes = 1 << 20

// Options configure a report run.
type Options struct {
	// MinBytes drops connections whose size is not strictly above it.
	MinBytes uint64
	// Resolver defaults to the system resolver when nil.
	Resolver Resolver
	// Log defaults to a stderr logger when nil.
	Log *log.Logger
}

// Row is one reported transfer.
type Row struct {
	Time     int64
	Service  string
	Size     string
	Duration string
	Src      string
	SrcHost  string
	Dest     string
	DestHost string
}

// LoadDump reads a dump file mapping export timestamps to flow record lists.
func LoadDump(filePath string) (map[string][]model.FlowRecord, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	dump := make(map[string][]model.FlowRecord)
	if err := dumpJSON.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("failed to parse dump %s: %w", filePath, err)
	}
	return dump, nil
}

// BuildReport pairs the flows of every export interval in timestamp order and
// returns the connections above the size threshold. Flows pair sequentially,
// the way exporters emit the two directions of one conversation back to back;
// a trailing odd flow has no partner and is dropped with a warning.
func BuildReport(dump map[string][]model.FlowRecord, opts Options) []Row {
	if opts.Resolver == nil {
		opts.Resolver = NewSystemResolver()
	}
	if opts.Log == nil {
		opts.Log = log.New()
	}

	var rows []Row
	for _, key := range sortedKeys(dump) {
		ts := parseExportTime(key)
		flows := dump[key]
		if len(flows)%2 != 0 {
			opts.Log.WithFields(log.Fields{
				"time":  key,
				"flows": len(flows),
			}).Warn("dropping unpaired flow at end of export interval")
		}
		for i := 0; i+1 < len(flows); i += 2 {
			con := model.NewConnection("", uint32(ts), flows[i], flows[i+1])
			if con.Size <= opts.MinBytes {
				continue
			}
			rows = append(rows, Row{
				Time:     ts,
				Service:  strings.ToUpper(opts.Resolver.Service(con.SrcPort, con.DestPort)),
				Size:     con.HumanSize(),
				Duration: con.HumanDuration(),
				Src:      con.Src,
				SrcHost:  opts.Resolver.Hostname(con.Src),
				Dest:     con.Dest,
				DestHost: opts.Resolver.Hostname(con.Dest),
			})
		}
	}
	return rows
}

// Render prints the report as a table.
func Render(w io.Writer, rows []Row) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Service", "Size", "Duration", "Source", "Destination"})
	for _, row := range rows {
		table.Append([]string{
			time.Unix(row.Time, 0).Format(timeLayout),
			row.Service,
			row.Size,
			row.Duration,
			endpoint(row.SrcHost, row.Src),
			endpoint(row.DestHost, row.Dest),
		})
	}
	table.Render()
}

// endpoint formats "host (addr)", collapsing to the bare address when reverse
// lookup returned nothing better.
func endpoint(host, addr string) string {
	if host == "" || host == addr {
		return addr
	}
	return fmt.Sprintf("%s (%s)", host, addr)
}

// sortedKeys orders export timestamps chronologically. Keys are numeric
// strings; dumps written by older collectors carry float keys, so values are
// compared parsed, not as text.
func sortedKeys(dump map[string][]model.FlowRecord) []string {
	keys := make([]string, 0, len(dump))
	for k := range dump {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseFloat(keys[i], 64)
		b, errB := strconv.ParseFloat(keys[j], 64)
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})
	return keys
}

func parseExportTime(key string) int64 {
	f, err := strconv.ParseFloat(key, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}
