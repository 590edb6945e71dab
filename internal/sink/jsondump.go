package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/model"
)

// Numbers must survive a load/rewrite cycle unchanged, so decode them as
// json.Number instead of float64.
var dumpJSON = jsoniter.Config{UseNumber: true}.Froze()

func init() {
	Register("json", func(cfg *config.Config, logger *log.Logger) (model.Sink, error) {
		if !cfg.Sinks.JSON.Enabled {
			return nil, nil
		}
		return NewJSONDump(cfg.Sinks.JSON.Path, logger)
	})
}

// JSONDump maintains a softflowd-compatible dump file: a single JSON object
// mapping export timestamps to the lists of flow records received for them.
// Keys are only ever added to; the whole mapping is rewritten atomically on
// each flush.
type JSONDump struct {
	path string
	log  *log.Logger
	data map[string][]model.FlowRecord
}

// NewJSONDump loads an existing dump file if one is present and proves the
// path writable. An unwritable path is a startup error, not a runtime one.
func NewJSONDump(path string, logger *log.Logger) (*JSONDump, error) {
	d := &JSONDump{
		path: path,
		log:  logger,
		data: make(map[string][]model.FlowRecord),
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) > 0 {
			if err := dumpJSON.Unmarshal(raw, &d.data); err != nil {
				return nil, fmt.Errorf("existing dump file %s is not valid JSON: %w", path, err)
			}
		}
		d.log.WithFields(log.Fields{"path": path, "exports": len(d.data)}).Info("loaded existing dump file")
	case os.IsNotExist(err):
		// Fine, first run.
	default:
		return nil, fmt.Errorf("failed to read dump file: %w", err)
	}

	if err := d.rewrite(); err != nil {
		return nil, fmt.Errorf("dump path is not writable: %w", err)
	}
	return d, nil
}

func (d *JSONDump) Name() string { return "json" }

// WriteBatch files the batch's flows under its export timestamp and rewrites
// the dump. Flows for a timestamp already present are appended, never
// replaced.
func (d *JSONDump) WriteBatch(ctx context.Context, batch *model.ExportBatch) error {
	if len(batch.Flows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	key := batch.Key()
	d.data[key] = append(d.data[key], batch.Flows...)
	return d.rewrite()
}

func (d *JSONDump) Close(ctx context.Context) error {
	return nil
}

// rewrite replaces the dump file via a rename so readers never observe a
// partial document.
func (d *JSONDump) rewrite() error {
	buf, err := dumpJSON.Marshal(d.data)
	if err != nil {
		return fmt.Errorf("failed to marshal dump: %w", err)
	}

	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".flows-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace dump file: %w", err)
	}
	return nil
}
