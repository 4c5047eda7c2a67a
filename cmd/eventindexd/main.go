// Command eventindexd demonstrates direct construction of a coordinator
// and a minimal ingest/query/shutdown cycle. It is not a process
// supervisor: no command-line flags, no configuration file, no signal
// handling -- wiring those up is left to whatever deploys this engine.
package main

import (
	"log/slog"
	"time"

	"github.com/evtdb/eventindex/columnindex"
	"github.com/evtdb/eventindex/compression"
	"github.com/evtdb/eventindex/coordinator"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"
	"github.com/evtdb/eventindex/telemetry"
	"github.com/evtdb/eventindex/valueindex"

	"github.com/fatih/color"
)

// logStructLayouts reports padding waste for the per-column struct that
// gets instantiated once per leaf per partition -- with enough columns and
// partitions, wasted padding there adds up across the whole process.
func logStructLayouts() {
	report := compression.GetWellAlignedStructReport(columnindex.ColumnIndex{})
	if !report.IsWellAligned {
		slog.Warn("columnindex.ColumnIndex is not optimally packed", "wasted_bytes", report.WastedBytes)
	}
}

func connLayout() schema.Layout {
	return schema.Layout{Name: "conn", Type: schema.Record(
		schema.Field{Name: "bytes", Type: schema.Uint()},
		schema.Field{Name: "service", Type: schema.String()},
	)}
}

func main() {
	logStructLayouts()

	c, err := coordinator.Open(coordinator.Config{
		RootDir:       "./storage",
		PartitionCap:  1_000_000,
		Limits:        valueindex.DefaultLimits(),
		CacheCapacity: 16,
		WorkerPool:    4,
		TasteDefault:  8,
	}, 4)
	if err != nil {
		panic(err)
	}

	ticker := telemetry.NewTicker(c.Telemetry(), telemetry.SinkFunc(func(r telemetry.Report) {
		slog.Info("telemetry tick", "fields", len(r.Fields), "at", r.At)
	}), 10*time.Second)
	ticker.Start()
	defer ticker.Stop()

	slice, err := schema.NewTableSlice(connLayout(), 0, 3, [][]any{
		{uint64(120), uint64(4096), uint64(64)},
		{"http", "dns", "ssh"},
	})
	if err != nil {
		panic(err)
	}
	if err := c.Ingest(slice); err != nil {
		panic(err)
	}

	expr := query.Pred(query.Field("service"), query.Equal, "http")
	resp, err := c.Query(expr, 4)
	if err != nil {
		slog.Error("query failed", "error", err)
		color.Red("query failed: %s", err)
	} else if resp.Done {
		slog.Info("query matched nothing")
	} else {
		total := uint64(0)
		for res := range resp.Results {
			total += res.Hits.GetCardinality()
		}
		slog.Info("query finished", "hits", total)
	}

	if err := c.Shutdown(); err != nil {
		slog.Error("shutdown did not complete cleanly", "error", err)
		color.Red("shutdown did not complete cleanly: %s", err)
	}
}
