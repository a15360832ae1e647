// Command pagingaudit audits a platform snapshot: it reconciles the memory
// map against the GCD space map, flattens the page tables and writes the
// records as .dat files and, optionally, a JSON report.
//
//	pagingaudit -snapshot DIR -out DIR [-config CONF] [-iomem FILE] [-json] [-v]
//	pagingaudit synth -out DIR
//
// The configuration falls back to the PAGINGAUDIT_CONFIG environment
// variable, e.g., PAGINGAUDIT_CONFIG="margin:15,guards:off".
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/slog"

	"pagingaudit/audit"
	c "pagingaudit/commons"
	mm "pagingaudit/memmap"
	"pagingaudit/platform/memview"
	"pagingaudit/sink"
	"pagingaudit/snapshot"
)

const CMD_SYNTH = "synth"

func main() {
	if len(os.Args) > 1 && os.Args[1] == CMD_SYNTH {
		os.Exit(synth(os.Args[2:], os.Stderr))
	}
	os.Exit(run(os.Args[1:], os.Stderr))
}

// iomemSource replaces the snapshot's space map with one read from iomem.
type iomemSource struct {
	*snapshot.Snapshot
	space []mm.SpaceDescriptor
}

func (s iomemSource) SpaceMap() ([]mm.SpaceDescriptor, error) {
	return s.space, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("pagingaudit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	snapDir := fs.String("snapshot", "", "snapshot directory to audit")
	outDir := fs.String("out", ".", "directory receiving the records")
	confStr := fs.String("config", "", "audit configuration, defaults to $"+c.ENV_CONFIG)
	asJSON := fs.Bool("json", false, "also write "+sink.FILE_REPORT)
	verbose := fs.Bool("v", false, "debug logging")
	iomem := fs.String("iomem", "", "take the space map from an iomem listing, e.g., "+memview.IOMEM_PATH)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *snapDir == "" {
		fmt.Fprintln(stderr, "pagingaudit: -snapshot is required")
		fs.Usage()
		return 2
	}
	logger := newLogger(stderr, *verbose)

	if *confStr == "" {
		*confStr = os.Getenv(c.ENV_CONFIG)
	}
	conf, err := c.ParseConfig(*confStr)
	if err != nil {
		logger.Error("bad configuration", slog.Any("error", err))
		return 2
	}
	if *asJSON && !conf.WantJSON() {
		conf.Format = c.FORMAT_BOTH
	}

	snap, err := snapshot.Load(*snapDir)
	if err != nil {
		logger.Error("loading snapshot", slog.Any("error", err))
		return 1
	}
	defer snap.Close()

	var src audit.Source = snap
	if *iomem != "" {
		space, err := memview.ReadIomem(*iomem)
		if err != nil {
			logger.Error("reading iomem", slog.Any("error", err))
			return 1
		}
		src = iomemSource{Snapshot: snap, space: space}
	}

	a := audit.New(conf, logger)
	records := sink.New()
	status := 0
	if err := a.Run(src, records); err != nil {
		// Partial results are still written.
		status = 1
	}
	if err := records.Dump(*outDir, a.ID.String(), conf); err != nil {
		logger.Error("writing records", slog.Any("error", err))
		status = 1
	}
	logger.Info("audit done", slog.String("audit", a.ID.String()), slog.String("out", *outDir),
		slog.Int("memory_map", len(records.MemoryMap)), slog.Int("guards", len(records.Guards)))
	return status
}

func synth(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("pagingaudit synth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outDir := fs.String("out", "", "directory receiving the synthetic snapshot")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *outDir == "" {
		fmt.Fprintln(stderr, "pagingaudit synth: -out is required")
		return 2
	}
	logger := newLogger(stderr, false)
	m, err := snapshot.Synthesize(*outDir)
	if err != nil {
		logger.Error("writing synthetic snapshot", slog.Any("error", err))
		return 1
	}
	logger.Info("synthetic snapshot written", slog.String("dir", *outDir),
		slog.String("cr3", fmt.Sprintf("0x%x", m.CR3)), slog.Int("images", len(m.Images)))
	return 0
}
