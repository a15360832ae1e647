package audit

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	c "pagingaudit/commons"
	pg "pagingaudit/platform/pagetables"
	"pagingaudit/sink"
)

// Auditor runs audits with one configuration. Every run gets a fresh ID.
type Auditor struct {
	Config c.Config
	Logger *slog.Logger

	// ID of the last run.
	ID uuid.UUID
}

func New(conf c.Config, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Auditor{Config: conf, Logger: logger}
}

// WalkPageTables flattens the page tables rooted at root.RootPointer() and
// records them in out.
func (a *Auditor) WalkPageTables(root RootProvider, mem pg.Memory, oracle pg.GuardOracle, out *sink.RecordSink) error {
	cr3, err := root.RootPointer()
	if err != nil {
		return errors.Wrap(err, "fetching the page table root")
	}
	tables, err := pg.New(mem, cr3)
	if err != nil {
		return err
	}
	if !a.Config.Guards {
		oracle = nil
	}
	walker := pg.NewWalker(tables, oracle, a.Logger)
	walker.KeepAbsentLeaves = a.Config.Absent4K

	negotiator := pg.NewNegotiator(walker.Walk, a.Logger)
	negotiator.Margin, negotiator.Retries = a.Config.Margin, a.Config.Retries
	flat, err := negotiator.Negotiate()
	if err != nil {
		return err
	}
	out.AddTables(flat)
	a.mapImages(tables, out)
	return nil
}

// mapImages records the protection of every loaded image's base address.
// An image whose base is not mapped gets "U".
func (a *Auditor) mapImages(tables *pg.PageTables, out *sink.RecordSink) {
	for i := range out.Images {
		img := &out.Images[i]
		pte, _, err := tables.FindMapping(img.Base)
		if err != nil {
			a.Logger.Debug("loaded image not mapped", slog.String("image", img.Name), slog.Any("error", err))
		}
		img.Rights = c.RightsString(pte.Rights())
	}
}

// Run audits src into out. The reconciliation and the page table walk are
// independent: both are attempted and their errors combined.
func (a *Auditor) Run(src Source, out *sink.RecordSink) error {
	a.ID = uuid.New()
	logger := a.Logger.With(slog.String("audit", a.ID.String()))

	if info, ok := src.(InfoProvider); ok {
		if w := info.Bitwidth(); w != 0 {
			out.SetBitwidth(w)
		}
		for _, img := range info.LoadedImages() {
			out.AddLoadedImage(img)
		}
		for _, d := range info.MAT() {
			out.AddMAT(d)
		}
	}

	var err error
	if rerr := Reconcile(src, src, out); rerr != nil {
		logger.Error("memory map reconciliation failed", slog.Any("error", rerr))
		err = errors.CombineErrors(err, errors.Wrap(rerr, "reconciling the memory map"))
	} else {
		logger.Info("memory map reconciled", slog.Int("records", len(out.MemoryMap)))
	}

	mem, werr := src.Memory()
	if werr == nil {
		werr = a.WalkPageTables(src, mem, src.GuardOracle(), out)
	}
	if werr != nil {
		logger.Error("page table walk failed", slog.Any("error", werr))
		err = errors.CombineErrors(err, errors.Wrap(werr, "walking the page tables"))
	} else {
		logger.Info("page tables walked", slog.Any("counts", out.Tables.Counts))
	}
	return err
}
