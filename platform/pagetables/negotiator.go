package pagetables

import (
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	c "pagingaudit/commons"
)

// Negotiation policy of the firmware audit: every category is padded by 15
// records between the counting and the filling pass, and a filling pass that
// comes up short is retried once.
const (
	DefaultMargin  = c.DEFAULT_MARGIN
	DefaultRetries = c.DEFAULT_RETRIES
)

// WalkFunc has the contract of Walker.Walk.
type WalkFunc func(counts *Counts, bufs *Buffers) error

// Tables are the records of a successful negotiation, trimmed to the true
// counts.
type Tables struct {
	Buffers
	Counts Counts
}

// Negotiator sizes the walk buffers with a counting pass before filling them.
type Negotiator struct {
	Walk    WalkFunc
	Margin  int
	Retries int
	Logger  *slog.Logger
}

// NewNegotiator returns a negotiator with the default policy.
func NewNegotiator(walk WalkFunc, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Negotiator{
		Walk:    walk,
		Margin:  DefaultMargin,
		Retries: DefaultRetries,
		Logger:  logger,
	}
}

// Negotiate runs the counting pass, then up to 1+Retries filling passes. If
// the tables keep outgrowing the padded buffers the result is an error marked
// ErrResourceExhausted and no partial records are returned.
func (n *Negotiator) Negotiate() (*Tables, error) {
	if n.Walk == nil || n.Margin < 0 || n.Retries < 0 {
		return nil, c.InvalidArgf("negotiator needs a walk, got margin %d and %d retries", n.Margin, n.Retries)
	}
	logger := n.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var counts Counts
	if err := n.Walk(&counts, nil); err != nil {
		return nil, errors.Wrap(err, "counting page table records")
	}
	logger.Debug("counting pass", slog.Any("counts", counts))

	for attempt := 0; ; attempt++ {
		counts = counts.Pad(n.Margin)
		bufs := NewBuffers(counts)
		err := n.Walk(&counts, bufs)
		if err == nil {
			logger.Debug("filling pass", slog.Int("attempt", attempt), slog.Any("counts", counts))
			return trim(bufs, counts), nil
		}
		if !errors.Is(err, c.ErrBufferTooSmall) {
			return nil, errors.Wrapf(err, "filling page table records, attempt %d", attempt)
		}
		if attempt >= n.Retries {
			return nil, errors.Mark(
				errors.Wrapf(err, "page tables still growing after %d attempts", attempt+1),
				c.ErrResourceExhausted)
		}
		logger.Warn("page tables grew between passes", slog.Int("attempt", attempt), slog.Any("counts", counts))
	}
}

func trim(bufs *Buffers, n Counts) *Tables {
	return &Tables{
		Buffers: Buffers{
			Pte1G: bufs.Pte1G[:n.Pte1G:n.Pte1G],
			Pte2M: bufs.Pte2M[:n.Pte2M:n.Pte2M],
			Pte4K: bufs.Pte4K[:n.Pte4K:n.Pte4K],
			Pde:   bufs.Pde[:n.Pde:n.Pde],
			Guard: bufs.Guard[:n.Guard:n.Guard],
		},
		Counts: n,
	}
}
