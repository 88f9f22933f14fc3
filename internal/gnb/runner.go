package gnb

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/nrstack/internal/config"
	"github.com/signalsfoundry/nrstack/internal/logging"
	"github.com/signalsfoundry/nrstack/timectrl"
)

// NewCells builds every cell of cfg. Cells share one numerology.
func NewCells(cfg config.Config, deps Deps) ([]*Cell, error) {
	cells := make([]*Cell, 0, len(cfg.Cells))
	for _, cc := range cfg.Cells {
		c, err := NewCell(cc, deps)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", cc.PCI, err)
		}
		cells = append(cells, c)
	}
	return cells, nil
}

// Runner drives a set of cells from one slot controller. The cells of a
// slot run concurrently and the slot completes when all of them have.
type Runner struct {
	cells []*Cell
	clock *timectrl.SlotController
	log   logging.Logger
}

// NewRunner registers the cells on clock.
func NewRunner(clock *timectrl.SlotController, cells []*Cell, log logging.Logger) *Runner {
	r := &Runner{cells: cells, clock: clock, log: logging.OrNoop(log)}
	clock.AddListener(r.slot)
	return r
}

// Cells returns the driven cells.
func (r *Runner) Cells() []*Cell { return r.cells }

// Run processes nofSlots slots, or until ctx ends when nofSlots is 0.
func (r *Runner) Run(ctx context.Context, nofSlots uint64) error {
	r.log.Info(ctx, "slot loop starting", logging.Int("cells", len(r.cells)),
		logging.Any("slots", nofSlots), logging.String("from", r.clock.Now().String()))
	err := r.clock.Run(ctx, nofSlots)
	for _, c := range r.cells {
		s := c.Stats()
		r.log.Info(ctx, "cell summary", logging.Uint32("pci", c.PCI()),
			logging.Any("slots", s.Slots),
			logging.Any("dl_ack", s.DLAck), logging.Any("dl_nack", s.DLNack),
			logging.Any("ul_ack", s.ULAck), logging.Any("ul_nack", s.ULNack),
			logging.Any("dl_bytes", s.DLBytes), logging.Any("ul_bytes", s.ULBytes))
	}
	return err
}

func (r *Runner) slot(ctx context.Context, sp timectrl.SlotPoint) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range r.cells {
		g.Go(func() error {
			if err := c.ProcessSlot(ctx, sp); err != nil {
				return fmt.Errorf("pci %d: %w", c.PCI(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
