package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgectl/forge3d/internal/core/ports"
)

// PrintPoller keeps Model.print_status current for every model with a
// slice task in flight, grounded on the Sweeper's ticker-loop shape (§4.9).
// getPrintStatus (Orchestrator.GetPrintStatus) only ever reads the stored
// value; this is what advances it as the external slicer progresses.
type PrintPoller struct {
	logger    *slog.Logger
	store     ports.DataStore
	slicer    ports.SlicerProvider
	interval  time.Duration
	batchSize int
}

func NewPrintPoller(logger *slog.Logger, store ports.DataStore, slicer ports.SlicerProvider, interval time.Duration, batchSize int) *PrintPoller {
	return &PrintPoller{logger: logger, store: store, slicer: slicer, interval: interval, batchSize: batchSize}
}

// Run starts the poller loop. Blocks until ctx is cancelled. With no
// slicer provider configured (submitPrintTask is then unavailable too),
// there is nothing to poll.
func (p *PrintPoller) Run(ctx context.Context) error {
	if p.slicer == nil {
		p.logger.Info("print status poller disabled, no slicer provider configured")
		<-ctx.Done()
		return nil
	}

	p.logger.Info("print status poller started", "interval", p.interval, "batch_size", p.batchSize)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *PrintPoller) poll(ctx context.Context) {
	models, err := p.store.ListInFlightPrints(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("list in-flight prints", "error", err)
		return
	}

	for _, m := range models {
		if m.SliceTaskID == nil {
			continue
		}
		status, _, _, err := p.slicer.GetSliceTaskStatus(ctx, *m.SliceTaskID)
		if err != nil {
			p.logger.Warn("poll slice task status", "model_id", m.ID, "error", err)
			continue
		}
		if status == m.PrintStatus {
			continue
		}
		if err := p.store.SetPrintStatus(ctx, m.ID, status); err != nil {
			p.logger.Error("set print status", "model_id", m.ID, "error", err)
		}
	}
}
