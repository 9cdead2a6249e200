// Package ingestion applies asynchronous delivery receipts to the ledger.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/worker"
)

var ErrInvalidReceipt = errors.New("invalid delivery receipt")

type ReceiptStore interface {
	ApplyReceipt(ctx context.Context, r *models.Receipt) (bool, error)
}

// Source feeds receipts from an external transport until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, submit func(context.Context, *models.Receipt) error) error
}

type Manager struct {
	cfg     config.IngestConfig
	store   ReceiptStore
	sources []Source
	pool    *worker.WorkerPool[*models.Receipt]
	wg      sync.WaitGroup
}

func NewManager(cfg config.IngestConfig, store ReceiptStore, sources ...Source) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		sources: sources,
	}
}

func (m *Manager) Start(ctx context.Context) {
	processor := func(ctx context.Context, r *models.Receipt) error {
		applied, err := m.store.ApplyReceipt(ctx, r)
		if err != nil {
			slog.Error("error applying receipt",
				"alert_id", r.AlertID,
				"recipient_id", r.RecipientID,
				"channel", r.Channel,
				"error", err,
			)
			return err
		}
		if !applied {
			slog.Debug("receipt ignored",
				"alert_id", r.AlertID,
				"recipient_id", r.RecipientID,
				"channel", r.Channel,
				"outcome", r.Outcome,
			)
			return nil
		}
		slog.Debug("receipt applied",
			"alert_id", r.AlertID,
			"recipient_id", r.RecipientID,
			"channel", r.Channel,
			"outcome", r.Outcome,
		)
		return nil
	}

	m.pool = worker.NewWorkerPool[*models.Receipt](m.cfg.Workers, m.cfg.BufferSize, processor)
	m.pool.Start(ctx)

	for _, src := range m.sources {
		m.wg.Add(1)
		go m.runSource(ctx, src)
	}
}

func (m *Manager) runSource(ctx context.Context, src Source) {
	defer m.wg.Done()
	slog.Info("starting receipt source", "source", src.Name())

	if err := src.Run(ctx, m.Submit); err != nil && ctx.Err() == nil {
		slog.Error("receipt source stopped", "source", src.Name(), "error", err)
		return
	}
	slog.Info("receipt source shutting down", "source", src.Name())
}

// Submit validates a receipt and queues it. Receipts are applied out of
// order; the ledger only ever moves an outcome forward.
func (m *Manager) Submit(ctx context.Context, r *models.Receipt) error {
	if err := ValidateReceipt(r); err != nil {
		return err
	}
	return m.pool.Submit(ctx, r)
}

// Stop waits for the sources (cancel their context first), then drains the
// queue.
func (m *Manager) Stop() {
	m.wg.Wait()
	if m.pool != nil {
		m.pool.Stop()
	}
	slog.Info("ingestion manager stopped")
}

func ValidateReceipt(r *models.Receipt) error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: empty", ErrInvalidReceipt)
	case r.AlertID == "":
		return fmt.Errorf("%w: alert_id is required", ErrInvalidReceipt)
	case r.RecipientID == "":
		return fmt.Errorf("%w: recipient_id is required", ErrInvalidReceipt)
	case !r.Channel.Valid():
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidReceipt, r.Channel)
	case !r.Outcome.Valid():
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidReceipt, r.Outcome)
	case r.Outcome == models.OutcomeSent:
		return fmt.Errorf("%w: sent is recorded at dispatch, not by receipt", ErrInvalidReceipt)
	}
	return nil
}
