// Package dispatch fans an alert out to its per-channel audiences and records
// every attempt in the delivery ledger.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mr1hm/go-emergency-alerts/internal/channel"
	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/targeting"
	"github.com/mr1hm/go-emergency-alerts/internal/worker"
)

type Ledger interface {
	AppendAttempt(ctx context.Context, e *models.LedgerEntry) error
}

type StatusChecker interface {
	GetStatus(ctx context.Context, id string) (models.AlertStatus, error)
}

type ChannelSummary struct {
	Channel  models.Channel `json:"channel"`
	Targeted int            `json:"targeted"`
	Sent     int            `json:"sent"`
	Failed   int            `json:"failed"`
	Skipped  int            `json:"skipped"`
}

// Summary is the immediate result of one dispatch pass. Interrupted is set
// when the alert left the active state before every batch was sent.
type Summary struct {
	Channels    []ChannelSummary `json:"channels"`
	Interrupted bool             `json:"interrupted"`
}

func (s *Summary) Sent() int {
	n := 0
	for _, c := range s.Channels {
		n += c.Sent
	}
	return n
}

func (s *Summary) Failed() int {
	n := 0
	for _, c := range s.Channels {
		n += c.Failed
	}
	return n
}

func (s *Summary) Channel(ch models.Channel) ChannelSummary {
	for _, c := range s.Channels {
		if c.Channel == ch {
			return c
		}
	}
	return ChannelSummary{Channel: ch}
}

type Engine struct {
	dispatchers channel.Registry
	ledger      Ledger
	status      StatusChecker
	workers     int
	batchSize   int
	limiters    map[models.Channel]*rate.Limiter
	now         func() time.Time
}

func NewEngine(dispatchers channel.Registry, ledger Ledger, status StatusChecker, cfg config.DispatchConfig) *Engine {
	e := &Engine{
		dispatchers: dispatchers,
		ledger:      ledger,
		status:      status,
		workers:     cfg.Workers,
		batchSize:   cfg.BatchSize,
		limiters:    make(map[models.Channel]*rate.Limiter),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if e.workers < 1 {
		e.workers = 1
	}
	if e.batchSize < 1 {
		e.batchSize = 1
	}

	rates := map[models.Channel]float64{
		models.ChannelSMS:   cfg.SMSRate,
		models.ChannelPush:  cfg.PushRate,
		models.ChannelEmail: cfg.EmailRate,
	}
	for ch, perSec := range rates {
		if perSec <= 0 {
			continue
		}
		burst := int(perSec)
		if burst < 1 {
			burst = 1
		}
		e.limiters[ch] = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	return e
}

type job struct {
	recipient models.Recipient
	done      *sync.WaitGroup
}

// Run dispatches alert to every audience, one goroutine per channel, and
// returns once the pass completes. Provider failures become failed ledger
// rows; they are never returned.
func (e *Engine) Run(ctx context.Context, alert *models.Alert, audiences []targeting.Audience) *Summary {
	log := logging.ForAlert(alert.ID)
	start := time.Now()

	results := make([]ChannelSummary, len(audiences))
	interrupted := make([]bool, len(audiences))

	var wg sync.WaitGroup
	for i, aud := range audiences {
		wg.Add(1)
		go func(i int, aud targeting.Audience) {
			defer wg.Done()
			results[i], interrupted[i] = e.runChannel(ctx, alert, aud, log)
		}(i, aud)
	}
	wg.Wait()

	sum := &Summary{Channels: results}
	for _, stopped := range interrupted {
		if stopped {
			sum.Interrupted = true
		}
	}

	log.Info("dispatch pass complete",
		"sent", sum.Sent(),
		"failed", sum.Failed(),
		"interrupted", sum.Interrupted,
		"duration", time.Since(start),
	)
	return sum
}

func (e *Engine) runChannel(ctx context.Context, alert *models.Alert, aud targeting.Audience, log *slog.Logger) (ChannelSummary, bool) {
	ch := aud.Channel
	log = log.With("channel", ch)

	var (
		mu  sync.Mutex
		sum = ChannelSummary{Channel: ch, Targeted: aud.Size()}
	)
	count := func(o models.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if o.Successful() {
			sum.Sent++
		} else {
			sum.Failed++
		}
	}

	if !e.stillActive(ctx, alert.ID, log) {
		sum.Skipped = aud.Size()
		log.Info("dispatch halted before start", "remaining", aud.Size())
		return sum, true
	}

	for _, rej := range aud.Unreachable {
		e.record(ctx, alert.ID, rej.Recipient.ID, ch, models.OutcomeFailed, "", rej.Reason, log)
		count(models.OutcomeFailed)
	}

	d, ok := e.dispatchers[ch]
	if !ok {
		d = channel.Disabled{Ch: ch}
	}
	limiter := e.limiters[ch]

	pool := worker.NewWorkerPool[job](e.workers, e.batchSize, func(ctx context.Context, j job) error {
		defer j.done.Done()
		r := j.recipient

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				mu.Lock()
				sum.Skipped++
				mu.Unlock()
				return err
			}
		}

		ref, err := d.Dispatch(ctx, alert, &r)
		if err != nil {
			log.Warn("dispatch failed", "recipient_id", r.ID, "error", err)
			e.record(ctx, alert.ID, r.ID, ch, models.OutcomeFailed, "", err.Error(), log)
			count(models.OutcomeFailed)
			return err
		}
		e.record(ctx, alert.ID, r.ID, ch, models.OutcomeSent, ref, "", log)
		count(models.OutcomeSent)
		return nil
	})
	pool.Start(ctx)
	defer pool.Stop()

	stopped := false
	for off := 0; off < len(aud.Reachable); off += e.batchSize {
		end := off + e.batchSize
		if end > len(aud.Reachable) {
			end = len(aud.Reachable)
		}

		if !e.stillActive(ctx, alert.ID, log) {
			mu.Lock()
			sum.Skipped += len(aud.Reachable) - off
			mu.Unlock()
			stopped = true
			log.Info("dispatch halted", "remaining", len(aud.Reachable)-off)
			break
		}

		var batch sync.WaitGroup
		for _, r := range aud.Reachable[off:end] {
			batch.Add(1)
			if err := pool.Submit(ctx, job{recipient: r, done: &batch}); err != nil {
				batch.Done()
				mu.Lock()
				sum.Skipped++
				mu.Unlock()
			}
		}
		batch.Wait()
	}

	mu.Lock()
	defer mu.Unlock()
	return sum, stopped
}

func (e *Engine) stillActive(ctx context.Context, alertID string, log *slog.Logger) bool {
	status, err := e.status.GetStatus(ctx, alertID)
	if err != nil {
		log.Error("failed to check alert status", "error", err)
		return false
	}
	return status == models.AlertStatusActive
}

func (e *Engine) record(ctx context.Context, alertID, recipientID string, ch models.Channel, outcome models.Outcome, ref, detail string, log *slog.Logger) {
	now := e.now()
	entry := &models.LedgerEntry{
		AlertID:     alertID,
		RecipientID: recipientID,
		Channel:     ch,
		Outcome:     outcome,
		ProviderRef: ref,
		ErrorDetail: detail,
		AttemptedAt: now,
		UpdatedAt:   now,
	}
	if err := e.ledger.AppendAttempt(ctx, entry); err != nil {
		log.Error("failed to record delivery attempt",
			"recipient_id", recipientID,
			"outcome", outcome,
			"error", err,
		)
	}
}
