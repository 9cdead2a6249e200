package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockStore implements ReceiptStore for testing
type mockStore struct {
	mu       sync.Mutex
	receipts []models.Receipt
	applied  atomic.Int64
}

func (m *mockStore) ApplyReceipt(ctx context.Context, r *models.Receipt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts = append(m.receipts, *r)
	m.applied.Add(1)
	return true, nil
}

func testConfig(workers, buffer int) config.IngestConfig {
	return config.IngestConfig{Workers: workers, BufferSize: buffer}
}

func receipt(i int, o models.Outcome) *models.Receipt {
	return &models.Receipt{
		AlertID:     "alert-1",
		RecipientID: fmt.Sprintf("r%d", i),
		Channel:     models.ChannelSMS,
		Outcome:     o,
		ReportedAt:  time.Now(),
	}
}

func TestManager_StartStop(t *testing.T) {
	mgr := NewManager(testConfig(2, 10), &mockStore{})

	ctx, cancel := context.WithCancel(context.Background())

	// Start should not block
	mgr.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	cancel()
	mgr.Stop()
}

func TestManager_ConcurrentSubmit(t *testing.T) {
	store := &mockStore{}
	mgr := NewManager(testConfig(4, 100), store)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	var wg sync.WaitGroup
	numGoroutines := 10
	numPerGoroutine := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < numPerGoroutine; j++ {
				if err := mgr.Submit(ctx, receipt(goroutineID*1000+j, models.OutcomeDelivered)); err != nil {
					t.Errorf("submit: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	cancel()
	mgr.Stop()

	expected := numGoroutines * numPerGoroutine
	if actual := int(store.applied.Load()); actual != expected {
		t.Errorf("expected %d receipts applied, got %d", expected, actual)
	}
}

func TestManager_RejectsInvalidReceipts(t *testing.T) {
	mgr := NewManager(testConfig(1, 10), &mockStore{})
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	defer func() {
		cancel()
		mgr.Stop()
	}()

	bad := []*models.Receipt{
		nil,
		{RecipientID: "r1", Channel: models.ChannelSMS, Outcome: models.OutcomeRead},
		{AlertID: "a1", Channel: models.ChannelSMS, Outcome: models.OutcomeRead},
		{AlertID: "a1", RecipientID: "r1", Channel: "fax", Outcome: models.OutcomeRead},
		{AlertID: "a1", RecipientID: "r1", Channel: models.ChannelSMS, Outcome: "bounced"},
		{AlertID: "a1", RecipientID: "r1", Channel: models.ChannelSMS, Outcome: models.OutcomeSent},
	}
	for i, r := range bad {
		if err := mgr.Submit(ctx, r); !errors.Is(err, ErrInvalidReceipt) {
			t.Errorf("receipt %d: expected ErrInvalidReceipt, got %v", i, err)
		}
	}
}

// Out-of-order and duplicate receipts against the real ledger never move an
// outcome backwards.
func TestManager_OutOfOrderReceipts(t *testing.T) {
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	defer db.Close()

	bg := context.Background()
	entry := &models.LedgerEntry{
		AlertID: "alert-1", RecipientID: "r1", Channel: models.ChannelSMS,
		Outcome: models.OutcomeSent, AttemptedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := db.AppendAttempt(bg, entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	mgr := NewManager(testConfig(1, 10), db)
	ctx, cancel := context.WithCancel(bg)
	mgr.Start(ctx)

	for _, o := range []models.Outcome{models.OutcomeRead, models.OutcomeDelivered, models.OutcomeFailed, models.OutcomeDelivered} {
		if err := mgr.Submit(ctx, receipt(1, o)); err != nil {
			t.Fatalf("submit %s: %v", o, err)
		}
	}
	// drain before cancelling so queued receipts still reach the database
	mgr.Stop()
	cancel()

	latest, err := db.LatestAttempts(bg, "alert-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 1 || latest[0].Outcome != models.OutcomeRead {
		t.Errorf("expected read to stick, got %+v", latest)
	}
}

func TestManager_GracefulShutdown(t *testing.T) {
	mgr := NewManager(testConfig(2, 100), &mockStore{})

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	for i := 0; i < 50; i++ {
		mgr.Submit(ctx, receipt(i, models.OutcomeDelivered))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager.Stop() timed out - possible goroutine leak")
	}
}

// fakeSource pushes a fixed set of receipts then waits for cancellation.
type fakeSource struct {
	receipts []*models.Receipt
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Run(ctx context.Context, submit func(context.Context, *models.Receipt) error) error {
	for _, r := range f.receipts {
		submit(ctx, r)
	}
	<-ctx.Done()
	return nil
}

func TestManager_RunsSources(t *testing.T) {
	store := &mockStore{}
	src := &fakeSource{receipts: []*models.Receipt{
		receipt(1, models.OutcomeDelivered),
		receipt(2, models.OutcomeRead),
	}}
	mgr := NewManager(testConfig(2, 10), store, src)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for store.applied.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	mgr.Stop()

	if store.applied.Load() != 2 {
		t.Errorf("expected 2 receipts from the source, got %d", store.applied.Load())
	}
}

func TestDecodeReceipt(t *testing.T) {
	r, err := decodeReceipt([]byte(`{"alert_id":"a1","recipient_id":"r1","channel":"push","outcome":"read"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.AlertID != "a1" || r.Channel != models.ChannelPush || r.Outcome != models.OutcomeRead {
		t.Errorf("unexpected receipt %+v", r)
	}

	if _, err := decodeReceipt([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

// Requires a running Redis, set REDIS_TEST_ADDR to enable.
func TestRedisSource_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	store := &mockStore{}
	src := NewRedisSource(client, "delivery_receipts_test")
	mgr := NewManager(testConfig(1, 10), store, src)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for store.applied.Load() == 0 && time.Now().Before(deadline) {
		client.Publish(ctx, "delivery_receipts_test",
			`{"alert_id":"a1","recipient_id":"r1","channel":"sms","outcome":"delivered"}`)
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	mgr.Stop()

	if store.applied.Load() == 0 {
		t.Error("expected at least one receipt from redis")
	}
}
