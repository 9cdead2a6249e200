package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mr1hm/go-emergency-alerts/internal/channel"
	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/dispatch"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ptr[T any](v T) *T {
	return &v
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSMS fails recipients listed in fail; entries can be cleared to let a
// resend succeed.
type fakeSMS struct {
	mu     sync.Mutex
	fail   map[string]bool
	calls  int
	onCall func()
}

func (f *fakeSMS) Channel() models.Channel {
	return models.ChannelSMS
}

func (f *fakeSMS) Dispatch(ctx context.Context, a *models.Alert, r *models.Recipient) (string, error) {
	f.mu.Lock()
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[r.ID] {
		return "", &channel.ProviderError{Channel: models.ChannelSMS, StatusCode: 503, Body: "gateway busy"}
	}
	return "sms-" + r.ID, nil
}

func (f *fakeSMS) setFail(id string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[id] = fail
}

func (f *fakeSMS) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.AlertEvent
}

func (r *eventRecorder) Broadcast(e *models.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	db     *repository.SQLiteDB
	svc    *Service
	sms    *fakeSMS
	events *eventRecorder
	clock  *testClock
}

const (
	centerLat = -1.9441
	centerLng = 30.0619
)

func newTestEnv(t *testing.T, grace time.Duration) *testEnv {
	t.Helper()
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sms := &fakeSMS{fail: make(map[string]bool)}
	engine := dispatch.NewEngine(
		channel.NewRegistry(sms, channel.NewWebDispatcher(nil)),
		db, db,
		config.DispatchConfig{Workers: 4, BatchSize: 5},
	)
	events := &eventRecorder{}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(db, engine, events, config.ResponseConfig{ExpiredGrace: grace}).WithClock(clock.Now)

	return &testEnv{db: db, svc: svc, sms: sms, events: events, clock: clock}
}

// seedRecipients adds n recipients around the center, the first verified of
// them with a verified phone.
func (e *testEnv) seedRecipients(t *testing.T, n, verified int) {
	t.Helper()
	for i := 0; i < n; i++ {
		r := &models.Recipient{
			ID:        fmt.Sprintf("r%02d", i),
			Name:      fmt.Sprintf("Citizen %d", i),
			Latitude:  ptr(centerLat + 0.001*float64(i)),
			Longitude: ptr(centerLng),
			OptInSMS:  true,
			Active:    true,
		}
		if i < verified {
			r.Phone = fmt.Sprintf("+2507880000%02d", i)
			r.PhoneVerified = true
		}
		if err := e.db.UpsertRecipient(context.Background(), r); err != nil {
			t.Fatalf("failed to seed recipient: %v", err)
		}
	}
}

func smsInput() AlertInput {
	return AlertInput{
		Title:    "Flash flood",
		Message:  "Move away from the river banks",
		Severity: models.AlertSeveritySevere,
		Targeting: models.Targeting{
			CenterLat: ptr(centerLat),
			CenterLng: ptr(centerLng),
			RadiusKm:  ptr(5.0),
		},
		Channels: models.ChannelSet{SMS: true},
	}
}

func (e *testEnv) attempts(t *testing.T, alertID string) int {
	t.Helper()
	n, err := e.db.CountAttempts(context.Background(), alertID)
	if err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	return n
}

func TestActivate_PartialFailureScenario(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 10, 8)
	ctx := context.Background()

	a, err := env.svc.CreateAlert(ctx, smsInput(), "operator-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.PriorityScore != 80 {
		t.Errorf("expected priority score 80, got %d", a.PriorityScore)
	}
	if env.attempts(t, a.ID) != 0 {
		t.Fatal("draft must have no ledger rows")
	}

	act, err := env.svc.ActivateAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	sms := act.Summary.Channel(models.ChannelSMS)
	if sms.Sent != 8 || sms.Failed != 2 {
		t.Errorf("expected sent=8 failed=2, got %+v", sms)
	}
	if act.TotalTargetUsers != 10 {
		t.Errorf("expected total_target_users=10, got %d", act.TotalTargetUsers)
	}
	if act.Alert.Status != models.AlertStatusActive || act.Alert.IssuedAt == nil {
		t.Errorf("expected active alert with issued_at, got %+v", act.Alert)
	}

	status, err := env.svc.GetAlertDeliveryStatus(ctx, a.ID)
	if err != nil {
		t.Fatalf("delivery status: %v", err)
	}
	if status.TotalTargetUsers != 10 || status.Channels[0].SuccessRate != 80 {
		t.Errorf("unexpected delivery status %+v", status)
	}
}

func TestDeliveryStatus_AfterCancelMidDispatch(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 10, 10)
	ctx := context.Background()

	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")

	var once sync.Once
	env.sms.onCall = func() {
		once.Do(func() {
			if _, err := env.svc.CancelAlert(ctx, a.ID); err != nil {
				t.Errorf("cancel: %v", err)
			}
		})
	}

	act, err := env.svc.ActivateAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	sms := act.Summary.Channel(models.ChannelSMS)
	if !act.Summary.Interrupted || sms.Sent != 5 || sms.Skipped != 5 {
		t.Fatalf("expected the second batch to be skipped, got %+v", act.Summary)
	}

	status, err := env.svc.GetAlertDeliveryStatus(ctx, a.ID)
	if err != nil {
		t.Fatalf("delivery status: %v", err)
	}
	got := status.Channels[0]
	if got.Targeted != 10 || got.Sent != 5 || got.SuccessRate != 50 {
		t.Errorf("expected 10 targeted at 50%%, got %+v", got)
	}
	if status.TotalTargetUsers != act.TotalTargetUsers {
		t.Errorf("expected total_target_users %d, got %d", act.TotalTargetUsers, status.TotalTargetUsers)
	}
	if status.DeliveryRate != 50 {
		t.Errorf("expected delivery rate 50, got %d", status.DeliveryRate)
	}
}

func TestActivate_RejectsNonDraft(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 3, 3)
	ctx := context.Background()

	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")
	if _, err := env.svc.ActivateAlert(ctx, a.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	before := env.attempts(t, a.ID)

	_, err := env.svc.ActivateAlert(ctx, a.ID)
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected StateConflict, got %v", err)
	}
	if env.attempts(t, a.ID) != before {
		t.Error("re-activation must not create ledger rows")
	}
}

func TestCreate_RejectsMultiLineTitle(t *testing.T) {
	env := newTestEnv(t, 0)

	in := smsInput()
	in.Title = "Flood\r\nBcc: victim@example.com"
	_, err := env.svc.CreateAlert(context.Background(), in, "op")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "title" {
		t.Errorf("expected title ValidationError, got %v", err)
	}
}

func TestActivate_ValidationLeavesNoRows(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 3, 3)
	ctx := context.Background()

	in := smsInput()
	in.Message = "   "
	a, err := env.svc.CreateAlert(ctx, in, "op")
	if err != nil {
		t.Fatalf("drafts may be incomplete: %v", err)
	}

	_, err = env.svc.ActivateAlert(ctx, a.ID)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "message" {
		t.Fatalf("expected message ValidationError, got %v", err)
	}
	if env.attempts(t, a.ID) != 0 {
		t.Error("failed activation must not create ledger rows")
	}
	got, _ := env.svc.GetAlert(ctx, a.ID)
	if got.Status != models.AlertStatusDraft {
		t.Errorf("expected alert to stay draft, got %s", got.Status)
	}
}

func TestActivate_ValidationRules(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	noChannels := smsInput()
	noChannels.Channels = models.ChannelSet{}
	a, _ := env.svc.CreateAlert(ctx, noChannels, "op")
	if _, err := env.svc.ActivateAlert(ctx, a.ID); !IsValidation(err) {
		t.Errorf("expected validation error without channels, got %v", err)
	}

	zeroRadius := smsInput()
	zeroRadius.Targeting.RadiusKm = ptr(0.0)
	b, _ := env.svc.CreateAlert(ctx, zeroRadius, "op")
	if _, err := env.svc.ActivateAlert(ctx, b.ID); !IsValidation(err) {
		t.Errorf("expected validation error for zero radius, got %v", err)
	}
}

func TestCreate_RejectsMixedTargeting(t *testing.T) {
	env := newTestEnv(t, 0)

	in := smsInput()
	in.Targeting.LocationID = "kigali"
	if _, err := env.svc.CreateAlert(context.Background(), in, "op"); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	partial := smsInput()
	partial.Targeting.RadiusKm = nil
	if _, err := env.svc.CreateAlert(context.Background(), partial, "op"); !IsValidation(err) {
		t.Errorf("expected validation error for incomplete point, got %v", err)
	}
}

func TestUpdateDraft(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 2, 2)
	ctx := context.Background()

	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")

	in := smsInput()
	in.Title = "Flash flood update"
	in.Severity = models.AlertSeverityExtreme
	updated, err := env.svc.UpdateDraft(ctx, a.ID, in)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.PriorityScore != 100 || updated.Title != "Flash flood update" {
		t.Errorf("unexpected update result %+v", updated)
	}

	if _, err := env.svc.ActivateAlert(ctx, a.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := env.svc.UpdateDraft(ctx, a.ID, in); !errors.Is(err, ErrStateConflict) {
		t.Errorf("expected StateConflict editing an active alert, got %v", err)
	}
}

func TestResend_Idempotent(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 6, 4)
	ctx := context.Background()

	env.sms.setFail("r01", true)
	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")
	act, err := env.svc.ActivateAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	// r01 rejected by the provider, r04 and r05 have no phone
	if act.Summary.Failed() != 3 {
		t.Fatalf("expected 3 failures, got %+v", act.Summary)
	}

	env.sms.setFail("r01", false)
	callsBefore := env.sms.callCount()

	sum, err := env.svc.ResendFailedNotifications(ctx, a.ID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if sum.Sent() != 1 || sum.Failed() != 0 {
		t.Errorf("expected only r01 to be resent, got %+v", sum)
	}
	if env.sms.callCount() != callsBefore+1 {
		t.Errorf("expected one provider call, got %d", env.sms.callCount()-callsBefore)
	}

	history, err := env.db.History(ctx, models.LedgerKey{AlertID: a.ID, RecipientID: "r01", Channel: models.ChannelSMS})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Outcome != models.OutcomeFailed || history[1].Outcome != models.OutcomeSent {
		t.Errorf("expected failed then sent attempts, got %+v", history)
	}

	rows := env.attempts(t, a.ID)
	if _, err := env.svc.ResendFailedNotifications(ctx, a.ID); err != nil {
		t.Fatalf("second resend: %v", err)
	}
	if env.attempts(t, a.ID) != rows {
		t.Error("second resend must not create ledger rows")
	}
}

func TestResend_ConcurrentCallsSendOnce(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 3, 3)
	ctx := context.Background()

	env.sms.setFail("r01", true)
	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")
	if _, err := env.svc.ActivateAlert(ctx, a.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	env.sms.setFail("r01", false)
	callsBefore := env.sms.callCount()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.ResendFailedNotifications(ctx, a.ID); err != nil {
				t.Errorf("resend: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls := env.sms.callCount() - callsBefore; calls != 1 {
		t.Errorf("expected r01 to be resent once, got %d provider calls", calls)
	}
	history, err := env.db.History(ctx, models.LedgerKey{AlertID: a.ID, RecipientID: "r01", Channel: models.ChannelSMS})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected 2 attempts for r01, got %d", len(history))
	}
	if env.svc.passes.held() != 0 {
		t.Error("expected per-alert locks to be released")
	}
}

func TestResend_BlockedAfterCancel(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 3, 1)
	ctx := context.Background()

	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")
	if _, err := env.svc.ActivateAlert(ctx, a.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if _, err := env.svc.CancelAlert(ctx, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	again, err := env.svc.CancelAlert(ctx, a.ID)
	if err != nil || again.Status != models.AlertStatusCancelled {
		t.Fatalf("cancel must be idempotent, got %v %v", again, err)
	}

	_, err = env.svc.ResendFailedNotifications(ctx, a.ID)
	if !errors.Is(err, ErrAlertNotActive) || !errors.Is(err, ErrStateConflict) {
		t.Errorf("expected AlertNotActive, got %v", err)
	}
}

func TestCancel_DraftConflicts(t *testing.T) {
	env := newTestEnv(t, 0)
	a, _ := env.svc.CreateAlert(context.Background(), smsInput(), "op")

	if _, err := env.svc.CancelAlert(context.Background(), a.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("expected StateConflict, got %v", err)
	}
}

func TestArchive(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 1, 1)
	ctx := context.Background()

	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")
	if _, err := env.svc.ArchiveAlert(ctx, a.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("expected drafts not to be archivable, got %v", err)
	}

	env.svc.ActivateAlert(ctx, a.ID)
	archived, err := env.svc.ArchiveAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived.Status != models.AlertStatusArchived || archived.ArchivedAt == nil {
		t.Errorf("unexpected archived alert %+v", archived)
	}
	if _, err := env.svc.ArchiveAlert(ctx, a.ID); err != nil {
		t.Errorf("archiving twice must be a no-op, got %v", err)
	}
	if _, err := env.svc.CancelAlert(ctx, a.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("archived alerts are read-only, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	if _, err := env.svc.GetAlert(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := env.svc.ActivateAlert(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := env.svc.ListActiveAlertsForRecipient(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestRespond_LatestStatusWins(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 2, 2)
	ctx := context.Background()

	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")
	env.svc.ActivateAlert(ctx, a.ID)

	if _, err := env.svc.RespondToAlert(ctx, a.ID, "r00", models.ResponseSafe, ""); err != nil {
		t.Fatalf("respond: %v", err)
	}
	env.clock.Advance(time.Minute)
	resp, err := env.svc.RespondToAlert(ctx, a.ID, "r00", models.ResponseEvacuated, "moved to the stadium")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !resp.UpdatedAt.After(resp.CreatedAt) {
		t.Errorf("expected created_at to be preserved, got %+v", resp)
	}

	stored, _ := env.db.GetResponse(ctx, a.ID, "r00")
	if stored.Status != models.ResponseEvacuated {
		t.Errorf("expected evacuated, got %s", stored.Status)
	}

	status, _ := env.svc.GetAlertDeliveryStatus(ctx, a.ID)
	if status.Responses.Evacuated != 1 || status.Responses.Safe != 0 || status.Responses.Total != 1 {
		t.Errorf("expected counts of the latest status only, got %+v", status.Responses)
	}
	if status.Responses.WithFeedback != 1 {
		t.Errorf("expected one response with feedback, got %d", status.Responses.WithFeedback)
	}

	log, _ := env.db.ResponseLog(ctx, a.ID, "r00")
	if len(log) != 2 {
		t.Errorf("expected both submissions in the log, got %d", len(log))
	}
}

func TestRespond_Rejections(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 1, 1)
	ctx := context.Background()

	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")
	if _, err := env.svc.RespondToAlert(ctx, a.ID, "r00", models.ResponseSafe, ""); !errors.Is(err, ErrAlertNotActive) {
		t.Errorf("expected AlertNotActive for a draft, got %v", err)
	}

	env.svc.ActivateAlert(ctx, a.ID)
	if _, err := env.svc.RespondToAlert(ctx, a.ID, "r00", "fine", ""); !IsValidation(err) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
	if _, err := env.svc.RespondToAlert(ctx, a.ID, "stranger", models.ResponseSafe, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFound for an unaddressed recipient, got %v", err)
	}

	env.svc.CancelAlert(ctx, a.ID)
	if _, err := env.svc.RespondToAlert(ctx, a.ID, "r00", models.ResponseSafe, ""); !errors.Is(err, ErrAlertNotActive) {
		t.Errorf("expected AlertNotActive for a cancelled alert, got %v", err)
	}
}

func activateExpiring(t *testing.T, env *testEnv, ttl time.Duration) *models.Alert {
	t.Helper()
	ctx := context.Background()
	in := smsInput()
	in.ExpiresAt = ptr(env.clock.Now().Add(ttl))
	a, err := env.svc.CreateAlert(ctx, in, "op")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.ActivateAlert(ctx, a.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return a
}

func TestRespond_ExpiredWithoutGrace(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 1, 1)
	a := activateExpiring(t, env, time.Hour)

	env.clock.Advance(2 * time.Hour)
	_, err := env.svc.RespondToAlert(context.Background(), a.ID, "r00", models.ResponseSafe, "")
	if !errors.Is(err, ErrAlertNotActive) {
		t.Errorf("expected expired alert to reject responses, got %v", err)
	}
}

func TestRespond_ExpiredWithinGrace(t *testing.T) {
	env := newTestEnv(t, 2*time.Hour)
	env.seedRecipients(t, 1, 1)
	a := activateExpiring(t, env, time.Hour)
	ctx := context.Background()

	env.clock.Advance(90 * time.Minute)
	if _, err := env.svc.RespondToAlert(ctx, a.ID, "r00", models.ResponseSafe, ""); err != nil {
		t.Errorf("expected response within grace to be accepted, got %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.svc.RespondToAlert(ctx, a.ID, "r00", models.ResponseSafe, ""); !errors.Is(err, ErrAlertNotActive) {
		t.Errorf("expected response after grace to be rejected, got %v", err)
	}
}

func TestLazyExpiryAndSweep(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 1, 1)
	ctx := context.Background()

	lazy := activateExpiring(t, env, time.Hour)
	swept := activateExpiring(t, env, time.Hour)
	env.clock.Advance(2 * time.Hour)

	got, err := env.svc.GetAlert(ctx, lazy.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.AlertStatusExpired {
		t.Errorf("expected lazy expiry on read, got %s", got.Status)
	}

	n, err := env.svc.ExpireDue(ctx)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the sweep to expire the remaining alert, got %d", n)
	}
	status, _ := env.db.GetStatus(ctx, swept.ID)
	if status != models.AlertStatusExpired {
		t.Errorf("expected swept alert to be expired, got %s", status)
	}

	expired := 0
	for _, typ := range env.events.types() {
		if typ == models.AlertEventExpired {
			expired++
		}
	}
	if expired != 2 {
		t.Errorf("expected 2 expired events, got %d", expired)
	}

	if _, err := env.svc.ResendFailedNotifications(ctx, swept.ID); !errors.Is(err, ErrAlertNotActive) {
		t.Errorf("expected resend on expired alert to fail, got %v", err)
	}
}

func TestListActiveAlertsForRecipient(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 1, 1)
	ctx := context.Background()

	far := &models.Recipient{ID: "far", Latitude: ptr(-2.6), Longitude: ptr(29.74), Active: true}
	env.db.UpsertRecipient(ctx, far)

	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")
	env.svc.ActivateAlert(ctx, a.ID)
	env.svc.CreateAlert(ctx, smsInput(), "op") // stays draft

	near, err := env.svc.ListActiveAlertsForRecipient(ctx, "r00")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(near) != 1 || near[0].ID != a.ID {
		t.Errorf("expected only the active covering alert, got %+v", near)
	}

	none, err := env.svc.ListActiveAlertsForRecipient(ctx, "far")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no alerts outside the radius, got %d", len(none))
	}
}

func TestPublicListingAndWebChannel(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	in := smsInput()
	in.Channels = models.ChannelSet{Web: true}
	a, _ := env.svc.CreateAlert(ctx, in, "op")
	act, err := env.svc.ActivateAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	web := act.Summary.Channel(models.ChannelWeb)
	if web.Targeted != 1 || web.Sent != 1 {
		t.Errorf("expected one public ledger entry, got %+v", web)
	}
	if act.TotalTargetUsers != 0 {
		t.Errorf("web publishing has no individual recipients, got %d", act.TotalTargetUsers)
	}

	public, err := env.svc.ListPublicAlerts(ctx)
	if err != nil {
		t.Fatalf("public list: %v", err)
	}
	if len(public) != 1 || public[0].ID != a.ID {
		t.Errorf("expected the published alert, got %+v", public)
	}

	env.svc.CancelAlert(ctx, a.ID)
	public, _ = env.svc.ListPublicAlerts(ctx)
	if len(public) != 0 {
		t.Errorf("cancelled alerts leave the public listing, got %d", len(public))
	}
}

func TestLifecycleEvents(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 2, 2)
	ctx := context.Background()

	a, _ := env.svc.CreateAlert(ctx, smsInput(), "op")
	env.svc.ActivateAlert(ctx, a.ID)
	env.svc.CancelAlert(ctx, a.ID)
	env.svc.ArchiveAlert(ctx, a.ID)

	got := env.events.types()
	want := []string{models.AlertEventActivated, models.AlertEventCancelled, models.AlertEventArchived}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSweeper_StartStop(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedRecipients(t, 1, 1)
	a := activateExpiring(t, env, time.Minute)
	env.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	sw := NewSweeper(env.svc, time.Hour)
	sw.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, _ := env.db.GetStatus(context.Background(), a.ID)
		if status == models.AlertStatusExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not expire the alert on its initial pass")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	sw.Stop()
}
