package models

import (
	"math"
	"testing"
	"time"
)

func TestOutcome_CanUpgradeTo(t *testing.T) {
	cases := []struct {
		from, to Outcome
		want     bool
	}{
		{OutcomeSent, OutcomeDelivered, true},
		{OutcomeSent, OutcomeRead, true},
		{OutcomeDelivered, OutcomeRead, true},
		{OutcomeRead, OutcomeDelivered, false},
		{OutcomeDelivered, OutcomeDelivered, false},
		{OutcomeSent, OutcomeFailed, true},
		{OutcomeDelivered, OutcomeFailed, false},
		{OutcomeFailed, OutcomeDelivered, false},
	}
	for _, c := range cases {
		if got := c.from.CanUpgradeTo(c.to); got != c.want {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.want, got)
		}
	}
}

func TestSeverity_PriorityScore(t *testing.T) {
	if AlertSeverityInfo.PriorityScore() != 20 || AlertSeverityExtreme.PriorityScore() != 100 {
		t.Errorf("unexpected scores %d, %d", AlertSeverityInfo.PriorityScore(), AlertSeverityExtreme.PriorityScore())
	}
	if AlertSeverity("unknown").PriorityScore() != 0 {
		t.Error("expected 0 for an unknown severity")
	}
}

func TestTargeting_CoverageAreaKm2(t *testing.T) {
	r := 10.0
	tg := Targeting{RadiusKm: &r}
	if got := tg.CoverageAreaKm2(); math.Abs(got-314.159) > 0.01 {
		t.Errorf("expected ~314.16, got %v", got)
	}
	if (Targeting{LocationID: "kigali"}).CoverageAreaKm2() != 0 {
		t.Error("expected 0 without a radius")
	}
}

func TestChannelSet_RequestedOrder(t *testing.T) {
	got := ChannelSet{Web: true, SMS: true, Email: true}.Requested()
	want := []Channel{ChannelSMS, ChannelEmail, ChannelWeb}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestAlert_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	a := &Alert{Status: AlertStatusActive, ExpiresAt: &past}
	if !a.ExpiredAt(now) {
		t.Error("expected active alert past expiry to be expired")
	}
	a.Status = AlertStatusCancelled
	if a.ExpiredAt(now) {
		t.Error("only active alerts expire")
	}
	if (&Alert{Status: AlertStatusActive}).ExpiredAt(now) {
		t.Error("alerts without expiry never expire")
	}
}

func TestResponseCounts_Add(t *testing.T) {
	var c ResponseCounts
	c.Add(ResponseSafe, 2)
	c.Add(ResponseNeedHelp, 1)
	c.Add("bogus", 5)
	if c.Safe != 2 || c.NeedHelp != 1 || c.Total != 3 {
		t.Errorf("unexpected counts %+v", c)
	}
}
