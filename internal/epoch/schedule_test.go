package epoch

import (
	"errors"
	"testing"
	"time"
)

func testSchedule(base int64) Schedule {
	return Schedule{
		StartEpoch:      base,
		EndDeposits:     base + 100,
		StartAuction:    base + 200,
		EndAuction:      base + 300,
		StartSettlement: base + 400,
		EndEpoch:        base + 500,
		Cadence:         600,
	}
}

func TestValidateOrdering(t *testing.T) {
	s := testSchedule(1000)
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid schedule, got %v", err)
	}
	s.StartAuction = s.EndAuction + 1
	if err := s.Validate(); !errors.Is(err, ErrScheduleInvalid) {
		t.Fatalf("expected ErrScheduleInvalid, got %v", err)
	}
}

func TestValidateCadence(t *testing.T) {
	s := testSchedule(1000)
	s.Cadence = 499
	if err := s.Validate(); !errors.Is(err, ErrScheduleInvalid) {
		t.Fatalf("expected ErrScheduleInvalid for short cadence, got %v", err)
	}
	s.Cadence = 500
	if err := s.Validate(); err != nil {
		t.Fatalf("cadence equal to cycle length should be valid, got %v", err)
	}
}

func TestPhaseAtBoundaries(t *testing.T) {
	s := testSchedule(1000)
	cases := []struct {
		ts   int64
		want Phase
	}{
		{999, PhasePreEpoch},
		{1000, PhaseDepositsOpen},
		{1099, PhaseDepositsOpen},
		{1100, PhasePreAuction},
		{1199, PhasePreAuction},
		{1200, PhaseAuctionLive},
		{1299, PhaseAuctionLive},
		{1300, PhasePreSettlement},
		{1400, PhaseSettlement},
		{1499, PhaseSettlement},
		{1500, PhasePreEpoch},
		{2000, PhasePreEpoch},
	}
	for _, tc := range cases {
		got, err := s.PhaseAt(time.Unix(tc.ts, 0))
		if err != nil {
			t.Fatalf("PhaseAt(%d): %v", tc.ts, err)
		}
		if got != tc.want {
			t.Fatalf("PhaseAt(%d): expected %s, got %s", tc.ts, tc.want, got)
		}
	}
}

func TestPhaseAtInvalidSchedule(t *testing.T) {
	s := testSchedule(1000)
	s.EndDeposits = s.StartEpoch
	if _, err := s.PhaseAt(time.Unix(1000, 0)); !errors.Is(err, ErrScheduleInvalid) {
		t.Fatalf("expected ErrScheduleInvalid, got %v", err)
	}
}

func TestNextPreservesShape(t *testing.T) {
	s := testSchedule(1000)
	next := s.Next()
	if next.StartEpoch != 1600 || next.EndEpoch != 2100 {
		t.Fatalf("unexpected next schedule: %+v", next)
	}
	if err := next.Validate(); err != nil {
		t.Fatalf("next schedule should stay valid: %v", err)
	}
	if !s.Ended(time.Unix(1500, 0)) {
		t.Fatalf("cycle should be ended at end_epoch")
	}
	if s.Ended(time.Unix(1499, 0)) {
		t.Fatalf("cycle should not be ended before end_epoch")
	}
}
