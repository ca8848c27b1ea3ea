package epoch

import (
	"errors"
	"fmt"
	"time"
)

// ErrScheduleInvalid is returned for schedules whose boundaries are not
// strictly increasing or whose cadence is shorter than one full cycle.
var ErrScheduleInvalid = errors.New("epoch schedule invalid")

// Phase is the position of an instant inside one vault cycle. It is always
// recomputed from the schedule boundaries, never stored.
type Phase string

const (
	PhasePreEpoch      Phase = "PRE_EPOCH"
	PhaseDepositsOpen  Phase = "DEPOSITS_OPEN"
	PhasePreAuction    Phase = "DEPOSITS_CLOSED_PRE_AUCTION"
	PhaseAuctionLive   Phase = "AUCTION_LIVE"
	PhasePreSettlement Phase = "AUCTION_ENDED_PRE_SETTLEMENT"
	PhaseSettlement    Phase = "SETTLEMENT"
)

// Schedule holds the six boundaries of one cycle as unix seconds, plus the
// cadence used to derive the next cycle. Boundaries are inclusive on the
// opening side and exclusive on the closing side.
type Schedule struct {
	StartEpoch      int64 `json:"start_epoch" yaml:"start_epoch"`
	EndDeposits     int64 `json:"end_deposits" yaml:"end_deposits"`
	StartAuction    int64 `json:"start_auction" yaml:"start_auction"`
	EndAuction      int64 `json:"end_auction" yaml:"end_auction"`
	StartSettlement int64 `json:"start_settlement" yaml:"start_settlement"`
	EndEpoch        int64 `json:"end_epoch" yaml:"end_epoch"`
	Cadence         int64 `json:"cadence" yaml:"cadence"`
}

func (s Schedule) Validate() error {
	if !(s.StartEpoch < s.EndDeposits &&
		s.EndDeposits < s.StartAuction &&
		s.StartAuction < s.EndAuction &&
		s.EndAuction < s.StartSettlement &&
		s.StartSettlement < s.EndEpoch) {
		return fmt.Errorf("%w: boundaries not strictly increasing", ErrScheduleInvalid)
	}
	if s.Cadence < s.EndEpoch-s.StartEpoch {
		return fmt.Errorf("%w: cadence %d shorter than cycle %d", ErrScheduleInvalid, s.Cadence, s.EndEpoch-s.StartEpoch)
	}
	return nil
}

// PhaseAt maps an instant to its phase. Instants at or past EndEpoch report
// PhasePreEpoch: the cycle is over and the next one has not been rolled in yet.
func (s Schedule) PhaseAt(t time.Time) (Phase, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	ts := t.Unix()
	switch {
	case ts < s.StartEpoch:
		return PhasePreEpoch, nil
	case ts < s.EndDeposits:
		return PhaseDepositsOpen, nil
	case ts < s.StartAuction:
		return PhasePreAuction, nil
	case ts < s.EndAuction:
		return PhaseAuctionLive, nil
	case ts < s.StartSettlement:
		return PhasePreSettlement, nil
	case ts < s.EndEpoch:
		return PhaseSettlement, nil
	default:
		return PhasePreEpoch, nil
	}
}

// Ended reports whether the instant is at or past the end of this cycle.
func (s Schedule) Ended(t time.Time) bool {
	return t.Unix() >= s.EndEpoch
}

// Next returns the schedule of the following cycle: every boundary advanced
// by one cadence.
func (s Schedule) Next() Schedule {
	return Schedule{
		StartEpoch:      s.StartEpoch + s.Cadence,
		EndDeposits:     s.EndDeposits + s.Cadence,
		StartAuction:    s.StartAuction + s.Cadence,
		EndAuction:      s.EndAuction + s.Cadence,
		StartSettlement: s.StartSettlement + s.Cadence,
		EndEpoch:        s.EndEpoch + s.Cadence,
		Cadence:         s.Cadence,
	}
}
