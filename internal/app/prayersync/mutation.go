package prayersync

import (
	"fmt"

	"github.com/salah-ledger/salah/internal/domain"
)

// ─── Mutation Lifecycle ─────────────────────────────────────────────────────
//
//	Intent → Applied → Committed → Confirmed
//	             ↘ Reverted
//	             ↘ Abandoned   (superseded; nothing restored)

// Phase is the lifecycle position of one status update.
type Phase int

const (
	PhaseIntent Phase = iota
	PhaseApplied
	PhaseCommitted
	PhaseConfirmed
	PhaseReverted
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseIntent:
		return "intent"
	case PhaseApplied:
		return "applied"
	case PhaseCommitted:
		return "committed"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseReverted:
		return "reverted"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further transition is allowed.
func (p Phase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseReverted || p == PhaseAbandoned
}

var transitions = map[Phase][]Phase{
	PhaseIntent:    {PhaseApplied, PhaseAbandoned},
	PhaseApplied:   {PhaseCommitted, PhaseReverted, PhaseAbandoned},
	PhaseCommitted: {PhaseConfirmed, PhaseAbandoned},
}

// mutation carries everything needed to confirm or revert one update.
type mutation struct {
	id     string
	userID string
	gen    uint64
	phase  Phase

	slot   domain.PrayerSlot
	status domain.PrayerStatus

	prevDay   domain.PrayerDay
	prevTotal int64
	next      domain.PrayerDay
	delta     int
	rollover  bool

	committedTotal int64
}

func newMutation(id, userID string, gen uint64, slot domain.PrayerSlot, status domain.PrayerStatus) *mutation {
	return &mutation{id: id, userID: userID, gen: gen, slot: slot, status: status}
}

// advance moves to next if the lifecycle allows it.
func (m *mutation) advance(next Phase) error {
	for _, allowed := range transitions[m.phase] {
		if allowed == next {
			m.phase = next
			return nil
		}
	}
	return fmt.Errorf("mutation %s: invalid transition %s → %s", m.id, m.phase, next)
}
