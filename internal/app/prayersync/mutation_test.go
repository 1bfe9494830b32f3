package prayersync

import (
	"testing"

	"github.com/salah-ledger/salah/internal/domain"
)

func TestMutation_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []Phase
		wantErr bool
	}{
		{"confirm", []Phase{PhaseApplied, PhaseCommitted, PhaseConfirmed}, false},
		{"revert", []Phase{PhaseApplied, PhaseReverted}, false},
		{"abandon after apply", []Phase{PhaseApplied, PhaseAbandoned}, false},
		{"abandon after commit", []Phase{PhaseApplied, PhaseCommitted, PhaseAbandoned}, false},
		{"revert after commit", []Phase{PhaseApplied, PhaseCommitted, PhaseReverted}, true},
		{"confirm without commit", []Phase{PhaseApplied, PhaseConfirmed}, true},
		{"commit before apply", []Phase{PhaseCommitted}, true},
		{"leave terminal", []Phase{PhaseApplied, PhaseReverted, PhaseApplied}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMutation("m1", "u1", 0, domain.Fajr, domain.StatusOnTime)
			var err error
			for _, p := range tt.path {
				if err = m.advance(p); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("advance(%v) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestPhase_Terminal(t *testing.T) {
	terminal := map[Phase]bool{
		PhaseIntent:    false,
		PhaseApplied:   false,
		PhaseCommitted: false,
		PhaseConfirmed: true,
		PhaseReverted:  true,
		PhaseAbandoned: true,
	}
	for p, want := range terminal {
		if got := p.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", p, got, want)
		}
	}
	if got := Phase(42).String(); got != "phase(42)" {
		t.Errorf("String() = %q, want %q", got, "phase(42)")
	}
}
