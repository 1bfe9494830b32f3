// Package credit turns a day's five observances into consistency credits.
package credit

import (
	"errors"
	"fmt"

	"github.com/salah-ledger/salah/internal/domain"
)

// ─── Rule Table ─────────────────────────────────────────────────────────────

// BaseTable is the per-slot credit value of each earning status.
// Statuses not listed here earn nothing.
type BaseTable struct {
	OnTime   int `toml:"on_time"`
	AtMasjid int `toml:"at_masjid"`
	AtHome   int `toml:"at_home"`
	Late     int `toml:"late"`
	Qada     int `toml:"qada"`
}

// Value returns the base credit of one status.
func (b BaseTable) Value(s domain.PrayerStatus) int {
	switch s {
	case domain.StatusOnTime:
		return b.OnTime
	case domain.StatusAtMasjid:
		return b.AtMasjid
	case domain.StatusAtHome:
		return b.AtHome
	case domain.StatusLate:
		return b.Late
	case domain.StatusQada:
		return b.Qada
	default:
		return 0
	}
}

// Tier is one step of a streak-keyed curve. Value is a percentage for
// multipliers and a flat credit amount for bonuses.
type Tier struct {
	MinStreak int `toml:"min_streak"`
	Value     int `toml:"value"`
}

// Rules is the full credit configuration.
type Rules struct {
	Base                 BaseTable `toml:"base"`
	NewUserWindowDays    int       `toml:"new_user_window_days"`
	NewUserMultiplierPct int       `toml:"new_user_multiplier_pct"`
	StreakMinimum        int       `toml:"streak_minimum"`
	StreakMultipliers    []Tier    `toml:"streak_multipliers"`
	MaleBonus            []Tier    `toml:"male_bonus"`
	FemaleBonus          []Tier    `toml:"female_bonus"`
}

// DefaultRules returns the stock credit table.
func DefaultRules() Rules {
	return Rules{
		Base: BaseTable{
			OnTime:   10,
			AtMasjid: 9,
			AtHome:   8,
			Late:     6,
			Qada:     4,
		},
		NewUserWindowDays:    7,
		NewUserMultiplierPct: 150,
		StreakMinimum:        3,
		StreakMultipliers: []Tier{
			{3, 110}, {7, 115}, {14, 120}, {30, 130}, {60, 140},
		},
		MaleBonus: []Tier{
			{3, 1}, {7, 2}, {14, 3}, {30, 5}, {60, 8},
		},
		FemaleBonus: []Tier{
			{3, 2}, {7, 3}, {14, 4}, {30, 6}, {60, 10},
		},
	}
}

// ─── Computation ────────────────────────────────────────────────────────────

// CreditsForDay scores one day. The new-user multiplier and the streak
// multiplier with its cohort bonus are mutually exclusive. A qualifying
// streak earns its cohort bonus even on a day with no base credits.
func (r Rules) CreditsForDay(statuses [domain.SlotCount]domain.PrayerStatus, ctx domain.CreditContext) int {
	sum := 0
	for _, s := range statuses {
		sum += r.Base.Value(s)
	}

	if r.IsNewUser(ctx.AccountAgeDays) {
		return sum * r.NewUserMultiplierPct / 100
	}
	if ctx.CurrentStreak < r.StreakMinimum {
		return sum
	}

	total := sum
	if pct, ok := lookup(r.StreakMultipliers, ctx.CurrentStreak); ok {
		total = sum * pct / 100
	}
	if bonus, ok := lookup(r.bonusCurve(ctx.Gender), ctx.CurrentStreak); ok {
		total += bonus
	}
	return total
}

// CreditsFor scores a PrayerDay.
func (r Rules) CreditsFor(day domain.PrayerDay, ctx domain.CreditContext) int {
	return r.CreditsForDay(day.Statuses, ctx)
}

// IsNewUser reports whether an account of this age gets the welcome multiplier.
func (r Rules) IsNewUser(ageDays int) bool {
	return ageDays >= 0 && ageDays <= r.NewUserWindowDays
}

func (r Rules) bonusCurve(g domain.Gender) []Tier {
	if g == domain.GenderFemale {
		return r.FemaleBonus
	}
	return r.MaleBonus
}

// lookup returns the value of the highest tier reached by streak.
// Tiers are ascending.
func lookup(tiers []Tier, streak int) (int, bool) {
	value, found := 0, false
	for _, t := range tiers {
		if streak < t.MinStreak {
			break
		}
		value, found = t.Value, true
	}
	return value, found
}

// ─── Validation ─────────────────────────────────────────────────────────────

var errInvalidRules = errors.New("invalid credit rules")

// Validate checks ordering and positivity of the configured table.
func (r Rules) Validate() error {
	b := r.Base
	if !(b.OnTime >= b.AtMasjid && b.AtMasjid >= b.AtHome && b.AtHome >= b.Late && b.Late >= b.Qada && b.Qada >= 0) {
		return fmt.Errorf("%w: base values must satisfy on_time >= at_masjid >= at_home >= late >= qada >= 0", errInvalidRules)
	}
	if r.NewUserWindowDays < 0 {
		return fmt.Errorf("%w: new_user_window_days must not be negative", errInvalidRules)
	}
	if r.NewUserMultiplierPct <= 0 {
		return fmt.Errorf("%w: new_user_multiplier_pct must be positive", errInvalidRules)
	}
	if r.StreakMinimum <= 0 {
		return fmt.Errorf("%w: streak_minimum must be positive", errInvalidRules)
	}
	for name, tiers := range map[string][]Tier{
		"streak_multipliers": r.StreakMultipliers,
		"male_bonus":         r.MaleBonus,
		"female_bonus":       r.FemaleBonus,
	} {
		if err := validateTiers(tiers); err != nil {
			return fmt.Errorf("%w: %s: %v", errInvalidRules, name, err)
		}
	}
	return nil
}

func validateTiers(tiers []Tier) error {
	for i, t := range tiers {
		if t.MinStreak <= 0 || t.Value <= 0 {
			return fmt.Errorf("tier %d: min_streak and value must be positive", i)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.MinStreak <= prev.MinStreak {
			return fmt.Errorf("tier %d: min_streak %d does not ascend", i, t.MinStreak)
		}
		if t.Value < prev.Value {
			return fmt.Errorf("tier %d: value %d decreases", i, t.Value)
		}
	}
	return nil
}
