// Package streak derives the consecutive-day observance streak.
package streak

import (
	"sort"

	"github.com/salah-ledger/salah/internal/daybound"
	"github.com/salah-ledger/salah/internal/domain"
)

// DefaultMinCompleted is the number of completed slots a day needs to count.
const DefaultMinCompleted = 3

// Counts reports whether d extends a streak.
func Counts(d domain.PrayerDay, minCompleted int) bool {
	return d.CompletedCount() >= minCompleted
}

// Current returns the streak length ending at the newest eligible day.
func Current(days []domain.PrayerDay, minCompleted int) int {
	n, _ := Scan(days, minCompleted)
	return n
}

// Scan walks days newest-first and returns the run length. terminated is
// false when the input ran out while the run was still going, meaning an
// older page of days could extend it.
//
// Exempt days are skipped. A missing calendar day between two consecutive
// inputs ends the run, as does the first non-counting day.
func Scan(days []domain.PrayerDay, minCompleted int) (length int, terminated bool) {
	if minCompleted <= 0 {
		minCompleted = DefaultMinCompleted
	}
	sorted := make([]domain.PrayerDay, len(days))
	copy(sorted, days)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DayID > sorted[j].DayID })

	prev := ""
	for _, d := range sorted {
		if prev != "" {
			want, err := daybound.AddDays(prev, -1)
			if err != nil || d.DayID != want {
				return length, true
			}
		}
		prev = d.DayID

		if d.MenstrualExempt {
			continue
		}
		if !Counts(d, minCompleted) {
			return length, true
		}
		length++
	}
	return length, false
}
