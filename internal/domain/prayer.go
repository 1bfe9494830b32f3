// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture; it depends on nothing.
package domain

import (
	"fmt"
	"time"
)

// ─── Prayer Slots ───────────────────────────────────────────────────────────

// PrayerSlot is one of the five fixed daily prayer positions.
type PrayerSlot int

const (
	Fajr    PrayerSlot = iota // dawn
	Dhuhr                     // midday
	Asr                       // afternoon
	Maghrib                   // sunset
	Isha                      // night
)

// SlotCount is the number of daily slots.
const SlotCount = 5

var slotNames = [SlotCount]string{"fajr", "dhuhr", "asr", "maghrib", "isha"}

// AllSlots returns the slots in daily order.
func AllSlots() [SlotCount]PrayerSlot {
	return [SlotCount]PrayerSlot{Fajr, Dhuhr, Asr, Maghrib, Isha}
}

// Valid reports whether s is one of the five slots.
func (s PrayerSlot) Valid() bool { return s >= Fajr && s <= Isha }

// String returns the lowercase slot name used in documents.
func (s PrayerSlot) String() string {
	if !s.Valid() {
		return fmt.Sprintf("slot(%d)", int(s))
	}
	return slotNames[s]
}

// ParseSlot parses a slot name.
func ParseSlot(name string) (PrayerSlot, error) {
	for i, n := range slotNames {
		if n == name {
			return PrayerSlot(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSlot, name)
}

// ─── Prayer Status ──────────────────────────────────────────────────────────

// PrayerStatus is the observance outcome for one slot.
type PrayerStatus string

const (
	StatusNotLogged     PrayerStatus = "not_logged"
	StatusOnTime        PrayerStatus = "on_time"
	StatusLate          PrayerStatus = "late"
	StatusQada          PrayerStatus = "qada"
	StatusMissed        PrayerStatus = "missed"
	StatusAtMasjid      PrayerStatus = "at_masjid"
	StatusAtHome        PrayerStatus = "at_home"
	StatusNotApplicable PrayerStatus = "not_applicable" // menstrual exemption
)

var allStatuses = []PrayerStatus{
	StatusNotLogged, StatusOnTime, StatusLate, StatusQada,
	StatusMissed, StatusAtMasjid, StatusAtHome, StatusNotApplicable,
}

// AllStatuses returns every status, NotLogged first.
func AllStatuses() []PrayerStatus {
	out := make([]PrayerStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is a known status.
func (s PrayerStatus) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Completed reports whether the slot counts toward a streak day.
func (s PrayerStatus) Completed() bool {
	return s.Valid() && s != StatusNotLogged && s != StatusMissed
}

// ParseStatus parses a status string. The empty string is NotLogged.
func ParseStatus(v string) (PrayerStatus, error) {
	if v == "" {
		return StatusNotLogged, nil
	}
	s := PrayerStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// ─── Prayer Day ─────────────────────────────────────────────────────────────

// PrayerDay is one user's five observances on one calendar day.
// It is a value type: assigning it takes a complete snapshot.
type PrayerDay struct {
	DayID           string                  `json:"day_id"`
	Date            time.Time               `json:"date"`
	Statuses        [SlotCount]PrayerStatus `json:"statuses"`
	MenstrualExempt bool                    `json:"menstrual_exempt"`
	Credits         int                     `json:"credits"` // derived, never stored as truth
}

// NewPrayerDay returns an empty day with every slot NotLogged.
func NewPrayerDay(dayID string, date time.Time) PrayerDay {
	d := PrayerDay{DayID: dayID, Date: date}
	for i := range d.Statuses {
		d.Statuses[i] = StatusNotLogged
	}
	return d
}

// Status returns the status held in slot.
func (d PrayerDay) Status(slot PrayerSlot) PrayerStatus {
	if !slot.Valid() {
		return StatusNotLogged
	}
	return d.Statuses[slot]
}

// With returns a copy of d with slot set to status.
func (d PrayerDay) With(slot PrayerSlot, status PrayerStatus) PrayerDay {
	if slot.Valid() {
		d.Statuses[slot] = status
	}
	return d
}

// HasStatus reports whether any slot holds status.
func (d PrayerDay) HasStatus(status PrayerStatus) bool {
	for _, s := range d.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// CompletedCount is the number of slots in a non-missed, non-empty status.
func (d PrayerDay) CompletedCount() int {
	n := 0
	for _, s := range d.Statuses {
		if s.Completed() {
			n++
		}
	}
	return n
}

// ─── Prayer Log ─────────────────────────────────────────────────────────────

// PrayerLog is the per-(day, slot) history record.
type PrayerLog struct {
	DayID     string       `json:"day_id"`
	Date      time.Time    `json:"date"`
	Slot      PrayerSlot   `json:"slot"`
	Status    PrayerStatus `json:"status"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// LogID returns the deterministic document id for a (day, slot) pair.
func LogID(dayID string, slot PrayerSlot) string {
	return dayID + "-" + slot.String()
}

// ID returns the log's document id.
func (l PrayerLog) ID() string { return LogID(l.DayID, l.Slot) }

// ─── Credit Context ─────────────────────────────────────────────────────────

// Gender is the cohort flag that selects a streak bonus curve.
type Gender string

const (
	GenderUnspecified Gender = "unspecified"
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
)

// ParseGender maps unknown or empty values to GenderUnspecified.
func ParseGender(v string) Gender {
	switch Gender(v) {
	case GenderMale, GenderFemale:
		return Gender(v)
	default:
		return GenderUnspecified
	}
}

// CreditContext is threaded into every credit computation. Never persisted.
type CreditContext struct {
	AccountAgeDays int
	CurrentStreak  int
	Gender         Gender
}
