package domain

import (
	"errors"
	"testing"
	"time"
)

// ─── Slot & Status Tests ────────────────────────────────────────────────────

func TestParseSlot(t *testing.T) {
	tests := []struct {
		name    string
		want    PrayerSlot
		wantErr bool
	}{
		{"fajr", Fajr, false},
		{"dhuhr", Dhuhr, false},
		{"asr", Asr, false},
		{"maghrib", Maghrib, false},
		{"isha", Isha, false},
		{"tahajjud", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSlot(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSlot) {
					t.Errorf("ParseSlot(%q) error = %v, want ErrInvalidSlot", tt.name, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSlot(%q) error: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseSlot(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestPrayerSlot_StringInvalid(t *testing.T) {
	if got := PrayerSlot(9).String(); got != "slot(9)" {
		t.Errorf("String() = %q, want %q", got, "slot(9)")
	}
}

func TestParseStatus(t *testing.T) {
	got, err := ParseStatus("")
	if err != nil || got != StatusNotLogged {
		t.Errorf("ParseStatus(\"\") = %q, %v; want not_logged, nil", got, err)
	}
	if _, err := ParseStatus("sleeping"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("ParseStatus(sleeping) error = %v, want ErrInvalidStatus", err)
	}
	for _, s := range AllStatuses() {
		if got, err := ParseStatus(string(s)); err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %q, %v", s, got, err)
		}
	}
}

func TestPrayerStatus_Completed(t *testing.T) {
	completed := map[PrayerStatus]bool{
		StatusNotLogged:     false,
		StatusMissed:        false,
		StatusOnTime:        true,
		StatusLate:          true,
		StatusQada:          true,
		StatusAtMasjid:      true,
		StatusAtHome:        true,
		StatusNotApplicable: true,
	}
	for s, want := range completed {
		if got := s.Completed(); got != want {
			t.Errorf("%s.Completed() = %v, want %v", s, got, want)
		}
	}
}

// ─── PrayerDay Tests ────────────────────────────────────────────────────────

func TestPrayerDay_WithIsCopy(t *testing.T) {
	d := NewPrayerDay("2025-03-01", time.Time{})
	d2 := d.With(Asr, StatusLate)

	if d.Status(Asr) != StatusNotLogged {
		t.Errorf("original Asr = %s, want not_logged", d.Status(Asr))
	}
	if d2.Status(Asr) != StatusLate {
		t.Errorf("copy Asr = %s, want late", d2.Status(Asr))
	}
	if d2.CompletedCount() != 1 {
		t.Errorf("CompletedCount() = %d, want 1", d2.CompletedCount())
	}
}

func TestPrayerDay_HasStatus(t *testing.T) {
	d := NewPrayerDay("2025-03-01", time.Time{}).With(Isha, StatusNotApplicable)
	if !d.HasStatus(StatusNotApplicable) {
		t.Error("HasStatus(not_applicable) = false, want true")
	}
	if d.HasStatus(StatusMissed) {
		t.Error("HasStatus(missed) = true, want false")
	}
}

// ─── Ledger Tests ───────────────────────────────────────────────────────────

func TestClampTotal(t *testing.T) {
	tests := []struct {
		total, delta, want int64
	}{
		{0, 10, 10},
		{10, -4, 6},
		{5, -20, 0},
		{0, -1, 0},
	}
	for _, tt := range tests {
		if got := ClampTotal(tt.total, tt.delta); got != tt.want {
			t.Errorf("ClampTotal(%d, %d) = %d, want %d", tt.total, tt.delta, got, tt.want)
		}
	}
}

func TestNewLedgerEntry(t *testing.T) {
	at := time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC)

	e, ok := NewLedgerEntry("u1", 40, 50, "m1", at)
	if !ok {
		t.Fatal("expected an entry for a positive move")
	}
	if e.Type != TxEarn || e.EntryType != EntryCredit || e.Amount != 10 || e.Balance != 50 {
		t.Errorf("entry = %+v, want EARN/CREDIT amount 10 balance 50", e)
	}

	e, ok = NewLedgerEntry("u1", 50, 44, "m2", at)
	if !ok || e.Type != TxDeduct || e.EntryType != EntryDebit || e.Amount != 6 {
		t.Errorf("entry = %+v, want DEDUCT/DEBIT amount 6", e)
	}

	if _, ok := NewLedgerEntry("u1", 5, 5, "m3", at); ok {
		t.Error("no entry expected for an unchanged balance")
	}
}

// ─── Document Codec Tests ───────────────────────────────────────────────────

func TestPrayerDayFromFields_JSONNumbers(t *testing.T) {
	f := Fields{
		FieldDayID:          "2025-03-01",
		FieldDate:           "2025-03-01T00:00:00Z",
		"fajr":              "on_time",
		"asr":               "qada",
		FieldDayCredits:     float64(999), // ignored on decode
		FieldIsMenstrualDay: false,
	}
	d, err := PrayerDayFromFields("2025-03-01", f)
	if err != nil {
		t.Fatalf("PrayerDayFromFields() error: %v", err)
	}
	if d.Status(Fajr) != StatusOnTime || d.Status(Asr) != StatusQada {
		t.Errorf("statuses = %v", d.Statuses)
	}
	if d.Status(Isha) != StatusNotLogged {
		t.Errorf("missing slot = %s, want not_logged", d.Status(Isha))
	}
	if d.Credits != 0 {
		t.Errorf("Credits = %d, want 0 (recomputed by caller)", d.Credits)
	}
}

func TestPrayerDayFromFields_Invalid(t *testing.T) {
	tests := []struct {
		name string
		f    Fields
	}{
		{"wrong day id", Fields{FieldDayID: "2025-03-02"}},
		{"bad status", Fields{"fajr": "sleeping"}},
		{"status not string", Fields{"fajr": 3}},
		{"bad date", Fields{FieldDate: "yesterday"}},
		{"exempt not bool", Fields{FieldIsMenstrualDay: "yes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PrayerDayFromFields("2025-03-01", tt.f)
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("error = %v, want ErrInvalidDocument", err)
			}
		})
	}
}

func TestLedgerFromFields(t *testing.T) {
	f := LedgerFields(UserLedger{
		TotalCredits:   120,
		CurrentStreak:  4,
		CreatedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:         GenderFemale,
		Timezone:       "Asia/Jakarta",
		LastMutationID: "m-1",
	})
	l, err := LedgerFromFields("u1", f)
	if err != nil {
		t.Fatalf("LedgerFromFields() error: %v", err)
	}
	if l.TotalCredits != 120 || l.CurrentStreak != 4 || l.Gender != GenderFemale {
		t.Errorf("ledger = %+v", l)
	}
	if l.Timezone != "Asia/Jakarta" || l.LastMutationID != "m-1" {
		t.Errorf("ledger = %+v", l)
	}
	if !l.UpdatedAt.IsZero() {
		t.Errorf("unresolved server timestamp decoded as %v, want zero", l.UpdatedAt)
	}

	if _, err := LedgerFromFields("u1", Fields{FieldTotalCredits: -5}); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("negative total error = %v, want ErrInvalidDocument", err)
	}
	if _, err := LedgerFromFields("u1", Fields{FieldTotalCredits: 1.5}); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("fractional total error = %v, want ErrInvalidDocument", err)
	}
}

func TestPrayerLogFields(t *testing.T) {
	l := PrayerLog{DayID: "2025-03-01", Slot: Maghrib, Status: StatusAtMasjid}
	if l.ID() != "2025-03-01-maghrib" {
		t.Errorf("ID() = %q, want %q", l.ID(), "2025-03-01-maghrib")
	}
	f := PrayerLogFields(l)
	f[FieldUpdatedAt] = "2025-03-01T18:10:00Z"
	got, err := PrayerLogFromFields(f)
	if err != nil {
		t.Fatalf("PrayerLogFromFields() error: %v", err)
	}
	if got.Slot != Maghrib || got.Status != StatusAtMasjid || got.UpdatedAt.IsZero() {
		t.Errorf("log = %+v", got)
	}
}
