package daybound

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

// ─── Day IDs ────────────────────────────────────────────────────────────────

func TestDayID_ZoneDecidesBucket(t *testing.T) {
	// 2025-03-01 23:30 in New York is already 2025-03-02 in Tokyo.
	ny := mustLoad(t, "America/New_York")
	tokyo := mustLoad(t, "Asia/Tokyo")
	instant := time.Date(2025, 3, 1, 23, 30, 0, 0, ny)

	if got := DayID(instant, ny); got != "2025-03-01" {
		t.Errorf("DayID(NY) = %q, want 2025-03-01", got)
	}
	if got := DayID(instant, tokyo); got != "2025-03-02" {
		t.Errorf("DayID(Tokyo) = %q, want 2025-03-02", got)
	}
}

func TestDayID_NilZoneIsUTC(t *testing.T) {
	instant := time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)
	if got := DayID(instant, nil); got != "2025-03-01" {
		t.Errorf("DayID(nil) = %q, want 2025-03-01", got)
	}
}

func TestStartOfDay_DST(t *testing.T) {
	// US DST begins 2025-03-09; that day is 23 hours long.
	ny := mustLoad(t, "America/New_York")
	noon := time.Date(2025, 3, 9, 12, 0, 0, 0, ny)
	start := StartOfDay(noon, ny)
	if start.Hour() != 0 || start.Day() != 9 {
		t.Errorf("StartOfDay = %v, want 2025-03-09 00:00", start)
	}
	next := StartOfDay(noon.Add(24*time.Hour), ny)
	if got := next.Sub(start); got != 23*time.Hour {
		t.Errorf("DST day length = %v, want 23h", got)
	}
}

// ─── Weeks ──────────────────────────────────────────────────────────────────

func TestWeekStart(t *testing.T) {
	// 2025-03-05 is a Wednesday.
	wed := time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		first time.Weekday
		want  string
	}{
		{time.Sunday, "2025-03-02"},
		{time.Monday, "2025-03-03"},
		{time.Wednesday, "2025-03-05"},
		{time.Thursday, "2025-02-27"},
	}
	for _, tt := range tests {
		t.Run(tt.first.String(), func(t *testing.T) {
			got := WeekStart(wed, time.UTC, tt.first)
			if DayID(got, time.UTC) != tt.want || got.Hour() != 0 {
				t.Errorf("WeekStart(%s) = %v, want %s 00:00", tt.first, got, tt.want)
			}
		})
	}
}

func TestLastNWeekStarts(t *testing.T) {
	now := time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)
	starts := LastNWeekStarts(now, 3, time.UTC, time.Sunday)
	want := []string{"2025-03-02", "2025-02-23", "2025-02-16"}

	if len(starts) != len(want) {
		t.Fatalf("len = %d, want %d", len(starts), len(want))
	}
	for i, w := range want {
		if got := DayID(starts[i], time.UTC); got != w {
			t.Errorf("starts[%d] = %s, want %s", i, got, w)
		}
	}
	if LastNWeekStarts(now, 0, time.UTC, time.Sunday) != nil {
		t.Error("n=0 should return nil")
	}
}

// ─── Arithmetic ─────────────────────────────────────────────────────────────

func TestAddDays(t *testing.T) {
	tests := []struct {
		id   string
		n    int
		want string
	}{
		{"2025-03-01", -1, "2025-02-28"},
		{"2024-03-01", -1, "2024-02-29"},
		{"2025-12-31", 1, "2026-01-01"},
		{"2025-03-09", 1, "2025-03-10"},
	}
	for _, tt := range tests {
		got, err := AddDays(tt.id, tt.n)
		if err != nil {
			t.Fatalf("AddDays(%q, %d) error: %v", tt.id, tt.n, err)
		}
		if got != tt.want {
			t.Errorf("AddDays(%q, %d) = %q, want %q", tt.id, tt.n, got, tt.want)
		}
	}
	if _, err := AddDays("03/01/2025", 1); err == nil {
		t.Error("expected error for malformed day id")
	}
}

func TestDaysBetween(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	created := time.Date(2025, 3, 1, 23, 50, 0, 0, ny)

	if got := DaysBetween(created, created.Add(20*time.Minute), ny); got != 1 {
		t.Errorf("across midnight = %d, want 1", got)
	}
	if got := DaysBetween(created, time.Date(2025, 3, 11, 1, 0, 0, 0, ny), ny); got != 10 {
		t.Errorf("across DST = %d, want 10", got)
	}
	if got := DaysBetween(created, created.Add(-48*time.Hour), ny); got != -2 {
		t.Errorf("backwards = %d, want -2", got)
	}
}

// ─── Resolver ───────────────────────────────────────────────────────────────

func TestResolver_LocationFallback(t *testing.T) {
	r := NewResolver("Asia/Jakarta")

	if got := r.Location("Not/AZone").String(); got != "Asia/Jakarta" {
		t.Errorf("unknown zone fallback = %q, want Asia/Jakarta", got)
	}
	if got := r.Location("  ").String(); got != "Asia/Jakarta" {
		t.Errorf("blank zone fallback = %q, want Asia/Jakarta", got)
	}
	if got := r.Location("Europe/London").String(); got != "Europe/London" {
		t.Errorf("Location = %q, want Europe/London", got)
	}
}

func TestNewResolver_BadFallbackIsUTC(t *testing.T) {
	r := NewResolver("Mars/Olympus")
	if r.Fallback != time.UTC {
		t.Errorf("Fallback = %v, want UTC", r.Fallback)
	}
}

func TestResolver_Today(t *testing.T) {
	r := NewResolver("UTC")
	r.Now = func() time.Time { return time.Date(2025, 3, 1, 22, 0, 0, 0, time.UTC) }

	if got := r.Today(mustLoad(t, "Asia/Tokyo")); got != "2025-03-02" {
		t.Errorf("Today(Tokyo) = %q, want 2025-03-02", got)
	}
	if got := len(r.LastNWeekStarts(4, time.UTC)); got != 4 {
		t.Errorf("LastNWeekStarts len = %d, want 4", got)
	}
}
