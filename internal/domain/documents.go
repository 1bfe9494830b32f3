package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ─── Document Layout ────────────────────────────────────────────────────────
// Collection paths and field names shared by every store backend.

const (
	// UsersCollection holds one ledger document per user, keyed by user id.
	UsersCollection = "users"

	// ServerTimestamp is replaced by the store with its commit time.
	ServerTimestamp = "$server_time"
)

// DaysCollection is the collection of a user's PrayerDay documents.
func DaysCollection(userID string) string { return UsersCollection + "/" + userID + "/prayer_days" }

// LogsCollection is the collection of a user's PrayerLog documents.
func LogsCollection(userID string) string { return UsersCollection + "/" + userID + "/prayer_logs" }

// Ledger fields.
const (
	FieldTotalCredits   = "totalCredits"
	FieldCurrentStreak  = "currentStreak"
	FieldLastUpdatedAt  = "lastUpdatedAt"
	FieldCreatedAt      = "createdAt"
	FieldGender         = "gender"
	FieldTimezone       = "timezone"
	FieldLastMutationID = "lastMutationId"
)

// PrayerDay and PrayerLog fields.
const (
	FieldDayID          = "dayId"
	FieldDate           = "date"
	FieldDayCredits     = "totalCreditsForDay"
	FieldIsMenstrualDay = "isMenstrualDay"
	FieldSlot           = "slot"
	FieldStatus         = "status"
	FieldUpdatedAt      = "updatedAt"
)

// ─── PrayerDay Codec ────────────────────────────────────────────────────────

// PrayerDayFields encodes d as a document. Credits are written for readers
// but never trusted on decode.
func PrayerDayFields(d PrayerDay) Fields {
	f := Fields{
		FieldDayID:          d.DayID,
		FieldDate:           formatTime(d.Date),
		FieldDayCredits:     d.Credits,
		FieldIsMenstrualDay: d.MenstrualExempt,
		FieldLastUpdatedAt:  ServerTimestamp,
	}
	for _, slot := range AllSlots() {
		f[slot.String()] = string(d.Statuses[slot])
	}
	return f
}

// PrayerDayFromFields decodes a day document stored under dayID.
// The Credits field is left zero for the caller to recompute.
func PrayerDayFromFields(dayID string, f Fields) (PrayerDay, error) {
	if id, ok, err := stringField(f, FieldDayID); err != nil {
		return PrayerDay{}, err
	} else if ok && id != dayID {
		return PrayerDay{}, fmt.Errorf("%w: dayId %q stored under %q", ErrInvalidDocument, id, dayID)
	}

	date, _, err := timeField(f, FieldDate)
	if err != nil {
		return PrayerDay{}, err
	}
	d := NewPrayerDay(dayID, date)

	for _, slot := range AllSlots() {
		v, ok, err := stringField(f, slot.String())
		if err != nil {
			return PrayerDay{}, err
		}
		if !ok {
			continue
		}
		status, err := ParseStatus(v)
		if err != nil {
			return PrayerDay{}, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, slot, err)
		}
		d.Statuses[slot] = status
	}

	exempt, _, err := boolField(f, FieldIsMenstrualDay)
	if err != nil {
		return PrayerDay{}, err
	}
	d.MenstrualExempt = exempt
	return d, nil
}

// ─── Ledger Codec ───────────────────────────────────────────────────────────

// LedgerFields encodes every ledger field.
func LedgerFields(l UserLedger) Fields {
	f := Fields{
		FieldTotalCredits:  l.TotalCredits,
		FieldCurrentStreak: l.CurrentStreak,
		FieldCreatedAt:     formatTime(l.CreatedAt),
		FieldGender:        string(l.Gender),
		FieldLastUpdatedAt: ServerTimestamp,
	}
	if l.Timezone != "" {
		f[FieldTimezone] = l.Timezone
	}
	if l.LastMutationID != "" {
		f[FieldLastMutationID] = l.LastMutationID
	}
	return f
}

// LedgerFromFields decodes the ledger document of userID.
func LedgerFromFields(userID string, f Fields) (UserLedger, error) {
	l := UserLedger{UserID: userID}

	total, _, err := intField(f, FieldTotalCredits)
	if err != nil {
		return UserLedger{}, err
	}
	if total < 0 {
		return UserLedger{}, fmt.Errorf("%w: negative %s", ErrInvalidDocument, FieldTotalCredits)
	}
	l.TotalCredits = total

	streak, _, err := intField(f, FieldCurrentStreak)
	if err != nil {
		return UserLedger{}, err
	}
	l.CurrentStreak = int(streak)

	if l.CreatedAt, _, err = timeField(f, FieldCreatedAt); err != nil {
		return UserLedger{}, err
	}
	if l.UpdatedAt, _, err = timeField(f, FieldLastUpdatedAt); err != nil {
		return UserLedger{}, err
	}

	gender, _, err := stringField(f, FieldGender)
	if err != nil {
		return UserLedger{}, err
	}
	l.Gender = ParseGender(gender)

	if l.Timezone, _, err = stringField(f, FieldTimezone); err != nil {
		return UserLedger{}, err
	}
	if l.LastMutationID, _, err = stringField(f, FieldLastMutationID); err != nil {
		return UserLedger{}, err
	}
	return l, nil
}

// ─── PrayerLog Codec ────────────────────────────────────────────────────────

// PrayerLogFields encodes a history log record.
func PrayerLogFields(l PrayerLog) Fields {
	return Fields{
		FieldDayID:     l.DayID,
		FieldDate:      formatTime(l.Date),
		FieldSlot:      l.Slot.String(),
		FieldStatus:    string(l.Status),
		FieldUpdatedAt: ServerTimestamp,
	}
}

// PrayerLogFromFields decodes a history log record.
func PrayerLogFromFields(f Fields) (PrayerLog, error) {
	var l PrayerLog
	var err error

	if l.DayID, _, err = stringField(f, FieldDayID); err != nil {
		return PrayerLog{}, err
	}
	if l.Date, _, err = timeField(f, FieldDate); err != nil {
		return PrayerLog{}, err
	}
	slot, _, err := stringField(f, FieldSlot)
	if err != nil {
		return PrayerLog{}, err
	}
	if l.Slot, err = ParseSlot(slot); err != nil {
		return PrayerLog{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	status, _, err := stringField(f, FieldStatus)
	if err != nil {
		return PrayerLog{}, err
	}
	if l.Status, err = ParseStatus(status); err != nil {
		return PrayerLog{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if l.UpdatedAt, _, err = timeField(f, FieldUpdatedAt); err != nil {
		return PrayerLog{}, err
	}
	return l, nil
}

// ─── Field Helpers ──────────────────────────────────────────────────────────
// Documents arrive either as Go values (in-memory store) or decoded JSON
// (SQLite, HTTP), so numeric fields accept every integer-valued number type.

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func stringField(f Fields, key string) (string, bool, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: %s is %T, want string", ErrInvalidDocument, key, v)
	}
	return s, true, nil
}

func boolField(f Fields, key string) (bool, bool, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, false, fmt.Errorf("%w: %s is %T, want bool", ErrInvalidDocument, key, v)
	}
	return b, true, nil
}

func intField(f Fields, key string) (int64, bool, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), true, nil
	case int32:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false, fmt.Errorf("%w: %s is not an integer", ErrInvalidDocument, key)
		}
		return int64(n), true, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, key, err)
		}
		return i, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s is %T, want integer", ErrInvalidDocument, key, v)
	}
}

func timeField(f Fields, key string) (time.Time, bool, error) {
	s, ok, err := stringField(f, key)
	if err != nil || !ok || s == "" || s == ServerTimestamp {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, key, err)
	}
	return t, true, nil
}
