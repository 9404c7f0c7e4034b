// Package usage queries per-token quota utilization from the provider's
// usage endpoint. Failures are data, not errors: every query yields a
// Snapshot, and snapshots carrying an Error are filtered by the scorer.
package usage

import (
	"encoding/json"
	"math"
	"time"
)

// Window is one utilization dimension (the rolling 5-hour session window
// or the 7-day week window).
type Window struct {
	// Utilization is a normalized percentage in [0,100]; nil when the
	// dimension was never measured (error snapshots).
	Utilization *int

	// ResetsAt is the ISO-8601 timestamp when the window resets, if the
	// endpoint reported one.
	ResetsAt string
}

// Percent returns the utilization, treating unmeasured as fully used so
// an unknown account is never preferred over a measured one.
func (w Window) Percent() int {
	if w.Utilization == nil {
		return 100
	}
	return *w.Utilization
}

// Reset parses ResetsAt; ok is false when absent or malformed.
func (w Window) Reset() (time.Time, bool) {
	if w.ResetsAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, w.ResetsAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Snapshot is the usage of one token at one moment.
type Snapshot struct {
	FiveHour Window
	SevenDay Window

	// Error replaces the numeric fields when the query failed:
	// "HTTP <n>", "timeout", or a transport message.
	Error string
}

// Effective returns max(session, weekly), the score the selector ranks
// accounts by.
func (s Snapshot) Effective() int {
	session := s.FiveHour.Percent()
	weekly := s.SevenDay.Percent()
	if weekly > session {
		return weekly
	}
	return session
}

// AuthRejected reports whether the query was refused as unauthorized,
// the one failure interactive re-authentication can clear.
func (s Snapshot) AuthRejected() bool {
	return s.Error == "HTTP 401" || s.Error == "HTTP 403"
}

// EarliestReset returns the soonest reset time across both windows.
func (s Snapshot) EarliestReset() (time.Time, bool) {
	five, okFive := s.FiveHour.Reset()
	seven, okSeven := s.SevenDay.Reset()
	switch {
	case okFive && okSeven:
		if seven.Before(five) {
			return seven, true
		}
		return five, true
	case okFive:
		return five, true
	case okSeven:
		return seven, true
	default:
		return time.Time{}, false
	}
}

// normalizePercent maps raw utilization values onto [0,100]:
// fractions in [0,1] scale to percentages, values in (1,100] round
// as-is, everything else clamps.
func normalizePercent(x float64) int {
	switch {
	case math.IsNaN(x) || math.IsInf(x, 0) || x <= 0:
		return 0
	case x <= 1:
		return int(math.Round(x * 100))
	case x <= 100:
		return int(math.Round(x))
	default:
		return 100
	}
}

// normalizeRaw applies normalizePercent to a raw JSON value; anything
// non-numeric normalizes to 0.
func normalizeRaw(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var x float64
	if err := json.Unmarshal(raw, &x); err != nil {
		return 0
	}
	return normalizePercent(x)
}

type wireWindow struct {
	Utilization json.RawMessage `json:"utilization"`
	ResetsAt    string          `json:"resets_at"`
}

type nestedUsage struct {
	FiveHour *wireWindow `json:"five_hour"`
	SevenDay *wireWindow `json:"seven_day"`
}

type flatUsage struct {
	FiveHourUtilization json.RawMessage `json:"five_hour_utilization"`
	SevenDayUtilization json.RawMessage `json:"seven_day_utilization"`
	FiveHourResetAt     string          `json:"five_hour_reset_at"`
	SevenDayResetAt     string          `json:"seven_day_reset_at"`
}

func windowFrom(w *wireWindow) Window {
	if w == nil {
		zero := 0
		return Window{Utilization: &zero}
	}
	pct := normalizeRaw(w.Utilization)
	return Window{Utilization: &pct, ResetsAt: w.ResetsAt}
}

// parseBody accepts the nested shape, the legacy flat shape, and as a
// last resort normalizes unknown shapes to zero utilization with no
// error, since the next poll may succeed.
func parseBody(body []byte) Snapshot {
	var nested nestedUsage
	if err := json.Unmarshal(body, &nested); err == nil && (nested.FiveHour != nil || nested.SevenDay != nil) {
		return Snapshot{
			FiveHour: windowFrom(nested.FiveHour),
			SevenDay: windowFrom(nested.SevenDay),
		}
	}

	var flat flatUsage
	if err := json.Unmarshal(body, &flat); err == nil &&
		(len(flat.FiveHourUtilization) > 0 || len(flat.SevenDayUtilization) > 0) {
		five := normalizeRaw(flat.FiveHourUtilization)
		seven := normalizeRaw(flat.SevenDayUtilization)
		return Snapshot{
			FiveHour: Window{Utilization: &five, ResetsAt: flat.FiveHourResetAt},
			SevenDay: Window{Utilization: &seven, ResetsAt: flat.SevenDayResetAt},
		}
	}

	zero1, zero2 := 0, 0
	return Snapshot{
		FiveHour: Window{Utilization: &zero1},
		SevenDay: Window{Utilization: &zero2},
	}
}
