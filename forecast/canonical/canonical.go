// Package canonical turns an unordered forecast set into byte-stable,
// deterministically ordered bytes. The canonical serialization is what
// gets hashed, committed and encrypted, so any two logically equivalent
// inputs must produce identical output bytes.
package canonical

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Entry is the forecast for a single schedule item: a probability, in
// percent, for each outcome label.
type Entry struct {
	ScheduleKey   string             `json:"schedule_key"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// ValidationError is returned when a forecast set cannot be canonicalized.
type ValidationError struct {
	ScheduleKey string
	Label       string
	Msg         string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Label != "":
		return fmt.Sprintf("canonical: entry %q, label %q: %s", e.ScheduleKey, e.Label, e.Msg)
	case e.ScheduleKey != "":
		return fmt.Sprintf("canonical: entry %q: %s", e.ScheduleKey, e.Msg)
	default:
		return fmt.Sprintf("canonical: %s", e.Msg)
	}
}

// Canonicalize validates a forecast set and serializes it into canonical
// JSON: entries sorted ascending by schedule key, probability labels in
// ascending order, values rounded to two decimals, no incidental
// whitespace.
//
// Entries with an empty schedule key or an empty probability map are
// dropped. A non-finite or out-of-range probability value rejects the
// whole submission; we deliberately do not drop individual bad values, as
// that would silently commit the provider to a forecast they never wrote.
func Canonicalize(entries []Entry) ([]byte, error) {
	kept := make([]Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ScheduleKey == "" || len(e.Probabilities) == 0 {
			continue
		}
		if _, ok := seen[e.ScheduleKey]; ok {
			return nil, &ValidationError{ScheduleKey: e.ScheduleKey, Msg: "duplicate schedule key"}
		}
		seen[e.ScheduleKey] = struct{}{}

		probs := make(map[string]float64, len(e.Probabilities))
		for label, v := range e.Probabilities {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &ValidationError{ScheduleKey: e.ScheduleKey, Label: label, Msg: "probability is not finite"}
			}
			if v < 0 || v > 100 {
				return nil, &ValidationError{ScheduleKey: e.ScheduleKey, Label: label, Msg: fmt.Sprintf("probability %v outside [0,100]", v)}
			}
			probs[label] = math.Round(v*100) / 100
		}
		kept = append(kept, Entry{ScheduleKey: e.ScheduleKey, Probabilities: probs})
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].ScheduleKey < kept[j].ScheduleKey
	})

	// encoding/json emits map keys in sorted order and no whitespace,
	// which is exactly the byte stability we need for label maps.
	b, err := json.Marshal(kept)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return b, nil
}

// Parse decodes canonical payload bytes back into entries. It does not
// re-validate ordering; use Canonicalize to verify byte stability.
func Parse(b []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("canonical: unmarshal: %w", err)
	}
	return entries, nil
}
