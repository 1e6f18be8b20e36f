package canonical

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testEntries() []Entry {
	return []Entry{
		{ScheduleKey: "VLR204-2026-09-14", Probabilities: map[string]float64{
			"ontime": 61.5, "delay15": 25.25, "delay60": 10, "cancel": 3.25,
		}},
		{ScheduleKey: "VLR101-2026-09-13", Probabilities: map[string]float64{
			"ontime": 80, "delay15": 20,
		}},
		{ScheduleKey: "VLR319-2026-09-15", Probabilities: map[string]float64{
			"ontime": 33.333333, "delay15": 33.333333, "cancel": 33.333333,
		}},
	}
}

func TestCanonicalizeOrderInvariant(t *testing.T) {
	want, err := Canonicalize(testEntries())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		entries := testEntries()
		rand.Shuffle(len(entries), func(a, b int) {
			entries[a], entries[b] = entries[b], entries[a]
		})
		got, err := Canonicalize(entries)
		require.NoError(t, err)
		require.Equal(t, want, got, "permutation %d produced different bytes", i)
	}
}

func TestCanonicalizeBytes(t *testing.T) {
	b, err := Canonicalize([]Entry{
		{ScheduleKey: "b", Probabilities: map[string]float64{"delay15": 40, "ontime": 60}},
		{ScheduleKey: "a", Probabilities: map[string]float64{"ontime": 99.999}},
	})
	require.NoError(t, err)
	require.Equal(t,
		`[{"schedule_key":"a","probabilities":{"ontime":100}},{"schedule_key":"b","probabilities":{"delay15":40,"ontime":60}}]`,
		string(b))
}

func TestCanonicalizeDropsEmpties(t *testing.T) {
	b, err := Canonicalize([]Entry{
		{ScheduleKey: "", Probabilities: map[string]float64{"ontime": 50}},
		{ScheduleKey: "x", Probabilities: map[string]float64{}},
		{ScheduleKey: "y", Probabilities: nil},
		{ScheduleKey: "z", Probabilities: map[string]float64{"ontime": 50}},
	})
	require.NoError(t, err)
	require.Equal(t, `[{"schedule_key":"z","probabilities":{"ontime":50}}]`, string(b))
}

func TestCanonicalizeRejectsBadValues(t *testing.T) {
	for _, v := range []float64{-0.01, 100.01, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Canonicalize([]Entry{
			{ScheduleKey: "ok", Probabilities: map[string]float64{"ontime": 50}},
			{ScheduleKey: "bad", Probabilities: map[string]float64{"ontime": v}},
		})
		require.Error(t, err, "value %v should reject the submission", v)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "bad", verr.ScheduleKey)
	}
}

func TestCanonicalizeRejectsDuplicateKeys(t *testing.T) {
	_, err := Canonicalize([]Entry{
		{ScheduleKey: "dup", Probabilities: map[string]float64{"ontime": 50}},
		{ScheduleKey: "dup", Probabilities: map[string]float64{"ontime": 60}},
	})
	require.Error(t, err)
}

func TestCanonicalizeRounding(t *testing.T) {
	b, err := Canonicalize([]Entry{
		{ScheduleKey: "k", Probabilities: map[string]float64{"ontime": 33.333333, "cancel": 66.666666}},
	})
	require.NoError(t, err)
	require.Equal(t, `[{"schedule_key":"k","probabilities":{"cancel":66.67,"ontime":33.33}}]`, string(b))
}

func TestParseRoundTrip(t *testing.T) {
	b, err := Canonicalize(testEntries())
	require.NoError(t, err)

	entries, err := Parse(b)
	require.NoError(t, err)

	b2, err := Canonicalize(entries)
	require.NoError(t, err)
	require.Equal(t, b, b2)
}
