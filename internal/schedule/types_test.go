package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexTimeForms(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   string
		loc  *time.Location
		want time.Time
	}{
		{"zoned", `"2025-02-15T09:00:00Z"`, time.UTC,
			time.Date(2025, 2, 15, 9, 0, 0, 0, time.UTC)},
		{"zonedOffset", `"2025-02-15T16:00:00+07:00"`, time.UTC,
			time.Date(2025, 2, 15, 9, 0, 0, 0, time.UTC)},
		{"localISO", `"2025-02-15T09:00:00"`, jakarta,
			time.Date(2025, 2, 15, 9, 0, 0, 0, jakarta)},
		{"bareDate", `"2025-02-15"`, jakarta,
			time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)},
		{"epochNumber", `1739610000000`, time.UTC,
			time.UnixMilli(1739610000000).UTC()},
		{"epochDigitString", `"1739610000000"`, time.UTC,
			time.UnixMilli(1739610000000).UTC()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f FlexTime
			require.NoError(t, json.Unmarshal([]byte(tc.in), &f))
			got, ok := f.In(tc.loc)
			require.True(t, ok)
			assert.True(t, got.Equal(tc.want), "got %v want %v", got, tc.want)
		})
	}
}

func TestFlexTimeInvalid(t *testing.T) {
	var f FlexTime
	require.NoError(t, json.Unmarshal([]byte(`"not a time"`), &f))
	_, ok := f.In(time.UTC)
	assert.False(t, ok)

	var empty FlexTime
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	assert.True(t, empty.IsZero())
	_, ok = empty.In(time.UTC)
	assert.False(t, ok)
}

func TestParseRefillStrategy(t *testing.T) {
	assert.Equal(t, RefillFixed, ParseRefillStrategy("fixed"))
	assert.Equal(t, RefillMaxCap, ParseRefillStrategy(" MAX_CAP "))
	assert.Equal(t, RefillReset, ParseRefillStrategy("RESET"))
	assert.Equal(t, RefillReset, ParseRefillStrategy("bogus"))
}

func TestNextCount(t *testing.T) {
	cases := []struct {
		name     string
		strategy RefillStrategy
		leftover int
		base     int
		cap      int
		want     int
	}{
		{"fixedAddsLeftover", RefillFixed, 3, 10, 0, 13},
		{"resetIgnoresLeftover", RefillReset, 3, 10, 0, 10},
		{"maxCapClamps", RefillMaxCap, 3, 10, 8, 8},
		{"maxCapUnderCap", RefillMaxCap, 1, 2, 8, 3},
		{"maxCapZeroMeansUncapped", RefillMaxCap, 5, 10, 0, 15},
		{"negativeLeftover", RefillFixed, -4, 10, 0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextCount(tc.strategy, tc.leftover, tc.base, tc.cap))
		})
	}
}
