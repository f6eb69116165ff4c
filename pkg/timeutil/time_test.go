package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNow_AlwaysUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Now().Location())
}

func TestBillDate(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected string
	}{
		{name: "UTC morning is the same channel day", input: time.Date(2024, 1, 5, 3, 0, 0, 0, time.UTC), expected: "20240105"},
		{name: "UTC evening is the next channel day", input: time.Date(2024, 1, 5, 16, 0, 0, 0, time.UTC), expected: "20240106"},
		{name: "channel midnight", input: time.Date(2024, 1, 5, 16, 0, 0, 0, time.UTC).Add(-time.Nanosecond), expected: "20240105"},
		{name: "year boundary", input: time.Date(2023, 12, 31, 17, 0, 0, 0, time.UTC), expected: "20240101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BillDate(tt.input))
		})
	}
}

func TestPreviousBillDate(t *testing.T) {
	assert.Equal(t, "20240104", PreviousBillDate(time.Date(2024, 1, 5, 3, 0, 0, 0, time.UTC)))
	assert.Equal(t, "20240105", PreviousBillDate(time.Date(2024, 1, 5, 16, 30, 0, 0, time.UTC)))
	assert.Equal(t, "20240229", PreviousBillDate(time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)))
}

func TestParseBillDate(t *testing.T) {
	start, err := ParseBillDate("20240105")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 4, 16, 0, 0, 0, time.UTC), start)
	assert.Equal(t, "20240105", BillDate(start))

	for _, bad := range []string{"", "2024-01-05", "20241305", "2024010"} {
		_, err := ParseBillDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestSettleDate(t *testing.T) {
	assert.Equal(t, "20240105", SettleDate("20240105093015"))
	assert.Equal(t, "20240105", SettleDate("20240105"))
	assert.Equal(t, "", SettleDate("202401"))
}
