package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", "2024-03-01T12:30:00Z", time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)},
		{"rfc3339 with offset", "2024-03-01T14:30:00+02:00", time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)},
		{"naive iso", "2024-03-01T12:30:00", time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)},
		{"naive iso micros", "2024-03-01T12:30:00.250000", time.Date(2024, 3, 1, 12, 30, 0, 250000000, time.UTC)},
		{"empty", "", time.Time{}},
		{"garbage", "yesterday", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(ParseTimestamp(tt.in)), "got %v", ParseTimestamp(tt.in))
		})
	}
}

func TestFormatTimestampRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 6000, time.FixedZone("x", 3600))
	assert.True(t, now.Equal(ParseTimestamp(FormatTimestamp(now))))
}
