package protocol

import (
	"errors"
	"strings"
	"time"
)

// MaxFrameSize is the largest JSON frame either side will encode or decode (1MB).
const MaxFrameSize = 1024 * 1024

var (
	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrMissingType is returned when a frame has no "type" discriminator
	ErrMissingType = errors.New("frame has no type")
	// ErrMissingField is returned when a required field is absent
	ErrMissingField = errors.New("missing required field")
)

// Channel and author sentinels shared by client and server.
const (
	ChannelAll = "all"
	SystemUser = "_system"
)

// UserIDHeader identifies the caller on the avatar HTTP endpoints.
const UserIDHeader = "X-User-ID"

// timestampLayouts lists accepted ts formats. The naive ISO form (no zone) is
// interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a wire timestamp. Unparseable or empty input yields the
// zero time rather than an error: timestamps are cosmetic.
func ParseTimestamp(ts string) time.Time {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// FormatTimestamp renders t the way the server stamps events.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func checkSize(data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	return nil
}
