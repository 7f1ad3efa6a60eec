// Package entry defines the envelope shared by the response cache and the
// result storage chain.
package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCorrupt indicates a stored envelope could not be decoded.
var ErrCorrupt = errors.New("corrupt entry")

// Entry wraps a JSON payload with its creation time and time-to-live.
// Both timestamps are milliseconds so the wire format stays stable across tiers.
type Entry struct {
	// Data is the cached payload
	Data json.RawMessage `json:"data"`

	// Timestamp is the creation time in milliseconds since epoch
	Timestamp int64 `json:"timestamp"`

	// TTL is the time-to-live in milliseconds from Timestamp
	TTL int64 `json:"ttl"`
}

// New creates an entry created at now.
func New(data json.RawMessage, ttl time.Duration, now time.Time) Entry {
	return Entry{
		Data:      data,
		Timestamp: now.UnixMilli(),
		TTL:       ttl.Milliseconds(),
	}
}

// Live reports whether now - Timestamp < TTL.
func (e Entry) Live(now time.Time) bool {
	return now.UnixMilli()-e.Timestamp < e.TTL
}

// ExpiresAt returns the instant the entry stops being live.
func (e Entry) ExpiresAt() time.Time {
	return time.UnixMilli(e.Timestamp + e.TTL)
}

// Remaining returns the time left before expiry.
// Returns 0 if already expired.
func (e Entry) Remaining(now time.Time) time.Duration {
	left := e.ExpiresAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Encode serializes the entry.
func Encode(e Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	return data, nil
}

// Decode parses a stored entry. Unparseable input, a missing payload or a
// non-positive TTL all yield ErrCorrupt.
func Decode(raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(e.Data) == 0 {
		return Entry{}, fmt.Errorf("%w: missing data", ErrCorrupt)
	}
	if e.TTL <= 0 {
		return Entry{}, fmt.Errorf("%w: non-positive ttl %d", ErrCorrupt, e.TTL)
	}
	return e, nil
}

// Marshal converts a caller value into the payload stored in an entry.
// json.RawMessage and []byte holding JSON are used as-is.
func Marshal(v any) (json.RawMessage, error) {
	switch data := v.(type) {
	case json.RawMessage:
		if json.Valid(data) {
			return data, nil
		}
		return nil, fmt.Errorf("marshal payload: invalid raw JSON")
	case []byte:
		if json.Valid(data) {
			return json.RawMessage(data), nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
