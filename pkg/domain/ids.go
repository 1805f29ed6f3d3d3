// Package domain holds the typed primitives shared by every registry module.
// Parsing happens once at trust boundaries; after that the types carry their
// validity with them.
package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "soulid/pkg/domain-errors"
)

// IdentityID is the sequential number of a soulbound identity. Ids start at
// zero and are never reused, so the zero value is a valid id.
type IdentityID uint64

// maxIdentityIDLen bounds the decimal form of a uint64.
const maxIdentityIDLen = 20

// ParseIdentityID parses the decimal form of an identity id.
func ParseIdentityID(s string) (IdentityID, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "identity id is required")
	}
	if len(s) > maxIdentityIDLen {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "identity id is too long")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "identity id must be a non-negative integer")
	}
	return IdentityID(n), nil
}

func (id IdentityID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Uint64 returns the raw id.
func (id IdentityID) Uint64() uint64 {
	return uint64(id)
}

// EventID uniquely identifies one entry of the registry event log.
type EventID uuid.UUID

// NewEventID returns a random event id.
func NewEventID() EventID {
	return EventID(uuid.New())
}

// ParseEventID parses a non-nil UUID.
func ParseEventID(s string) (EventID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EventID{}, dErrors.New(dErrors.CodeInvalidInput, "event id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid event id")
	}
	if parsed == uuid.Nil {
		return EventID{}, dErrors.New(dErrors.CodeInvalidInput, "event id cannot be nil")
	}
	return EventID(parsed), nil
}

func (id EventID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the id is the nil UUID.
func (id EventID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler so event ids serialize as strings.
func (id EventID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EventID) UnmarshalText(text []byte) error {
	parsed, err := ParseEventID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
