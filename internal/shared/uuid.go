package shared

import "github.com/google/uuid"

// NewUUID returns a fresh time-ordered (UUIDv7) entity identifier, falling
// back to UUIDv4 if v7 generation fails.
func NewUUID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// ParseUUID parses s into a UUID, wrapping the parse error as a field error.
func ParseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, NewFieldError(ErrInvalidInput, "VALIDATION_INVALID_UUID", "not a valid uuid: "+s)
	}
	return id, nil
}

// MustParseUUID parses s into a UUID, panicking on failure. Only safe for
// constants known-valid at compile/init time (tests, seed data).
func MustParseUUID(s string) uuid.UUID {
	id, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsNilUUID reports whether id is the zero UUID.
func IsNilUUID(id uuid.UUID) bool {
	return id == uuid.Nil
}

// ValidateUUID returns a field error if id is nil.
func ValidateUUID(id uuid.UUID, field string) error {
	if id == uuid.Nil {
		return NewFieldError(ErrInvalidInput, field, field+" is required")
	}
	return nil
}
