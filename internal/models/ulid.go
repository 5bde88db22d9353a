package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// ULID identifies programs. IDs sort by creation time and are stored as
// their 26 character text form.
type ULID ulid.ULID

// NewULID returns a ULID for now. IDs minted within the same millisecond
// still increase monotonically.
func NewULID() ULID {
	return ULID(ulid.Make())
}

// ParseULID parses the text form of a ULID.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ULID{}, fmt.Errorf("parsing ULID %q: %w", s, err)
	}
	return ULID(id), nil
}

func (u ULID) String() string { return ulid.ULID(u).String() }

// IsZero reports whether u is unset.
func (u ULID) IsZero() bool { return u == ULID{} }

// Value stores unset IDs as NULL.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan accepts text columns and NULL.
func (u *ULID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*u = ULID{}
		return nil
	case []byte:
		return u.UnmarshalText(v)
	case string:
		return u.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into ULID", value)
	}
}

// MarshalText renders unset IDs as an empty string.
func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

// UnmarshalText parses the text form. Empty input resets u.
func (u *ULID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = ULID{}
		return nil
	}
	parsed, err := ParseULID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// GormDataType sizes the column for the text form.
func (ULID) GormDataType() string {
	return "varchar(26)"
}
