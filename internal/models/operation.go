package models

import (
	"database/sql/driver"
	"fmt"
)

// Operation is the kind of local mutation carried by a queue entry.
type Operation uint8

const (
	OpCreate Operation = iota + 1
	OpUpdate
	OpDelete
)

// Operations lists every known operation kind.
var Operations = []Operation{OpCreate, OpUpdate, OpDelete}

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("operation(%d)", uint8(o))
	}
}

// Valid reports whether o is one of the known kinds.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// ParseOperation converts the wire/storage form back into an Operation.
func ParseOperation(s string) (Operation, error) {
	for _, op := range Operations {
		if op.String() == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

func (o Operation) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", o)
	}
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(text []byte) error {
	parsed, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Value implements driver.Valuer so operations persist as text.
func (o Operation) Value() (driver.Value, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("cannot store %s", o)
	}
	return o.String(), nil
}

// Scan implements sql.Scanner.
func (o *Operation) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return o.UnmarshalText([]byte(v))
	case []byte:
		return o.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Operation", src)
	}
}
