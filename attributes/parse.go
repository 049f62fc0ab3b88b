package attributes

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Parse is the inverse of Value.String: it reconstructs a typed value
// from its diagnostic/storage form. Used by store implementations that
// persist values as text.
func Parse(kind Kind, s string) (Value, error) {
	switch kind {
	case Text:
		return NewText(s), nil
	case Reference:
		return NewReference(s), nil
	case Number:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", s, err)
		}
		return NewNumber(n), nil
	case LongNumber:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse long number %q: %w", s, err)
		}
		return NewLongNumber(n), nil
	case Boolean:
		switch s {
		case "TRUE":
			return NewBoolean(true), nil
		case "FALSE":
			return NewBoolean(false), nil
		}
		return Value{}, fmt.Errorf("parse boolean %q", s)
	case DateTime:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Value{}, fmt.Errorf("parse dateTime %q: %w", s, err)
		}
		return NewDateTime(t), nil
	case GUID:
		id, err := uuid.Parse(s)
		if err != nil {
			return Value{}, fmt.Errorf("parse guid %q: %w", s, err)
		}
		return NewGUID(id), nil
	case Binary:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, fmt.Errorf("parse binary %q: %w", s, err)
		}
		return NewBinary(b), nil
	}
	return Value{}, fmt.Errorf("unhandled kind %s", kind)
}
