package attributes

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Wire encodings follow the LDAP-family conventions the connected
// directories use: booleans as TRUE/FALSE, timestamps as generalized time
// or FILETIME large integers, GUIDs as 16 little-endian bytes.
// See https://learn.microsoft.com/en-us/windows/win32/adschema/syntaxes

const (
	generalizedTimeLayout      = "20060102150405.0Z"
	generalizedTimeShortLayout = "20060102150405Z"

	filetimeEpochOffset = 116444736000000000
	filetimeNever       = int64(9223372036854775807)
)

// Decode converts raw directory wire values into typed values of the given
// kind. A value that cannot be converted is an error, never a silent drop.
func Decode(kind Kind, values [][]byte) ([]Value, error) {
	if len(values) == 0 {
		return nil, nil
	}

	result := make([]Value, 0, len(values))
	for i, b := range values {
		v, err := decodeOne(kind, b)
		if err != nil {
			return nil, fmt.Errorf("value %d as %s: %w", i, kind, err)
		}
		result = append(result, v)
	}
	return result, nil
}

func decodeOne(kind Kind, b []byte) (Value, error) {
	switch kind {
	case Text, Reference:
		if !utf8.Valid(b) {
			return Value{}, fmt.Errorf("not a valid utf8 string")
		}
		if kind == Reference {
			return NewReference(string(b)), nil
		}
		return NewText(string(b)), nil

	case Number:
		n, err := strconv.ParseInt(string(b), 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid integer: %w", err)
		}
		return NewNumber(n), nil

	case LongNumber:
		n, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid large integer: %w", err)
		}
		return NewLongNumber(n), nil

	case Boolean:
		switch strings.ToUpper(string(b)) {
		case "TRUE":
			return NewBoolean(true), nil
		case "FALSE":
			return NewBoolean(false), nil
		}
		return Value{}, fmt.Errorf("invalid boolean %q", string(b))

	case DateTime:
		return decodeTime(string(b))

	case GUID:
		id, err := GUIDFromWire(b)
		if err != nil {
			return Value{}, err
		}
		return NewGUID(id), nil

	case Binary:
		return NewBinary(b), nil
	}

	return Value{}, fmt.Errorf("unhandled kind %s", kind)
}

// decodeTime accepts generalized time first, then falls back to a FILETIME
// large integer. Zero and "never" FILETIME sentinels decode to the zero
// time.
func decodeTime(s string) (Value, error) {
	if t, err := time.Parse(generalizedTimeLayout, s); err == nil {
		return NewDateTime(t), nil
	}
	if t, err := time.Parse(generalizedTimeShortLayout, s); err == nil {
		return NewDateTime(t), nil
	}

	ftVal, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("neither generalized time nor FILETIME: %q", s)
	}
	return NewDateTime(FiletimeToTime(ftVal)), nil
}

// FiletimeToTime converts a Windows FILETIME (100ns intervals since
// 1601-01-01) to a time.Time. The 0 and int64-max sentinels map to the
// zero time.
func FiletimeToTime(ft int64) time.Time {
	if ft == 0 || ft == filetimeNever {
		return time.Time{}
	}
	nsSinceUnix := (ft - filetimeEpochOffset) * 100
	return time.Unix(0, nsSinceUnix).UTC()
}

// TimeToFiletime is the inverse of FiletimeToTime; the zero time maps to 0.
func TimeToFiletime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()/100 + filetimeEpochOffset
}

// GUIDFromWire converts the directory's 16-byte little-endian GUID layout
// to an RFC 4122 uuid.UUID.
func GUIDFromWire(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.Nil, fmt.Errorf("invalid GUID: expected 16 bytes, got %d", len(b))
	}

	rfcBytes := make([]byte, 16)
	copy(rfcBytes, b)

	rfcBytes[0], rfcBytes[1], rfcBytes[2], rfcBytes[3] = rfcBytes[3], rfcBytes[2], rfcBytes[1], rfcBytes[0]
	rfcBytes[4], rfcBytes[5] = rfcBytes[5], rfcBytes[4]
	rfcBytes[6], rfcBytes[7] = rfcBytes[7], rfcBytes[6]

	id, err := uuid.FromBytes(rfcBytes)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID from wire GUID: %w", err)
	}
	return id, nil
}

// GUIDToWire converts an RFC 4122 uuid.UUID back to the directory's
// little-endian byte layout.
func GUIDToWire(id uuid.UUID) []byte {
	b := make([]byte, 16)
	copy(b, id[:])

	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
	return b
}

// Encode renders a typed value in the string wire form used by write
// requests.
func Encode(v Value) string {
	switch v.Kind() {
	case DateTime:
		return v.Time().UTC().Format(generalizedTimeLayout)
	case GUID:
		return string(GUIDToWire(v.GUID()))
	case Binary:
		return string(v.Bytes())
	default:
		return v.String()
	}
}

// EncodeAll renders a value list for a single write-request attribute.
func EncodeAll(values []Value) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = Encode(v)
	}
	return out
}
