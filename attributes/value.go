package attributes

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the typed attribute model used on the metaverse side of
// the sync boundary.
type Kind int

const (
	Text Kind = iota
	Number
	LongNumber
	Boolean
	DateTime
	GUID
	Binary
	Reference
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Number:
		return "number"
	case LongNumber:
		return "longNumber"
	case Boolean:
		return "boolean"
	case DateTime:
		return "dateTime"
	case GUID:
		return "guid"
	case Binary:
		return "binary"
	case Reference:
		return "reference"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is one typed attribute value. It is immutable once constructed;
// exactly one member matching the kind is populated.
type Value struct {
	kind    Kind
	text    string
	number  int64
	boolean bool
	when    time.Time
	guid    uuid.UUID
	bin     []byte
}

func NewText(s string) Value {
	return Value{kind: Text, text: s}
}

func NewReference(dn string) Value {
	return Value{kind: Reference, text: dn}
}

func NewNumber(n int64) Value {
	return Value{kind: Number, number: n}
}

func NewLongNumber(n int64) Value {
	return Value{kind: LongNumber, number: n}
}

func NewBoolean(b bool) Value {
	return Value{kind: Boolean, boolean: b}
}

func NewDateTime(t time.Time) Value {
	return Value{kind: DateTime, when: t.UTC()}
}

func NewGUID(id uuid.UUID) Value {
	return Value{kind: GUID, guid: id}
}

func NewBinary(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: Binary, bin: cp}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) Text() string    { return v.text }
func (v Value) Int64() int64    { return v.number }
func (v Value) Bool() bool      { return v.boolean }
func (v Value) Time() time.Time { return v.when }
func (v Value) GUID() uuid.UUID { return v.guid }
func (v Value) Bytes() []byte   { return v.bin }

// Equal reports whether two values are the same under directory matching
// semantics: references (DNs) compare case-insensitively, binary compares
// byte-wise, everything else compares on its native representation.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Text:
		return v.text == o.text
	case Reference:
		return strings.EqualFold(v.text, o.text)
	case Number, LongNumber:
		return v.number == o.number
	case Boolean:
		return v.boolean == o.boolean
	case DateTime:
		return v.when.Equal(o.when)
	case GUID:
		return v.guid == o.guid
	case Binary:
		return bytes.Equal(v.bin, o.bin)
	}
	return false
}

// String renders a diagnostic form. Binary is base64-encoded rather than
// dumped raw.
func (v Value) String() string {
	switch v.kind {
	case Text, Reference:
		return v.text
	case Number, LongNumber:
		return strconv.FormatInt(v.number, 10)
	case Boolean:
		if v.boolean {
			return "TRUE"
		}
		return "FALSE"
	case DateTime:
		return v.when.Format(time.RFC3339)
	case GUID:
		return v.guid.String()
	case Binary:
		return base64.StdEncoding.EncodeToString(v.bin)
	}
	return ""
}
