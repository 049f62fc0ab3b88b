package importer

import (
	"identra/metadir/attributes"
)

// ChangeType classifies an imported record. NotSet is emitted when the
// source cannot distinguish create from update; the matching engine
// resolves it against the central store.
type ChangeType int

const (
	ChangeNotSet ChangeType = iota
	ChangeAdded
	ChangeUpdated
	ChangeDeleted
)

func (t ChangeType) String() string {
	switch t {
	case ChangeNotSet:
		return "notSet"
	case ChangeAdded:
		return "added"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	}
	return "unknown"
}

// Record error classifications.
const (
	ErrorTypeUnresolvedObjectType = "unresolved-object-type"
	ErrorTypeAttributeDecode      = "attribute-decode-failed"
)

// TypedAttribute is one attribute of an imported object with its decoded
// values, in the order the directory returned them.
type TypedAttribute struct {
	Name   string
	Values []attributes.Value
}

// Record is one retrieved or changed directory entry, handed to the
// external matching engine. Records are transient: produced per cycle,
// never persisted by this core.
type Record struct {
	ChangeType     ChangeType
	ObjectTypeName string
	DN             string
	Attributes     []TypedAttribute
	ErrorType      string
	ErrorMessage   string
}

// Attribute returns the decoded values for a named attribute.
func (r *Record) Attribute(name string) ([]attributes.Value, bool) {
	for _, a := range r.Attributes {
		if a.Name == name {
			return a.Values, true
		}
	}
	return nil, false
}

// AttributeMap flattens the attribute list for value-lookup consumers
// such as export confirmation.
func (r *Record) AttributeMap() map[string][]attributes.Value {
	m := make(map[string][]attributes.Value, len(r.Attributes))
	for _, a := range r.Attributes {
		m[a.Name] = a.Values
	}
	return m
}
