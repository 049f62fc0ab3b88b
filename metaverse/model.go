// Package metaverse defines the central-store object model shared by the
// import, export and reconciliation engines, plus the Store abstraction
// they persist through.
package metaverse

import (
	"identra/metadir/attributes"

	"github.com/google/uuid"
)

// AttributeDefinition describes one schema attribute of an object type.
type AttributeDefinition struct {
	Name         string
	Kind         attributes.Kind
	IsExternalID bool
	Multivalued  bool
}

// ObjectType is a selected schema type; Name doubles as the directory
// object class used in import filters.
type ObjectType struct {
	ID         uuid.UUID
	Name       string
	Attributes []AttributeDefinition
}

// SelectedAttributeNames returns the attribute set an import search must
// request: every selected attribute plus any external-identifier
// attribute(s). The object-class attribute is appended by the engine.
func (t ObjectType) SelectedAttributeNames() []string {
	seen := make(map[string]struct{}, len(t.Attributes))
	names := make([]string, 0, len(t.Attributes))
	for _, a := range t.Attributes {
		if _, ok := seen[a.Name]; ok {
			continue
		}
		seen[a.Name] = struct{}{}
		names = append(names, a.Name)
	}
	return names
}

// Definition returns the schema definition for a named attribute.
func (t ObjectType) Definition(name string) (AttributeDefinition, bool) {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeDefinition{}, false
}

// Container is one selected directory container (partition subtree).
type Container struct {
	ID uuid.UUID
	DN string
}

// ConnectedSystem describes one external directory under management.
type ConnectedSystem struct {
	ID             uuid.UUID
	Name           string
	BaseDN         string
	PageSize       uint32
	PagingDisabled bool // per-server quirk: force unpaged searches
	Containers     []Container
	Types          []ObjectType
}
