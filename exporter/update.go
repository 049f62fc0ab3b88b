package exporter

import (
	"fmt"
	"log"
	"strings"

	"identra/metadir/attributes"
	"identra/metadir/directory"
	"identra/metadir/metaverse"

	"github.com/go-ldap/ldap/v3"
)

// exportUpdate applies outstanding attribute changes to an existing
// object, renaming or moving it first when the identifier itself changed.
// It returns the identifier all modifications were applied against.
func (e *Engine) exportUpdate(pending *metaverse.PendingExport) (string, error) {
	dn, err := currentDN(pending)
	if err != nil {
		return "", err
	}

	if idChange, ok := pending.Change(IdentifierAttribute); ok && idChange.Exportable() {
		newDN := idChange.Value.Text()
		if newDN != "" && !strings.EqualFold(newDN, dn) {
			dn, err = e.renameObject(dn, newDN)
			if err != nil {
				return "", err
			}
		}
	}

	rdnAttrs, err := rdnAttributeTypes(dn)
	if err != nil {
		return "", err
	}

	modify := ldap.NewModifyRequest(dn, nil)
	var attrNames []string
	var hasAdd bool
	for _, change := range pending.Changes {
		if !change.Exportable() || change.Name == IdentifierAttribute {
			continue
		}
		// Attributes forming the relative identifier can only change via
		// rename, never via ordinary modify.
		if _, ok := rdnAttrs[strings.ToLower(change.Name)]; ok {
			continue
		}

		applyChange(modify, change)
		attrNames = append(attrNames, change.Name)
		if change.ChangeType == metaverse.AttributeAdd {
			hasAdd = true
		}
	}

	if len(modify.Changes) == 0 {
		return dn, nil
	}

	if err := e.client.Modify(modify); err != nil {
		// An already-present value on an Add means the desired end state
		// is achieved. The batched request cannot tell which change
		// collided, so re-apply one at a time.
		if hasAdd && ldap.IsErrorWithCode(err, ldap.LDAPResultAttributeOrValueExists) {
			return dn, e.applyIndividually(dn, pending, rdnAttrs)
		}
		return "", directory.WrapOperation("modify", dn, attrNames, err)
	}
	return dn, nil
}

// renameObject splits the new identifier into its relative name and
// parent, detects move versus in-place rename, and issues one modify-DN
// operation.
func (e *Engine) renameObject(oldDN, newDN string) (string, error) {
	oldParsed, err := ldap.ParseDN(oldDN)
	if err != nil {
		return "", fmt.Errorf("parse DN %q: %w", oldDN, err)
	}
	newParsed, err := ldap.ParseDN(newDN)
	if err != nil {
		return "", fmt.Errorf("parse DN %q: %w", newDN, err)
	}
	if len(newParsed.RDNs) == 0 {
		return "", fmt.Errorf("empty target DN %q", newDN)
	}

	newRDN := dnString(newParsed.RDNs[:1])
	oldParent := dnString(oldParsed.RDNs[1:])
	newParent := dnString(newParsed.RDNs[1:])

	// A changed parent is a move and must name the new superior; an
	// unchanged parent is a pure rename.
	newSuperior := ""
	if !strings.EqualFold(oldParent, newParent) {
		newSuperior = newParent
	}

	rename := ldap.NewModifyDNRequest(oldDN, newRDN, true, newSuperior)
	if err := e.client.Rename(rename); err != nil {
		return "", directory.WrapOperation("rename", oldDN, nil, err)
	}

	log.Printf("Renamed %s to %s", oldDN, newDN)
	return newDN, nil
}

// applyIndividually re-issues each change as its own modify so that a
// benign duplicate-value fault on one Add does not mask real failures on
// the others.
func (e *Engine) applyIndividually(dn string, pending *metaverse.PendingExport, rdnAttrs map[string]struct{}) error {
	for _, change := range pending.Changes {
		if !change.Exportable() || change.Name == IdentifierAttribute {
			continue
		}
		if _, ok := rdnAttrs[strings.ToLower(change.Name)]; ok {
			continue
		}

		modify := ldap.NewModifyRequest(dn, nil)
		applyChange(modify, change)

		err := e.client.Modify(modify)
		if err == nil {
			continue
		}
		if change.ChangeType == metaverse.AttributeAdd && ldap.IsErrorWithCode(err, ldap.LDAPResultAttributeOrValueExists) {
			log.Printf("Value already present for %s on %s; treating add as success", change.Name, dn)
			continue
		}
		return directory.WrapOperation("modify", dn, []string{change.Name}, err)
	}
	return nil
}

// applyChange maps one attribute change onto the modify request. Remove
// deletes the specific value; RemoveAll clears the attribute by replacing
// it with no values.
func applyChange(modify *ldap.ModifyRequest, change *metaverse.AttributeValueChange) {
	switch change.ChangeType {
	case metaverse.AttributeAdd:
		modify.Add(change.Name, []string{attributes.Encode(change.Value)})
	case metaverse.AttributeUpdate:
		modify.Replace(change.Name, []string{attributes.Encode(change.Value)})
	case metaverse.AttributeRemove:
		modify.Delete(change.Name, []string{attributes.Encode(change.Value)})
	case metaverse.AttributeRemoveAll:
		modify.Replace(change.Name, []string{})
	}
}

// rdnAttributeTypes returns the attribute types forming the leaf RDN,
// lowercased.
func rdnAttributeTypes(dn string) (map[string]struct{}, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, fmt.Errorf("parse DN %q: %w", dn, err)
	}
	out := make(map[string]struct{})
	if len(parsed.RDNs) > 0 {
		for _, attr := range parsed.RDNs[0].Attributes {
			out[strings.ToLower(attr.Type)] = struct{}{}
		}
	}
	return out, nil
}
