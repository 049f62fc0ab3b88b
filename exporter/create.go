package exporter

import (
	"fmt"
	"log"
	"strings"

	"identra/metadir/attributes"
	"identra/metadir/directory"
	"identra/metadir/directory/filters"
	"identra/metadir/metaverse"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

const (
	objectClassAttribute = "objectClass"
	serverGUIDAttribute  = "objectGUID"
)

// exportCreate adds a new directory object, provisioning missing parent
// containers first when the setting allows.
func (e *Engine) exportCreate(pending *metaverse.PendingExport) (string, *uuid.UUID, error) {
	dn, err := identifierDN(pending)
	if err != nil {
		return "", nil, err
	}

	if e.settings.CreateContainers {
		if err := e.ensureContainers(dn); err != nil {
			return "", nil, err
		}
	}

	add := ldap.NewAddRequest(dn, nil)
	var attrNames []string

	classes := changeValues(pending, objectClassAttribute)
	if len(classes) == 0 {
		return "", nil, fmt.Errorf("pending export %s has no %s attribute change", pending.ID, objectClassAttribute)
	}
	add.Attribute(objectClassAttribute, classes)
	attrNames = append(attrNames, objectClassAttribute)

	// Identifier and object class are already handled above.
	grouped := make(map[string][]attributes.Value)
	var order []string
	for _, change := range pending.Changes {
		if !change.Exportable() {
			continue
		}
		if change.Name == IdentifierAttribute || change.Name == objectClassAttribute {
			continue
		}
		if _, ok := grouped[change.Name]; !ok {
			order = append(order, change.Name)
		}
		grouped[change.Name] = append(grouped[change.Name], change.Value)
	}
	for _, name := range order {
		add.Attribute(name, attributes.EncodeAll(grouped[name]))
		attrNames = append(attrNames, name)
	}

	if err := e.client.Add(add); err != nil {
		return "", nil, directory.WrapOperation("add", dn, attrNames, err)
	}

	// The server-assigned unique identifier is a best-effort read; the
	// create already succeeded.
	serverGUID := e.readServerGUID(dn)
	return dn, serverGUID, nil
}

// readServerGUID fetches the directory-assigned unique id of a freshly
// created object. Failure is non-fatal.
func (e *Engine) readServerGUID(dn string) *uuid.UUID {
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		filters.Present(objectClassAttribute).String(),
		[]string{serverGUIDAttribute},
		nil,
	)

	res, err := e.client.Search(req)
	if err != nil || len(res.Entries) == 0 {
		log.Printf("Could not read back %s for %s: %v", serverGUIDAttribute, dn, err)
		return nil
	}
	raw := res.Entries[0].GetRawAttributeValue(serverGUIDAttribute)
	if len(raw) == 0 {
		return nil
	}
	id, err := attributes.GUIDFromWire(raw)
	if err != nil {
		log.Printf("Could not parse %s for %s: %v", serverGUIDAttribute, dn, err)
		return nil
	}
	return &id
}

// ensureContainers walks the identifier's parent chain and creates every
// absent organizational-unit/container ancestor, root-to-leaf.
// Domain-level ancestors are assumed pre-existing. Verified DNs are cached
// for the remainder of the batch session.
func (e *Engine) ensureContainers(dn string) error {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return fmt.Errorf("parse DN %q: %w", dn, err)
	}

	type ancestor struct {
		dn      string
		rdnType string
		rdnVal  string
	}

	// Explicit worklist of missing ancestors, discovered leaf-to-root.
	var missing []ancestor
	for i := 1; i < len(parsed.RDNs); i++ {
		rdn := parsed.RDNs[i]
		if len(rdn.Attributes) == 0 {
			return fmt.Errorf("malformed RDN in %q", dn)
		}
		if strings.EqualFold(rdn.Attributes[0].Type, "DC") {
			break
		}

		ancestorDN := dnString(parsed.RDNs[i:])
		if _, ok := e.verified[strings.ToLower(ancestorDN)]; ok {
			break
		}

		exists, err := e.containerExists(ancestorDN)
		if err != nil {
			return err
		}
		if exists {
			e.verified[strings.ToLower(ancestorDN)] = struct{}{}
			break
		}
		missing = append(missing, ancestor{
			dn:      ancestorDN,
			rdnType: rdn.Attributes[0].Type,
			rdnVal:  rdn.Attributes[0].Value,
		})
	}

	// Create top-down: a child container cannot precede its parent.
	for i := len(missing) - 1; i >= 0; i-- {
		a := missing[i]
		if err := e.createContainer(a.dn, a.rdnType, a.rdnVal); err != nil {
			return err
		}
		e.verified[strings.ToLower(a.dn)] = struct{}{}
		log.Printf("Created missing container %s", a.dn)
	}
	return nil
}

func (e *Engine) containerExists(dn string) (bool, error) {
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		filters.Present(objectClassAttribute).String(),
		[]string{objectClassAttribute},
		nil,
	)

	res, err := e.client.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return false, nil
		}
		return false, directory.WrapOperation("search", dn, nil, err)
	}
	return len(res.Entries) > 0, nil
}

func (e *Engine) createContainer(dn, rdnType, rdnValue string) error {
	class := "container"
	namingAttr := "cn"
	if strings.EqualFold(rdnType, "OU") {
		class = "organizationalUnit"
		namingAttr = "ou"
	}

	add := ldap.NewAddRequest(dn, nil)
	add.Attribute(objectClassAttribute, []string{class})
	add.Attribute(namingAttr, []string{rdnValue})

	if err := e.client.Add(add); err != nil {
		return directory.WrapOperation("add", dn, []string{objectClassAttribute, namingAttr}, err)
	}
	return nil
}

// changeValues collects the encoded values of every exportable change for
// one attribute.
func changeValues(pending *metaverse.PendingExport, name string) []string {
	var out []string
	for _, change := range pending.Changes {
		if change.Name == name && change.Exportable() {
			out = append(out, attributes.Encode(change.Value))
		}
	}
	return out
}

// dnString re-encodes a parsed RDN sequence into its string form.
func dnString(rdns []*ldap.RelativeDN) string {
	parts := make([]string, 0, len(rdns))
	for _, rdn := range rdns {
		attrParts := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrParts = append(attrParts, attr.Type+"="+ldap.EscapeDN(attr.Value))
		}
		parts = append(parts, strings.Join(attrParts, "+"))
	}
	return strings.Join(parts, ",")
}
