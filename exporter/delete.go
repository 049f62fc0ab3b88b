package exporter

import (
	"fmt"
	"log"
	"strconv"

	"identra/metadir/config"
	"identra/metadir/directory"
	"identra/metadir/directory/filters"
	"identra/metadir/metaverse"

	"github.com/go-ldap/ldap/v3"
)

// accountDisabledBit is the disable flag within account-control style
// bitmask attributes.
const accountDisabledBit = 0x2

// exportDelete removes the target object, or soft-disables it when the
// delete behaviour policy says so.
func (e *Engine) exportDelete(pending *metaverse.PendingExport) error {
	dn, err := currentDN(pending)
	if err != nil {
		return err
	}

	if e.settings.DeleteBehaviour == config.DeleteDisable {
		return e.disableObject(dn)
	}

	del := ldap.NewDelRequest(dn, nil)
	if err := e.client.Delete(del); err != nil {
		return directory.WrapOperation("delete", dn, nil, err)
	}
	return nil
}

// disableObject reads the current account-control value and ORs in the
// disable bit. Overwriting the whole bitmask would lose the other flags.
func (e *Engine) disableObject(dn string) error {
	attr := e.settings.DisableAttribute

	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		filters.Present(objectClassAttribute).String(),
		[]string{attr},
		nil,
	)
	res, err := e.client.Search(req)
	if err != nil {
		return directory.WrapOperation("search", dn, []string{attr}, err)
	}
	if len(res.Entries) == 0 {
		return directory.WrapOperation("search", dn, []string{attr}, fmt.Errorf("object not found"))
	}

	var current int64
	if v := res.Entries[0].GetAttributeValue(attr); v != "" {
		current, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s value %q on %s: %w", attr, v, dn, err)
		}
	} else {
		log.Printf("Object %s has no %s value; writing the disable bit into a fresh bitmask", dn, attr)
	}

	disabled := current | accountDisabledBit

	modify := ldap.NewModifyRequest(dn, nil)
	modify.Replace(attr, []string{strconv.FormatInt(disabled, 10)})
	if err := e.client.Modify(modify); err != nil {
		return directory.WrapOperation("modify", dn, []string{attr}, err)
	}
	return nil
}
