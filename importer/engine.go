// Package importer retrieves directory objects into typed import records,
// full or incremental, with resumable pagination.
package importer

import (
	"context"
	"fmt"
	"log"

	"identra/metadir/attributes"
	"identra/metadir/directory"
	"identra/metadir/directory/filters"
	"identra/metadir/metaverse"
	"identra/metadir/watermark"

	"github.com/go-ldap/ldap/v3"
)

const objectClassAttribute = "objectClass"

// Engine enumerates changed or created objects per selected
// (container, object type) pair and emits typed records plus resumption
// state.
type Engine struct {
	client directory.Client
	store  metaverse.Store
	system *metaverse.ConnectedSystem
}

func New(client directory.Client, store metaverse.Store, system *metaverse.ConnectedSystem) *Engine {
	return &Engine{
		client: client,
		store:  store,
		system: system,
	}
}

// Result is one import cycle's output. Records may be partial when the
// returned error is a cancellation: accumulated work is never discarded.
type Result struct {
	Records   []Record
	Watermark *watermark.Watermark
}

// FullImport enumerates every object of every selected type under every
// selected container. The watermark is captured before the first search
// so it can serve as the next delta cycle's baseline regardless of how
// many pages follow.
func (e *Engine) FullImport(ctx context.Context) (*Result, error) {
	wm, err := e.captureWatermark()
	if err != nil {
		return nil, err
	}
	result := &Result{Watermark: wm}

	for _, container := range e.system.Containers {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		for _, objType := range e.system.Types {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}

			filter := filters.Eq(objectClassAttribute, objType.Name).String()
			if err := e.importPartition(ctx, container, objType, filter, nil, result); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

// importPartition pages through one (container, object type) search,
// persisting resume cookies between pages so an interrupted cycle picks
// up where it left off.
func (e *Engine) importPartition(
	ctx context.Context,
	container metaverse.Container,
	objType metaverse.ObjectType,
	filter string,
	extraAttributes []string,
	result *Result,
) error {
	key := watermark.PageKey{ContainerID: container.ID, ObjectTypeID: objType.ID}
	searchAttrs := searchAttributes(objType, extraAttributes)
	paging := result.Watermark.SupportsPaging

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cookie, err := e.store.PageCookie(ctx, e.system.ID, key)
		if err != nil {
			return fmt.Errorf("load page cookie for %s/%s: %w", container.DN, objType.Name, err)
		}
		resumed := len(cookie) > 0

		var controls []ldap.Control
		if paging {
			pageControl := ldap.NewControlPaging(e.system.PageSize)
			if resumed {
				pageControl.SetCookie(cookie)
			}
			controls = append(controls, pageControl)
		}

		req := ldap.NewSearchRequest(
			container.DN,
			ldap.ScopeWholeSubtree,
			ldap.NeverDerefAliases,
			0, 0, false,
			filter,
			searchAttrs,
			controls,
		)

		res, err := e.client.Search(req)
		if err != nil {
			// Some servers accept the paging control on the request but
			// reject it mid-protocol after already returning every result
			// on page one. The entries we hold are complete; end this
			// key's pagination instead of failing the cycle.
			if resumed && ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailableCriticalExtension) {
				log.Printf("server rejected paging control after cookie for %s (%s); treating pagination as complete", container.DN, objType.Name)
				if clearErr := e.store.ClearPageCookie(ctx, e.system.ID, key); clearErr != nil {
					return fmt.Errorf("clear page cookie for %s/%s: %w", container.DN, objType.Name, clearErr)
				}
				return nil
			}
			return directory.WrapOperation("search", container.DN, nil, err)
		}

		for _, entry := range res.Entries {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Records = append(result.Records, e.convertEntry(entry))
		}

		if !paging {
			return nil
		}

		next := ldap.FindControl(res.Controls, ldap.ControlTypePaging)
		pagingControl, ok := next.(*ldap.ControlPaging)
		if !ok || len(pagingControl.Cookie) == 0 {
			if err := e.store.ClearPageCookie(ctx, e.system.ID, key); err != nil {
				return fmt.Errorf("clear page cookie for %s/%s: %w", container.DN, objType.Name, err)
			}
			return nil
		}
		if err := e.store.SavePageCookie(ctx, e.system.ID, key, pagingControl.Cookie); err != nil {
			return fmt.Errorf("save page cookie for %s/%s: %w", container.DN, objType.Name, err)
		}
	}
}

// searchAttributes builds the requested attribute set: the user-selected
// attributes (external identifiers included by the schema model), the
// object-class attribute needed for type disambiguation, and any flavor
// extras such as the soft-delete marker.
func searchAttributes(objType metaverse.ObjectType, extra []string) []string {
	attrs := objType.SelectedAttributeNames()
	seen := make(map[string]struct{}, len(attrs)+len(extra)+1)
	for _, a := range attrs {
		seen[a] = struct{}{}
	}
	if _, ok := seen[objectClassAttribute]; !ok {
		attrs = append(attrs, objectClassAttribute)
		seen[objectClassAttribute] = struct{}{}
	}
	for _, a := range extra {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		attrs = append(attrs, a)
	}
	return attrs
}

// convertEntry resolves the entry's object type and decodes its selected
// attributes. Unresolvable or undecodable entries yield error records, not
// silent drops.
func (e *Engine) convertEntry(entry *ldap.Entry) Record {
	classes := entry.GetAttributeValues(objectClassAttribute)
	objType, ok := e.resolveType(classes)
	if !ok {
		return Record{
			ChangeType:   ChangeNotSet,
			DN:           entry.DN,
			ErrorType:    ErrorTypeUnresolvedObjectType,
			ErrorMessage: fmt.Sprintf("no selected object type matches classes %v for %s", classes, entry.DN),
		}
	}

	record := Record{
		ChangeType:     ChangeNotSet,
		ObjectTypeName: objType.Name,
		DN:             entry.DN,
	}

	for _, attr := range entry.Attributes {
		if attr.Name == objectClassAttribute {
			continue
		}
		def, ok := objType.Definition(attr.Name)
		if !ok {
			log.Printf("Skipping unselected attribute %s on %s", attr.Name, entry.DN)
			continue
		}

		values, err := attributes.Decode(def.Kind, attr.ByteValues)
		if err != nil {
			record.ErrorType = ErrorTypeAttributeDecode
			record.ErrorMessage = fmt.Sprintf("attribute %s on %s: %v", attr.Name, entry.DN, err)
			return record
		}
		record.Attributes = append(record.Attributes, TypedAttribute{Name: attr.Name, Values: values})
	}

	return record
}

// resolveType walks the entry's class values in the order the directory
// returned them and picks the first selected type that matches.
func (e *Engine) resolveType(classes []string) (metaverse.ObjectType, bool) {
	for _, class := range classes {
		for _, t := range e.system.Types {
			if t.Name == class {
				return t, true
			}
		}
	}
	return metaverse.ObjectType{}, false
}

// captureWatermark snapshots the server's change-tracking state. Paging
// support can be forced off per server quirk.
func (e *Engine) captureWatermark() (*watermark.Watermark, error) {
	info, err := directory.FetchServerInfo(e.client)
	if err != nil {
		return nil, fmt.Errorf("capture watermark: %w", err)
	}

	return &watermark.Watermark{
		Version:             watermark.Version,
		DNSHostName:         info.DNSHostName,
		HighestCommittedUSN: info.HighestCommittedUSN,
		LastChangeNumber:    info.LastChangeNumber,
		HasSequenceCounter:  info.Flavor() == directory.FlavorSequenceCounter,
		SupportsPaging:      info.SupportsPaging && !e.system.PagingDisabled,
	}, nil
}
