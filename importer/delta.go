package importer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"identra/metadir/directory"
	"identra/metadir/directory/filters"
	"identra/metadir/watermark"

	"github.com/go-ldap/ldap/v3"
)

// ErrNoWatermark is the precondition fault raised when a delta import is
// attempted without a usable baseline. It is fatal to the cycle and never
// retried automatically; the caller must run a full import first.
var ErrNoWatermark = errors.New("no usable watermark; run a full import first")

const (
	sequenceCounterAttribute = "uSNChanged"
	softDeleteAttribute      = "isDeleted"

	changelogBaseDN              = "cn=changelog"
	changelogNumberAttribute     = "changeNumber"
	changelogTargetDNAttribute   = "targetDN"
	changelogChangeTypeAttribute = "changeType"
)

// DeltaImport retrieves objects changed since the previously persisted
// watermark. The new watermark is captured before the first delta query:
// the snapshot baselining the *next* cycle must be no older than the query
// that consumes the previous one.
func (e *Engine) DeltaImport(ctx context.Context) (*Result, error) {
	data, err := e.store.ConnectorData(ctx, e.system.ID)
	if err != nil {
		return nil, fmt.Errorf("load connector data: %w", err)
	}
	previous, err := watermark.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoWatermark, err)
	}

	next, err := e.captureWatermark()
	if err != nil {
		return nil, err
	}
	result := &Result{Watermark: next}

	if previous.HasSequenceCounter {
		err = e.deltaBySequenceCounter(ctx, previous, result)
	} else {
		err = e.deltaByChangelog(ctx, previous, result)
	}
	return result, err
}

// deltaBySequenceCounter filters each (container, object type) search on
// the per-object update counter. The counter only proves "something
// changed", so records carry ChangeNotSet; the soft-delete marker is
// requested so tombstoned entries can be recognized by the consumer.
func (e *Engine) deltaBySequenceCounter(ctx context.Context, previous *watermark.Watermark, result *Result) error {
	if previous.HighestCommittedUSN == nil {
		return fmt.Errorf("%w: watermark has no sequence counter", ErrNoWatermark)
	}
	floor := *previous.HighestCommittedUSN + 1

	for _, container := range e.system.Containers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, objType := range e.system.Types {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			filter := filters.And(
				filters.Eq(objectClassAttribute, objType.Name),
				filters.Ge(sequenceCounterAttribute, floor),
			).String()
			extras := []string{softDeleteAttribute, sequenceCounterAttribute}
			if err := e.importPartition(ctx, container, objType, filter, extras, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// deltaByChangelog queries the changelog container for entries beyond the
// previous cursor. Changelog entries carry an explicit operation code but
// not full attribute state, so adds and updates re-fetch the target object.
func (e *Engine) deltaByChangelog(ctx context.Context, previous *watermark.Watermark, result *Result) error {
	var cursor int64
	if previous.LastChangeNumber != nil {
		cursor = *previous.LastChangeNumber
	}

	req := ldap.NewSearchRequest(
		changelogBaseDN,
		ldap.ScopeSingleLevel,
		ldap.NeverDerefAliases,
		0, 0, false,
		filters.And(
			filters.Present(changelogNumberAttribute),
			filters.Gt(changelogNumberAttribute, cursor),
		).String(),
		[]string{changelogNumberAttribute, changelogTargetDNAttribute, changelogChangeTypeAttribute},
		nil,
	)

	res, err := e.client.Search(req)
	if err != nil {
		return directory.WrapOperation("search", changelogBaseDN, nil, err)
	}

	for _, entry := range res.Entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		targetDN := entry.GetAttributeValue(changelogTargetDNAttribute)
		operation := entry.GetAttributeValue(changelogChangeTypeAttribute)

		changeType, refetch := mapChangelogOperation(operation)
		if !refetch {
			// The object is already gone; a minimal record is all that
			// can be produced.
			result.Records = append(result.Records, Record{
				ChangeType: changeType,
				DN:         targetDN,
			})
			continue
		}

		record, err := e.fetchTarget(targetDN, changeType)
		if err != nil {
			return err
		}
		if record != nil {
			result.Records = append(result.Records, *record)
		}
	}
	return nil
}

// mapChangelogOperation maps a changelog operation code to an import
// change type; refetch reports whether the current object state must be
// read back. Renames and moves are surfaced as updates.
func mapChangelogOperation(operation string) (ChangeType, bool) {
	switch operation {
	case "add":
		return ChangeAdded, true
	case "modify":
		return ChangeUpdated, true
	case "modrdn", "moddn":
		return ChangeUpdated, true
	case "delete":
		return ChangeDeleted, false
	default:
		log.Printf("Unknown changelog operation %q; treating as modify", operation)
		return ChangeUpdated, true
	}
}

// fetchTarget reads the full current state of one changed object by its
// identifier. A target deleted between the changelog read and the re-fetch
// yields a deleted record rather than an error.
func (e *Engine) fetchTarget(targetDN string, changeType ChangeType) (*Record, error) {
	attrs := make(map[string]struct{})
	var searchAttrs []string
	for _, objType := range e.system.Types {
		for _, name := range objType.SelectedAttributeNames() {
			if _, ok := attrs[name]; ok {
				continue
			}
			attrs[name] = struct{}{}
			searchAttrs = append(searchAttrs, name)
		}
	}
	if _, ok := attrs[objectClassAttribute]; !ok {
		searchAttrs = append(searchAttrs, objectClassAttribute)
	}

	req := ldap.NewSearchRequest(
		targetDN,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		filters.Present(objectClassAttribute).String(),
		searchAttrs,
		nil,
	)

	res, err := e.client.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return &Record{ChangeType: ChangeDeleted, DN: targetDN}, nil
		}
		return nil, directory.WrapOperation("search", targetDN, nil, err)
	}
	if len(res.Entries) == 0 {
		return &Record{ChangeType: ChangeDeleted, DN: targetDN}, nil
	}

	record := e.convertEntry(res.Entries[0])
	record.ChangeType = changeType
	return &record, nil
}
