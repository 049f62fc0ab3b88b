// Package exporter translates pending attribute-level change requests
// into directory write operations.
package exporter

import (
	"context"
	"fmt"
	"time"

	"identra/metadir/config"
	"identra/metadir/directory"
	"identra/metadir/metaverse"

	"github.com/google/uuid"
)

// IdentifierAttribute is the attribute-change name carrying the target
// distinguished name.
const IdentifierAttribute = "distinguishedName"

// Engine converts a batch of pending exports into directory writes. One
// Engine is built per export batch session: the verified-container cache
// must not outlive the cycle's directory connection.
type Engine struct {
	client   directory.Client
	settings config.Settings
	verified map[string]struct{}
}

func New(client directory.Client, settings config.Settings) *Engine {
	return &Engine{
		client:   client,
		settings: settings,
		verified: make(map[string]struct{}),
	}
}

// Result is the per-PendingExport outcome surfaced to the caller. The
// caller, not this engine, decides about error counters and object-level
// retry scheduling.
type Result struct {
	PendingExportID uuid.UUID
	Succeeded       bool
	NewDN           string
	ServerGUID      *uuid.UUID
	Err             error
}

// ExportBatch processes pending exports independently: one object's
// failure never aborts its siblings. Cancellation is honored between
// operations, never mid-write, so an interrupted batch leaves unconsumed
// pending exports in well-defined state.
func (e *Engine) ExportBatch(ctx context.Context, batch []*metaverse.PendingExport) []Result {
	results := make([]Result, 0, len(batch))
	for _, pending := range batch {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.exportOne(pending))
	}
	return results
}

func (e *Engine) exportOne(pending *metaverse.PendingExport) Result {
	pending.Status = metaverse.ExportExecuting
	pending.LastAttempt = time.Now()

	result := Result{PendingExportID: pending.ID}

	var err error
	switch pending.ChangeType {
	case metaverse.ExportCreate:
		result.NewDN, result.ServerGUID, err = e.exportCreate(pending)
	case metaverse.ExportUpdate:
		result.NewDN, err = e.exportUpdate(pending)
	case metaverse.ExportDelete:
		err = e.exportDelete(pending)
	default:
		err = fmt.Errorf("unknown export change type %d", pending.ChangeType)
	}

	if err != nil {
		pending.Status = metaverse.ExportFailed
		result.Err = err
		return result
	}

	for _, change := range pending.Changes {
		if change.Exportable() {
			change.MarkExported()
		}
	}
	pending.Status = metaverse.ExportExported
	if result.NewDN != "" {
		pending.ObjectDN = result.NewDN
	}
	result.Succeeded = true
	return result
}

// identifierDN pulls the target DN out of the attribute-change list.
func identifierDN(pending *metaverse.PendingExport) (string, error) {
	change, ok := pending.Change(IdentifierAttribute)
	if !ok || change.Value.Text() == "" {
		return "", fmt.Errorf("pending export %s has no %s attribute change", pending.ID, IdentifierAttribute)
	}
	return change.Value.Text(), nil
}

// currentDN resolves the object's present identifier: the stored
// secondary-identifier snapshot, falling back to the identifier found in
// the change list.
func currentDN(pending *metaverse.PendingExport) (string, error) {
	if pending.ObjectDN != "" {
		return pending.ObjectDN, nil
	}
	return identifierDN(pending)
}
