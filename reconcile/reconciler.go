// Package reconcile confirms previously exported attribute changes
// against freshly imported object state. A write is only considered
// durable once a later import observes the expected value.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"identra/metadir/attributes"
	"identra/metadir/metaverse"

	"github.com/google/uuid"
)

// DefaultMaxExportAttempts bounds how often an unconfirmed change is
// re-exported before it is marked failed.
const DefaultMaxExportAttempts = 5

type Reconciler struct {
	store       metaverse.Store
	maxAttempts int
}

func New(store metaverse.Store, maxAttempts int) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxExportAttempts
	}
	return &Reconciler{
		store:       store,
		maxAttempts: maxAttempts,
	}
}

// ConfirmObject advances the confirmation state machine for every
// outstanding attribute change of one freshly imported object. Confirmed
// changes are removed from their parent; a pending export whose change
// list empties is deleted entirely. Re-running with the same imported
// values alters nothing.
func (r *Reconciler) ConfirmObject(ctx context.Context, systemID, objectID uuid.UUID, imported map[string][]attributes.Value) error {
	exports, err := r.store.PendingExportsFor(ctx, objectID)
	if err != nil {
		return fmt.Errorf("load pending exports for %s: %w", objectID, err)
	}

	for _, pending := range exports {
		// Iterate over a snapshot: confirmation removes entries.
		outstanding := make([]*metaverse.AttributeValueChange, len(pending.Changes))
		copy(outstanding, pending.Changes)

		for _, change := range outstanding {
			if !change.AwaitingConfirmation() {
				continue
			}

			if observedMatch(change, imported[change.Name]) {
				change.Status = metaverse.ChangeConfirmed
				pending.RemoveChange(change.ID)
				continue
			}

			change.LastImportedValue = formatObserved(imported[change.Name])
			if change.ExportAttemptCount >= r.maxAttempts {
				change.Status = metaverse.ChangeFailed
			} else {
				change.Status = metaverse.ChangeExportedNotConfirmed
			}
		}

		if pending.HasFailedChange() {
			pending.Status = metaverse.ExportFailed
		}

		if len(pending.Changes) == 0 {
			if err := r.store.DeletePendingExport(ctx, pending.ID); err != nil {
				return fmt.Errorf("delete confirmed pending export %s: %w", pending.ID, err)
			}
			continue
		}
		if err := r.store.SavePendingExport(ctx, systemID, pending); err != nil {
			return fmt.Errorf("save pending export %s: %w", pending.ID, err)
		}
	}

	return nil
}

// observedMatch reports whether the imported values satisfy the change's
// intent. Value-presence matching short-circuits on the first hit.
func observedMatch(change *metaverse.AttributeValueChange, observed []attributes.Value) bool {
	switch change.ChangeType {
	case metaverse.AttributeAdd, metaverse.AttributeUpdate:
		return containsValue(observed, change.Value)
	case metaverse.AttributeRemove:
		return !containsValue(observed, change.Value)
	case metaverse.AttributeRemoveAll:
		return len(observed) == 0
	}
	return false
}

func containsValue(values []attributes.Value, want attributes.Value) bool {
	for _, v := range values {
		if v.Equal(want) {
			return true
		}
	}
	return false
}

// formatObserved renders the imported values for the change's diagnostic
// field.
func formatObserved(observed []attributes.Value) string {
	if len(observed) == 0 {
		return "<absent>"
	}
	parts := make([]string, len(observed))
	for i, v := range observed {
		parts[i] = v.String()
	}
	return strings.Join(parts, ";")
}
