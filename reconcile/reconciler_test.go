package reconcile

import (
	"context"
	"testing"

	"identra/metadir/attributes"
	"identra/metadir/metaverse"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportedChange(name string, changeType metaverse.AttributeChangeType, value attributes.Value) *metaverse.AttributeValueChange {
	return &metaverse.AttributeValueChange{
		ID:                 uuid.New(),
		Name:               name,
		ChangeType:         changeType,
		Value:              value,
		Status:             metaverse.ChangeExportedPendingConfirmation,
		ExportAttemptCount: 1,
	}
}

func savedPending(t *testing.T, store *metaverse.MemStore, systemID uuid.UUID, changes ...*metaverse.AttributeValueChange) *metaverse.PendingExport {
	t.Helper()
	pending := &metaverse.PendingExport{
		ID:         uuid.New(),
		ObjectID:   uuid.New(),
		ObjectDN:   "CN=Jane,OU=Eng,DC=example,DC=com",
		ChangeType: metaverse.ExportUpdate,
		Status:     metaverse.ExportExported,
		Changes:    changes,
	}
	require.NoError(t, store.SavePendingExport(context.Background(), systemID, pending))
	return pending
}

func TestConfirmObjectDeletesFullyConfirmedExport(t *testing.T) {
	store := metaverse.NewMemStore()
	systemID := uuid.New()
	pending := savedPending(t, store, systemID,
		exportedChange("displayName", metaverse.AttributeUpdate, attributes.NewText("Jane D")),
		exportedChange("memberOf", metaverse.AttributeAdd, attributes.NewReference("CN=Staff,DC=example,DC=com")),
	)

	imported := map[string][]attributes.Value{
		"displayName": {attributes.NewText("Jane D")},
		"memberOf":    {attributes.NewReference("cn=staff,dc=example,dc=com")},
	}

	reconciler := New(store, 0)
	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, imported))

	remaining, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	assert.Empty(t, remaining, "a fully confirmed export is deleted, not kept empty")
}

func TestConfirmObjectPartialMatchKeepsRemainder(t *testing.T) {
	store := metaverse.NewMemStore()
	systemID := uuid.New()
	confirmed := exportedChange("displayName", metaverse.AttributeUpdate, attributes.NewText("Jane D"))
	unconfirmed := exportedChange("title", metaverse.AttributeUpdate, attributes.NewText("Engineer"))
	pending := savedPending(t, store, systemID, confirmed, unconfirmed)

	imported := map[string][]attributes.Value{
		"displayName": {attributes.NewText("Jane D")},
		"title":       {attributes.NewText("Manager")},
	}

	reconciler := New(store, 0)
	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, imported))

	remaining, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Len(t, remaining[0].Changes, 1)

	kept := remaining[0].Changes[0]
	assert.Equal(t, "title", kept.Name)
	assert.Equal(t, metaverse.ChangeExportedNotConfirmed, kept.Status, "an unconfirmed change goes back on the export worklist")
	assert.Equal(t, "Manager", kept.LastImportedValue)
}

func TestConfirmObjectRecordsAbsentValue(t *testing.T) {
	store := metaverse.NewMemStore()
	systemID := uuid.New()
	pending := savedPending(t, store, systemID,
		exportedChange("description", metaverse.AttributeUpdate, attributes.NewText("synced")),
	)

	reconciler := New(store, 0)
	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, map[string][]attributes.Value{}))

	remaining, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "<absent>", remaining[0].Changes[0].LastImportedValue)
}

func TestConfirmObjectRemoveConfirmedByAbsence(t *testing.T) {
	store := metaverse.NewMemStore()
	systemID := uuid.New()
	pending := savedPending(t, store, systemID,
		exportedChange("memberOf", metaverse.AttributeRemove, attributes.NewReference("CN=Old,DC=example,DC=com")),
	)

	imported := map[string][]attributes.Value{
		"memberOf": {attributes.NewReference("CN=Other,DC=example,DC=com")},
	}

	reconciler := New(store, 0)
	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, imported))

	remaining, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	assert.Empty(t, remaining, "a removed value no longer observed is confirmed")
}

func TestConfirmObjectRemoveAllNeedsEmptyAttribute(t *testing.T) {
	store := metaverse.NewMemStore()
	systemID := uuid.New()
	pending := savedPending(t, store, systemID,
		exportedChange("otherTelephone", metaverse.AttributeRemoveAll, attributes.NewText("")),
	)

	imported := map[string][]attributes.Value{
		"otherTelephone": {attributes.NewText("555-0100")},
	}

	reconciler := New(store, 0)
	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, imported))

	remaining, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	require.Len(t, remaining, 1, "values still present keep the clear unconfirmed")
}

func TestConfirmObjectFailsChangeAfterRetryBudget(t *testing.T) {
	store := metaverse.NewMemStore()
	systemID := uuid.New()
	exhausted := exportedChange("title", metaverse.AttributeUpdate, attributes.NewText("Engineer"))
	exhausted.ExportAttemptCount = DefaultMaxExportAttempts
	pending := savedPending(t, store, systemID, exhausted)

	reconciler := New(store, 0)
	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, map[string][]attributes.Value{}))

	remaining, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, metaverse.ChangeFailed, remaining[0].Changes[0].Status)
	assert.Equal(t, metaverse.ExportFailed, remaining[0].Status, "a failed change fails its parent export")
}

func TestConfirmObjectBelowBudgetStaysRetryable(t *testing.T) {
	store := metaverse.NewMemStore()
	systemID := uuid.New()
	retryable := exportedChange("title", metaverse.AttributeUpdate, attributes.NewText("Engineer"))
	retryable.ExportAttemptCount = DefaultMaxExportAttempts - 1
	pending := savedPending(t, store, systemID, retryable)

	reconciler := New(store, 0)
	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, map[string][]attributes.Value{}))

	remaining, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, metaverse.ChangeExportedNotConfirmed, remaining[0].Changes[0].Status)
	assert.True(t, remaining[0].Changes[0].Exportable())
}

func TestConfirmObjectIsIdempotent(t *testing.T) {
	store := metaverse.NewMemStore()
	systemID := uuid.New()
	pending := savedPending(t, store, systemID,
		exportedChange("displayName", metaverse.AttributeUpdate, attributes.NewText("Jane D")),
		exportedChange("title", metaverse.AttributeUpdate, attributes.NewText("Engineer")),
	)

	imported := map[string][]attributes.Value{
		"displayName": {attributes.NewText("Jane D")},
	}

	reconciler := New(store, 0)
	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, imported))

	first, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	attempts := first[0].Changes[0].ExportAttemptCount
	status := first[0].Changes[0].Status

	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, imported))

	second, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, attempts, second[0].Changes[0].ExportAttemptCount)
	assert.Equal(t, status, second[0].Changes[0].Status)
}

func TestConfirmObjectIgnoresPendingChanges(t *testing.T) {
	store := metaverse.NewMemStore()
	systemID := uuid.New()
	untouched := &metaverse.AttributeValueChange{
		ID:         uuid.New(),
		Name:       "displayName",
		ChangeType: metaverse.AttributeUpdate,
		Value:      attributes.NewText("Jane D"),
		Status:     metaverse.ChangePending,
	}
	pending := savedPending(t, store, systemID, untouched)

	imported := map[string][]attributes.Value{
		"displayName": {attributes.NewText("Jane D")},
	}

	reconciler := New(store, 0)
	require.NoError(t, reconciler.ConfirmObject(context.Background(), systemID, pending.ObjectID, imported))

	remaining, err := store.PendingExportsFor(context.Background(), pending.ObjectID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, metaverse.ChangePending, remaining[0].Changes[0].Status, "only exported changes participate in confirmation")
}
