package metaverse

import (
	"context"

	"identra/metadir/watermark"

	"github.com/google/uuid"
)

// Store is the central object store consumed by the sync core. One opaque
// connector-data string and a set of pagination cookies are kept per
// connected system; pending exports are kept per target object.
type Store interface {
	// ConnectorData returns the persisted opaque blob for a connected
	// system, or "" when none has been written yet.
	ConnectorData(ctx context.Context, systemID uuid.UUID) (string, error)
	SaveConnectorData(ctx context.Context, systemID uuid.UUID, data string) error

	// PageCookie returns the stored resume cookie for one
	// (container, object type) pair, or nil when pagination for that key
	// starts from page one.
	PageCookie(ctx context.Context, systemID uuid.UUID, key watermark.PageKey) ([]byte, error)
	SavePageCookie(ctx context.Context, systemID uuid.UUID, key watermark.PageKey, cookie []byte) error
	ClearPageCookie(ctx context.Context, systemID uuid.UUID, key watermark.PageKey) error

	// PendingExportsFor returns outstanding exports for one target object.
	PendingExportsFor(ctx context.Context, objectID uuid.UUID) ([]*PendingExport, error)
	SavePendingExport(ctx context.Context, systemID uuid.UUID, export *PendingExport) error
	DeletePendingExport(ctx context.Context, id uuid.UUID) error

	// UnconfirmedExports returns every pending export of the system that
	// still has changes awaiting confirmation or retry.
	UnconfirmedExports(ctx context.Context, systemID uuid.UUID) ([]*PendingExport, error)
}
