package metaverse

import (
	"time"

	"identra/metadir/attributes"

	"github.com/google/uuid"
)

// ExportChangeType classifies a pending export at the object level.
type ExportChangeType int

const (
	ExportCreate ExportChangeType = iota
	ExportUpdate
	ExportDelete
)

func (t ExportChangeType) String() string {
	switch t {
	case ExportCreate:
		return "create"
	case ExportUpdate:
		return "update"
	case ExportDelete:
		return "delete"
	}
	return "unknown"
}

// ExportStatus is the object-level export state.
type ExportStatus int

const (
	ExportPending ExportStatus = iota
	ExportExecuting
	ExportExported
	ExportFailed
)

// AttributeChangeType classifies one attribute write intent.
type AttributeChangeType int

const (
	AttributeAdd AttributeChangeType = iota
	AttributeUpdate
	AttributeRemove
	AttributeRemoveAll
)

// AttributeChangeStatus is the per-attribute-change confirmation state.
// The attribute change, not the whole PendingExport, is the unit of retry
// and confirmation.
type AttributeChangeStatus int

const (
	ChangePending AttributeChangeStatus = iota
	ChangeExportedPendingConfirmation
	ChangeConfirmed
	ChangeExportedNotConfirmed
	ChangeFailed
)

func (s AttributeChangeStatus) String() string {
	switch s {
	case ChangePending:
		return "pending"
	case ChangeExportedPendingConfirmation:
		return "exportedPendingConfirmation"
	case ChangeConfirmed:
		return "confirmed"
	case ChangeExportedNotConfirmed:
		return "exportedNotConfirmed"
	case ChangeFailed:
		return "failed"
	}
	return "unknown"
}

// AttributeValueChange is one attribute write owed to the target object.
type AttributeValueChange struct {
	ID                 uuid.UUID
	Name               string
	ChangeType         AttributeChangeType
	Value              attributes.Value
	Status             AttributeChangeStatus
	ExportAttemptCount int
	LastImportedValue  string
}

// AwaitingConfirmation reports whether a later import must confirm this
// change before it is considered durable.
func (c *AttributeValueChange) AwaitingConfirmation() bool {
	return c.Status == ChangeExportedPendingConfirmation || c.Status == ChangeExportedNotConfirmed
}

// Exportable reports whether the next export batch should carry this
// change. Confirmed changes are never re-exported.
func (c *AttributeValueChange) Exportable() bool {
	return c.Status == ChangePending || c.Status == ChangeExportedNotConfirmed
}

// MarkExported records one successful write attempt. Confirmed and failed
// changes never regress.
func (c *AttributeValueChange) MarkExported() {
	if c.Status == ChangeConfirmed || c.Status == ChangeFailed {
		return
	}
	c.ExportAttemptCount++
	c.Status = ChangeExportedPendingConfirmation
}

// PendingExport is the unit of work representing outstanding writes owed
// to one target object.
type PendingExport struct {
	ID          uuid.UUID
	ObjectID    uuid.UUID
	ObjectDN    string
	ChangeType  ExportChangeType
	Status      ExportStatus
	LastAttempt time.Time
	Changes     []*AttributeValueChange
}

// Change returns the first change for the named attribute.
func (p *PendingExport) Change(name string) (*AttributeValueChange, bool) {
	for _, c := range p.Changes {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// RemoveChange drops a confirmed change from the export's change list.
func (p *PendingExport) RemoveChange(id uuid.UUID) {
	for i, c := range p.Changes {
		if c.ID == id {
			p.Changes = append(p.Changes[:i], p.Changes[i+1:]...)
			return
		}
	}
}

// HasFailedChange reports whether any attribute change has exhausted its
// retry budget.
func (p *PendingExport) HasFailedChange() bool {
	for _, c := range p.Changes {
		if c.Status == ChangeFailed {
			return true
		}
	}
	return false
}
