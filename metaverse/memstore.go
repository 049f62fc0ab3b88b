package metaverse

import (
	"context"
	"sync"

	"identra/metadir/watermark"

	"github.com/google/uuid"
)

type cookieKey struct {
	systemID uuid.UUID
	page     watermark.PageKey
}

// MemStore is an in-memory Store. Cycles for one connected system run
// serially, but the scheduler may interleave systems, so access is
// mutex-guarded.
type MemStore struct {
	mu            sync.Mutex
	connectorData map[uuid.UUID]string
	cookies       map[cookieKey][]byte
	exports       map[uuid.UUID]*PendingExport
	exportSystem  map[uuid.UUID]uuid.UUID
}

func NewMemStore() *MemStore {
	return &MemStore{
		connectorData: make(map[uuid.UUID]string),
		cookies:       make(map[cookieKey][]byte),
		exports:       make(map[uuid.UUID]*PendingExport),
		exportSystem:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *MemStore) ConnectorData(_ context.Context, systemID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectorData[systemID], nil
}

func (s *MemStore) SaveConnectorData(_ context.Context, systemID uuid.UUID, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectorData[systemID] = data
	return nil
}

func (s *MemStore) PageCookie(_ context.Context, systemID uuid.UUID, key watermark.PageKey) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookies[cookieKey{systemID, key}], nil
}

func (s *MemStore) SavePageCookie(_ context.Context, systemID uuid.UUID, key watermark.PageKey, cookie []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(cookie))
	copy(cp, cookie)
	s.cookies[cookieKey{systemID, key}] = cp
	return nil
}

func (s *MemStore) ClearPageCookie(_ context.Context, systemID uuid.UUID, key watermark.PageKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cookies, cookieKey{systemID, key})
	return nil
}

func (s *MemStore) PendingExportsFor(_ context.Context, objectID uuid.UUID) ([]*PendingExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PendingExport
	for _, pe := range s.exports {
		if pe.ObjectID == objectID {
			out = append(out, pe)
		}
	}
	return out, nil
}

func (s *MemStore) SavePendingExport(_ context.Context, systemID uuid.UUID, export *PendingExport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports[export.ID] = export
	s.exportSystem[export.ID] = systemID
	return nil
}

func (s *MemStore) DeletePendingExport(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exports, id)
	delete(s.exportSystem, id)
	return nil
}

func (s *MemStore) UnconfirmedExports(_ context.Context, systemID uuid.UUID) ([]*PendingExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PendingExport
	for id, pe := range s.exports {
		if s.exportSystem[id] != systemID {
			continue
		}
		// A change still Pending was persisted but never dispatched (the
		// batch was interrupted); it is owed a retry just like an
		// unconfirmed one.
		for _, c := range pe.Changes {
			if c.AwaitingConfirmation() || c.Exportable() {
				out = append(out, pe)
				break
			}
		}
	}
	return out, nil
}
