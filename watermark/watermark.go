// Package watermark holds the per-connected-system change-tracking
// snapshot and pagination cursor types persisted between sync cycles.
package watermark

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Version tags the serialized form. Decode rejects documents written by a
// different core version; the caller must fall back to a full import.
const Version = 1

// Watermark is the server change-tracking snapshot captured at the start
// of an import cycle. It is immutable once written and superseded
// wholesale by the next cycle's snapshot, never merged.
type Watermark struct {
	Version             int    `json:"version"`
	DNSHostName         string `json:"dnsHostName"`
	HighestCommittedUSN *int64 `json:"highestCommittedUsn,omitempty"`
	LastChangeNumber    *int64 `json:"lastChangeNumber,omitempty"`
	HasSequenceCounter  bool   `json:"hasSequenceCounter"`
	SupportsPaging      bool   `json:"supportsPaging"`
}

// Encode serializes the watermark for opaque connector-data storage.
func (w *Watermark) Encode() (string, error) {
	w.Version = Version
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode watermark: %w", err)
	}
	return string(b), nil
}

// Decode parses a previously persisted watermark. Empty input, malformed
// JSON and unknown versions are all errors: the caller must treat them as
// a missing baseline.
func Decode(data string) (*Watermark, error) {
	if data == "" {
		return nil, fmt.Errorf("no watermark data")
	}

	var w Watermark
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("decode watermark: %w", err)
	}
	if w.Version != Version {
		return nil, fmt.Errorf("unsupported watermark version %d (want %d)", w.Version, Version)
	}
	return &w, nil
}

// PageKey identifies one pagination cursor: paging state is tracked per
// (container, object type) pair within a connected system.
type PageKey struct {
	ContainerID  uuid.UUID
	ObjectTypeID uuid.UUID
}
