// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Directory supplies the pool of known relay identities.  How the pool is
// discovered and refreshed is outside this layer; implementations only
// need to answer lookups.
type Directory interface {
	// Relays returns all known relay identities.
	Relays() []*Identity

	// GetByID returns the relay with the given node ID.
	GetByID(id *[NodeIDLength]byte) (*Identity, error)
}

// Document is a serializable snapshot of a relay directory.
type Document struct {
	// Epoch is the directory epoch the snapshot was taken at.
	Epoch uint64 `cbor:"epoch"`

	// Relays is the set of known relays.
	Relays []*Identity `cbor:"relays"`
}

// Marshal serializes the Document.
func (d *Document) Marshal() ([]byte, error) {
	return cbor.Marshal(d)
}

// ParseDocument deserializes a Document.
func ParseDocument(b []byte) (*Document, error) {
	d := new(Document)
	if err := cbor.Unmarshal(b, d); err != nil {
		return nil, fmt.Errorf("relay: malformed directory document: %v", err)
	}
	return d, nil
}

// StaticDirectory is a Directory backed by a fixed Document.
type StaticDirectory struct {
	relays []*Identity
	byID   map[[NodeIDLength]byte]*Identity
}

// NewStaticDirectory creates a StaticDirectory from a Document.
func NewStaticDirectory(doc *Document) *StaticDirectory {
	d := &StaticDirectory{
		relays: make([]*Identity, 0, len(doc.Relays)),
		byID:   make(map[[NodeIDLength]byte]*Identity),
	}
	for _, r := range doc.Relays {
		d.relays = append(d.relays, r)
		d.byID[r.ID] = r
	}
	return d
}

// LoadStaticDirectory creates a StaticDirectory from a CBOR document file.
func LoadStaticDirectory(f string) (*StaticDirectory, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(b)
	if err != nil {
		return nil, err
	}
	return NewStaticDirectory(doc), nil
}

// Relays returns all known relay identities.
func (d *StaticDirectory) Relays() []*Identity {
	return d.relays
}

// GetByID returns the relay with the given node ID.
func (d *StaticDirectory) GetByID(id *[NodeIDLength]byte) (*Identity, error) {
	r, ok := d.byID[*id]
	if !ok {
		return nil, ErrNoSuchRelay
	}
	return r, nil
}
