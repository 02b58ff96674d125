// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package relay provides the relay identity type and the relay directory,
// the pool of known overlay hops that path selection draws from.
package relay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// NodeIDLength is the length of a relay node identifier in bytes.
	NodeIDLength = 32

	// KeyMaterialLength is the length of the per-relay packet key material
	// in bytes.
	KeyMaterialLength = 32
)

// ErrNoSuchRelay is returned when a relay lookup fails.
var ErrNoSuchRelay = errors.New("relay: no such relay")

// Identity describes one overlay hop: an addressable node identifier plus
// the key material used to encrypt the packet layer addressed to it.
// Immutable once obtained from the directory.
type Identity struct {
	// ID is the node identifier.
	ID [NodeIDLength]byte `cbor:"id"`

	// Address is the network address of the relay, opaque to this layer
	// and only ever handed back to the transport.
	Address string `cbor:"address"`

	// KeyMaterial is the packet key material shared with this relay.
	KeyMaterial [KeyMaterialLength]byte `cbor:"key_material"`
}

// NewIdentity generates a fresh Identity with random node ID and key
// material read from r.  Used by tests and by local node provisioning.
func NewIdentity(r io.Reader, address string) (*Identity, error) {
	id := &Identity{Address: address}
	if _, err := io.ReadFull(r, id.ID[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, id.KeyMaterial[:]); err != nil {
		return nil, err
	}
	return id, nil
}

// String returns a short printable representation of the relay identity.
func (i *Identity) String() string {
	return fmt.Sprintf("relay:%s", hex.EncodeToString(i.ID[:8]))
}
