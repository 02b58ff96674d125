// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package geo describes the geometry of an onion packet.  All length
// arithmetic lives here so that every component agrees on the one fixed
// packet size.
package geo

import (
	"fmt"
	"strings"
)

const (
	// NodeIDLength is the length of a relay node identifier in bytes.
	NodeIDLength = 32

	// SessionIDLength is the length of a session identifier in bytes.
	SessionIDLength = 16

	// NonceLength is the length of the per-packet public nonce in bytes.
	// The nonce salts the per-hop key derivation.
	NonceLength = 16

	// routingCmdLength is the length of a plaintext routing command:
	// a command byte followed by the next-hop node ID.
	routingCmdLength = 1 + NodeIDLength

	// tagLength is the length of an AEAD integrity tag in bytes.
	tagLength = 16

	// unitOverhead is the worst case serialization overhead of a payload
	// unit around the raw fragment: the length prefix plus the CBOR
	// envelope carrying kind, session ID and sequence number.
	unitOverhead = 128
)

// Geometry describes the geometry of an onion packet.  Packets of one
// geometry are all exactly PacketLength bytes on the wire regardless of the
// fragment size carried, and regardless of how many hops remain.
type Geometry struct {
	// MaxHops is the number of routing slots in the packet header, the
	// upper bound on path length.
	MaxHops int

	// PerHopSlotLength is the length of one sealed routing slot.
	PerHopSlotLength int

	// HeaderLength is the length of the packet header in bytes.
	HeaderLength int

	// ForwardPayloadLength is the plaintext capacity of the sealed
	// payload region.
	ForwardPayloadLength int

	// PayloadLength is the length of the sealed payload region in bytes.
	PayloadLength int

	// PacketLength is the total length of a packet in bytes.
	PacketLength int

	// MaxFragmentLength is the largest application fragment guaranteed to
	// fit in one packet.
	MaxFragmentLength int
}

// New creates a Geometry with the given hop bound and payload capacity.
func New(maxHops, forwardPayloadLength int) *Geometry {
	g := &Geometry{
		MaxHops:              maxHops,
		PerHopSlotLength:     routingCmdLength + tagLength,
		ForwardPayloadLength: forwardPayloadLength,
	}
	g.HeaderLength = g.MaxHops * g.PerHopSlotLength
	g.PayloadLength = g.ForwardPayloadLength + tagLength
	g.PacketLength = NonceLength + g.HeaderLength + g.PayloadLength
	g.MaxFragmentLength = g.ForwardPayloadLength - unitOverhead
	return g
}

// Default returns the geometry used when nothing is configured: 5 hop
// slots and a 2 KiB payload region.
func Default() *Geometry {
	return New(5, 2048)
}

// Validate checks that the geometry is internally consistent.
func (g *Geometry) Validate() error {
	if g == nil {
		return fmt.Errorf("geo: geometry is nil")
	}
	if g.MaxHops < 1 {
		return fmt.Errorf("geo: invalid MaxHops: %d", g.MaxHops)
	}
	if g.PerHopSlotLength != routingCmdLength+tagLength {
		return fmt.Errorf("geo: invalid PerHopSlotLength: %d", g.PerHopSlotLength)
	}
	if g.HeaderLength != g.MaxHops*g.PerHopSlotLength {
		return fmt.Errorf("geo: invalid HeaderLength: %d", g.HeaderLength)
	}
	if g.MaxFragmentLength < 1 {
		return fmt.Errorf("geo: payload region too small: %d", g.ForwardPayloadLength)
	}
	if g.PayloadLength != g.ForwardPayloadLength+tagLength {
		return fmt.Errorf("geo: invalid PayloadLength: %d", g.PayloadLength)
	}
	if g.PacketLength != NonceLength+g.HeaderLength+g.PayloadLength {
		return fmt.Errorf("geo: invalid PacketLength: %d", g.PacketLength)
	}
	return nil
}

// String returns a human readable geometry summary.
func (g *Geometry) String() string {
	var b strings.Builder
	b.WriteString("onion_packet_geometry:\n")
	b.WriteString(fmt.Sprintf("packet size: %d\n", g.PacketLength))
	b.WriteString(fmt.Sprintf("max hops: %d\n", g.MaxHops))
	b.WriteString(fmt.Sprintf("header size: %d\n", g.HeaderLength))
	b.WriteString(fmt.Sprintf("forward payload size: %d\n", g.ForwardPayloadLength))
	b.WriteString(fmt.Sprintf("max fragment size: %d\n", g.MaxFragmentLength))
	return b.String()
}
