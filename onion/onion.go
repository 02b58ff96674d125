// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package onion implements the packet codec: the bidirectional transform
// between application payload fragments and fixed-size layered-encrypted
// packets routed hop by hop through the overlay.
//
// Every hop derives its packet keys from its own key material and the
// public per-packet nonce, authenticates and removes exactly one routing
// slot, and strips one encryption layer from the payload region.  The
// packet stays the same size as layers peel: the consumed routing slot is
// replaced with random filler at the tail of the header.
package onion

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/chacha20"
	"github.com/katzenpost/chacha20poly1305"
	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/hkdf"

	"github.com/hoprnet/edgli/onion/geo"
	"github.com/hoprnet/edgli/path"
	"github.com/hoprnet/edgli/relay"
)

const (
	cmdForward = 0x01
	cmdDeliver = 0x02

	// KindData marks a unit carrying an application payload fragment.
	KindData = 0x01

	// KindAck marks a unit acknowledging received sequence numbers.
	KindAck = 0x02

	kdfInfo = "edgli-onion-v1"
)

var (
	// ErrFragmentTooLarge is returned when a fragment exceeds the
	// per-packet capacity.
	ErrFragmentTooLarge = errors.New("onion: fragment exceeds packet capacity")

	// ErrMalformedPacket is the only error ever returned for a packet
	// that fails to decode, whatever the cause.
	ErrMalformedPacket = errors.New("onion: malformed packet")

	zeroAEADNonce [12]byte
)

// SessionID identifies one logical session, as carried inside packet
// payload units.
type SessionID [geo.SessionIDLength]byte

// String returns the hex representation of the SessionID.
func (id SessionID) String() string {
	return hex.EncodeToString(id[:])
}

// Unit is the plaintext payload carried by a packet for its final hop.
type Unit struct {
	// Kind is KindData or KindAck.
	Kind uint8 `cbor:"kind"`

	// SessionID scopes the unit to one logical session.
	SessionID SessionID `cbor:"session_id"`

	// Seq is the sequence number of a data unit.
	Seq uint64 `cbor:"seq"`

	// Acks holds the acknowledged sequence numbers of an ack unit.
	Acks []uint64 `cbor:"acks,omitempty"`

	// Payload is the application fragment of a data unit.
	Payload []byte `cbor:"payload,omitempty"`
}

// ForwardInstruction tells an intermediate hop where to send the
// re-encoded packet next.
type ForwardInstruction struct {
	// NextHop is the node ID of the next relay.
	NextHop [geo.NodeIDLength]byte

	// Packet is the re-encoded packet to forward, the same size as the
	// packet it was decoded from.
	Packet []byte
}

// DecodedUnit is the result of decoding one packet with a node's own key
// material.  Exactly one field is non-nil.
type DecodedUnit struct {
	// Forward is set when this node is an intermediate hop.
	Forward *ForwardInstruction

	// Payload is set when this node is the final hop of a data unit.
	Payload *Unit

	// Ack is set when this node is the final hop of an ack unit.
	Ack *Unit
}

// Codec transforms payload units to fixed-size packets and back.  A Codec
// holds no mutable state and is safe for concurrent use.
type Codec struct {
	geo *geo.Geometry
}

// NewCodec creates a Codec for the given geometry.
func NewCodec(g *geo.Geometry) (*Codec, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Codec{geo: g}, nil
}

// Geometry returns the codec's packet geometry.
func (c *Codec) Geometry() *geo.Geometry {
	return c.geo
}

type hopKeys struct {
	headerKey   [32]byte
	payloadKey  [32]byte
	streamNonce [8]byte
}

func deriveHopKeys(keyMaterial *[relay.KeyMaterialLength]byte, nonce []byte) *hopKeys {
	k := new(hopKeys)
	kdf := hkdf.New(sha256.New, keyMaterial[:], nonce, []byte(kdfInfo))
	if _, err := io.ReadFull(kdf, k.headerKey[:]); err != nil {
		panic(err)
	}
	if _, err := io.ReadFull(kdf, k.payloadKey[:]); err != nil {
		panic(err)
	}
	if _, err := io.ReadFull(kdf, k.streamNonce[:]); err != nil {
		panic(err)
	}
	return k
}

// Encode transforms a payload unit into one fixed-size packet routed along
// the given path.  The final hop of the path is the unit's destination.
// Fails with ErrFragmentTooLarge when the serialized unit exceeds the
// payload region.
func (c *Codec) Encode(u *Unit, d *path.Descriptor) ([]byte, error) {
	if d.Len() > c.geo.MaxHops {
		return nil, errors.New("onion: path exceeds geometry hop bound")
	}

	serialized, err := cbor.Marshal(u)
	if err != nil {
		return nil, err
	}
	if 4+len(serialized) > c.geo.ForwardPayloadLength {
		return nil, ErrFragmentTooLarge
	}

	nonce := make([]byte, geo.NonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	hops := d.Hops()
	keys := make([]*hopKeys, len(hops))
	for i, h := range hops {
		keys[i] = deriveHopKeys(&h.KeyMaterial, nonce)
	}

	// Length-prefix the unit and zero-pad to the full payload region so
	// that packet size never reflects fragment size.
	plaintext := make([]byte, c.geo.ForwardPayloadLength)
	binary.BigEndian.PutUint32(plaintext[0:4], uint32(len(serialized)))
	copy(plaintext[4:], serialized)

	// Innermost layer: sealed for the final hop.
	final := len(hops) - 1
	aead, err := chacha20poly1305.New(keys[final].payloadKey[:])
	if err != nil {
		return nil, err
	}
	payload := aead.Seal(nil, zeroAEADNonce[:], plaintext, nonce)

	// Size-preserving stream layers for the intermediate hops, applied
	// innermost first so that each hop strips the outermost layer.
	for i := final - 1; i >= 0; i-- {
		s, err := chacha20.New(keys[i].payloadKey[:], keys[i].streamNonce[:])
		if err != nil {
			return nil, err
		}
		s.XORKeyStream(payload, payload)
	}

	// One sealed routing slot per hop; unused slots are random filler.
	header := make([]byte, c.geo.HeaderLength)
	for i := range hops {
		var cmd [1 + geo.NodeIDLength]byte
		if i == final {
			cmd[0] = cmdDeliver
		} else {
			cmd[0] = cmdForward
			copy(cmd[1:], hops[i+1].ID[:])
		}
		aead, err := chacha20poly1305.New(keys[i].headerKey[:])
		if err != nil {
			return nil, err
		}
		slot := aead.Seal(nil, zeroAEADNonce[:], cmd[:], nonce)
		copy(header[i*c.geo.PerHopSlotLength:], slot)
	}
	if _, err := io.ReadFull(rand.Reader, header[len(hops)*c.geo.PerHopSlotLength:]); err != nil {
		return nil, err
	}

	pkt := make([]byte, 0, c.geo.PacketLength)
	pkt = append(pkt, nonce...)
	pkt = append(pkt, header...)
	pkt = append(pkt, payload...)
	return pkt, nil
}

// Decode processes a packet with this node's own key material.  The result
// is a forwarding instruction, a delivered data unit, or an
// acknowledgement.  Any failure yields ErrMalformedPacket; the cause is
// deliberately not distinguishable by the caller.
func (c *Codec) Decode(pkt []byte, self *relay.Identity) (*DecodedUnit, error) {
	if len(pkt) != c.geo.PacketLength {
		return nil, ErrMalformedPacket
	}

	nonce := pkt[:geo.NonceLength]
	header := pkt[geo.NonceLength : geo.NonceLength+c.geo.HeaderLength]
	payload := pkt[geo.NonceLength+c.geo.HeaderLength:]

	keys := deriveHopKeys(&self.KeyMaterial, nonce)

	aead, err := chacha20poly1305.New(keys.headerKey[:])
	if err != nil {
		return nil, ErrMalformedPacket
	}
	cmd, err := aead.Open(nil, zeroAEADNonce[:], header[:c.geo.PerHopSlotLength], nonce)
	if err != nil {
		return nil, ErrMalformedPacket
	}

	switch cmd[0] {
	case cmdForward:
		next := new(ForwardInstruction)
		copy(next.NextHop[:], cmd[1:])

		// Shift the remaining slots up and refill the tail so the packet
		// size is unchanged, then strip this hop's payload layer.
		newHeader := make([]byte, c.geo.HeaderLength)
		copy(newHeader, header[c.geo.PerHopSlotLength:])
		if _, err := io.ReadFull(rand.Reader, newHeader[c.geo.HeaderLength-c.geo.PerHopSlotLength:]); err != nil {
			return nil, ErrMalformedPacket
		}

		newPayload := make([]byte, c.geo.PayloadLength)
		s, err := chacha20.New(keys.payloadKey[:], keys.streamNonce[:])
		if err != nil {
			return nil, ErrMalformedPacket
		}
		s.XORKeyStream(newPayload, payload)

		p := make([]byte, 0, c.geo.PacketLength)
		p = append(p, nonce...)
		p = append(p, newHeader...)
		p = append(p, newPayload...)
		next.Packet = p
		return &DecodedUnit{Forward: next}, nil

	case cmdDeliver:
		aead, err := chacha20poly1305.New(keys.payloadKey[:])
		if err != nil {
			return nil, ErrMalformedPacket
		}
		plaintext, err := aead.Open(nil, zeroAEADNonce[:], payload, nonce)
		if err != nil {
			return nil, ErrMalformedPacket
		}
		n := binary.BigEndian.Uint32(plaintext[0:4])
		if 4+int(n) > len(plaintext) {
			return nil, ErrMalformedPacket
		}
		u := new(Unit)
		if err := cbor.Unmarshal(plaintext[4:4+n], u); err != nil {
			return nil, ErrMalformedPacket
		}
		switch u.Kind {
		case KindData:
			return &DecodedUnit{Payload: u}, nil
		case KindAck:
			return &DecodedUnit{Ack: u}, nil
		default:
			return nil, ErrMalformedPacket
		}

	default:
		return nil, ErrMalformedPacket
	}
}
