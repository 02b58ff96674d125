// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"github.com/hoprnet/edgli/onion"
	"github.com/hoprnet/edgli/relay"
)

// Memory is an in-process Transport that emulates the overlay: every
// packet handed to SendRaw is walked relay by relay, decoding one layer
// per hop, until a final hop unit pops out.  Delivery happens on its own
// goroutine, matching the fire and forget contract of a real transport.
type Memory struct {
	codec     *onion.Codec
	byAddress map[string]*relay.Identity
	byID      map[[relay.NodeIDLength]byte]*relay.Identity
	deliver   func(hop *relay.Identity, u *onion.Unit)
}

// NewMemory creates a Memory transport over the given relay identities.
// deliver is invoked for every unit that reaches its final hop, with the
// identity of the relay it was delivered at.
func NewMemory(codec *onion.Codec, relays []*relay.Identity, deliver func(hop *relay.Identity, u *onion.Unit)) *Memory {
	m := &Memory{
		codec:     codec,
		byAddress: make(map[string]*relay.Identity),
		byID:      make(map[[relay.NodeIDLength]byte]*relay.Identity),
		deliver:   deliver,
	}
	for _, r := range relays {
		m.byAddress[r.Address] = r
		m.byID[r.ID] = r
	}
	return m
}

// SendRaw implements the Transport interface.
func (m *Memory) SendRaw(relayAddress string, pkt []byte) error {
	hop, ok := m.byAddress[relayAddress]
	if !ok {
		return relay.ErrNoSuchRelay
	}
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	go m.walk(hop, cp)
	return nil
}

func (m *Memory) walk(hop *relay.Identity, pkt []byte) {
	for {
		du, err := m.codec.Decode(pkt, hop)
		if err != nil {
			// Real relays drop malformed packets silently.
			return
		}
		if du.Forward != nil {
			next, ok := m.byID[du.Forward.NextHop]
			if !ok {
				return
			}
			hop, pkt = next, du.Forward.Packet
			continue
		}
		u := du.Payload
		if u == nil {
			u = du.Ack
		}
		m.deliver(hop, u)
		return
	}
}
