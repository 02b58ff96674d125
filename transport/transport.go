// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package transport defines the boundary between the session layer and the
// network I/O layer that carries raw packet bytes to and from the entry
// relay.  The session layer never parses transport framing; it only hands
// fixed-size packets across this boundary.
package transport

// Transport delivers raw packet bytes to a relay.  Implementations are
// expected to be safe for concurrent use.
type Transport interface {
	// SendRaw transmits pkt to the relay at relayAddress.  It must not
	// block on network round trips; delivery is best effort and the
	// session layer's retransmission handles loss.
	SendRaw(relayAddress string, pkt []byte) error
}

// Func adapts a plain function to the Transport interface.
type Func func(relayAddress string, pkt []byte) error

// SendRaw implements the Transport interface.
func (f Func) SendRaw(relayAddress string, pkt []byte) error {
	return f(relayAddress, pkt)
}
