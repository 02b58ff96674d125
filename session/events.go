// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"fmt"

	"github.com/hoprnet/edgli/relay"
)

// Event is the generic event sent over the manager's event sink channel.
type Event interface {
	// String returns a string representation of the Event.
	String() string
}

// EstablishedEvent is emitted when a session's path is confirmed usable by
// its first acknowledgement.
type EstablishedEvent struct {
	// ID is the session identifier.
	ID SessionID
}

// String returns a string representation of the EstablishedEvent.
func (e *EstablishedEvent) String() string {
	return fmt.Sprintf("SessionEstablished: %v", e.ID)
}

// FailedEvent is emitted exactly once when a session reaches the terminal
// Failed state.
type FailedEvent struct {
	// ID is the session identifier.
	ID SessionID

	// Err is the terminal error.
	Err error

	// PathRelays holds the node IDs of the failed path, suitable for use
	// as the exclude set of a retry.
	PathRelays [][relay.NodeIDLength]byte
}

// String returns a string representation of the FailedEvent.
func (e *FailedEvent) String() string {
	return fmt.Sprintf("SessionFailed: %v: %v", e.ID, e.Err)
}

// ClosedEvent is emitted when a session reaches the terminal Closed state.
type ClosedEvent struct {
	// ID is the session identifier.
	ID SessionID
}

// String returns a string representation of the ClosedEvent.
func (e *ClosedEvent) String() string {
	return fmt.Sprintf("SessionClosed: %v", e.ID)
}

// DeliveredEvent is emitted when an in-order message is surfaced to the
// caller.
type DeliveredEvent struct {
	// ID is the session identifier.
	ID SessionID

	// Seq is the delivered sequence number.
	Seq uint64
}

// String returns a string representation of the DeliveredEvent.
func (e *DeliveredEvent) String() string {
	return fmt.Sprintf("MessageDelivered: %v seq %d", e.ID, e.Seq)
}
