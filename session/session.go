// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package session implements the session layer of the edge client: logical
// bidirectional streams multiplexed over onion-routed paths through the
// overlay, with per-packet retransmission and strictly in-order delivery.
package session

import (
	"sync"
	"time"

	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/hoprnet/edgli/core/worker"
	"github.com/hoprnet/edgli/onion"
	"github.com/hoprnet/edgli/path"
	"github.com/hoprnet/edgli/relay"
	"github.com/hoprnet/edgli/transport"
)

// SessionID identifies one logical session.
type SessionID = onion.SessionID

// State is the lifecycle state of a Session.
type State uint8

const (
	// StateEstablishing means the session awaits confirmation that its
	// path is usable.
	StateEstablishing State = iota

	// StateActive means the session accepts sends and surfaces received
	// messages.
	StateActive

	// StateDraining means the session was closed and is waiting for
	// outstanding acknowledgements.
	StateDraining

	// StateClosed is the terminal state of an orderly close.
	StateClosed

	// StateFailed is the terminal state after unrecoverable path loss.
	StateFailed
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateEstablishing:
		return "Establishing"
	case StateActive:
		return "Active"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// probeSeq is the sequence number of the establish probe.
const probeSeq = 0

type outstandingPacket struct {
	seq     uint64
	pkt     []byte
	retries int
	isProbe bool
}

// retxEvent schedules a retransmission check for one outstanding packet.
type retxEvent struct {
	id  SessionID
	seq uint64
}

// drainEvent bounds the time a Draining session waits for its outstanding
// acknowledgements.
type drainEvent struct {
	id SessionID
}

// Session keeps the state of one logical stream.  All mutable state is
// single-writer: every access path (application send, inbound dispatch,
// timer expiry) serializes on the session mutex, while distinct sessions
// proceed independently.
type Session struct {
	worker.Worker
	sync.Mutex

	log   *logging.Logger
	id    SessionID
	state State

	route *path.Descriptor
	codec *onion.Codec
	tr    transport.Transport

	timerQ     *TimerQueue
	eventFn    func(Event)
	onTerminal func(*Session)
	onPumpExit func(*Session)

	establishRetries  int
	maxPacketRetries  int
	retransmitTimeout time.Duration
	drainTimeout      time.Duration

	sendSeq     uint64
	outstanding map[uint64]*outstandingPacket

	recvNext uint64
	reorder  map[uint64][]byte
	recvQ    channels.Channel
	recvCh   chan []byte

	terminalErr error
}

// ID returns the session identifier.
func (s *Session) ID() SessionID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.Lock()
	defer s.Unlock()
	return s.state
}

// Err returns the terminal error of a Failed session, nil otherwise.
func (s *Session) Err() error {
	s.Lock()
	defer s.Unlock()
	return s.terminalErr
}

// PathRelays returns the node IDs of the session's path, suitable for the
// exclude set of a retry after failure.
func (s *Session) PathRelays() [][relay.NodeIDLength]byte {
	ids := make([][relay.NodeIDLength]byte, 0, s.route.Len())
	for _, h := range s.route.Hops() {
		ids = append(ids, h.ID)
	}
	return ids
}

// establish transmits the establish probe.  The session leaves
// Establishing on the probe's acknowledgement, or fails once the setup
// retry budget is exhausted.
func (s *Session) establish() error {
	pkt, err := s.codec.Encode(&onion.Unit{
		Kind:      onion.KindData,
		SessionID: s.id,
		Seq:       probeSeq,
	}, s.route)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()
	s.transmitLocked(&outstandingPacket{
		seq:     probeSeq,
		pkt:     pkt,
		isProbe: true,
	})
	return nil
}

// Send fragments and transmits b as one packet.  It enqueues and returns
// immediately; delivery confirmation and retransmission happen in the
// background.
func (s *Session) Send(b []byte) error {
	s.Lock()
	defer s.Unlock()

	switch s.state {
	case StateEstablishing, StateActive:
	default:
		return ErrSessionClosed
	}

	seq := s.sendSeq
	pkt, err := s.codec.Encode(&onion.Unit{
		Kind:      onion.KindData,
		SessionID: s.id,
		Seq:       seq,
		Payload:   b,
	}, s.route)
	if err != nil {
		// Nothing was mutated; the sequence number is not consumed.
		return err
	}
	s.sendSeq++
	s.transmitLocked(&outstandingPacket{seq: seq, pkt: pkt})
	return nil
}

// Receive returns the channel of reassembled messages, surfaced strictly
// in sequence order.  The channel is closed when the session reaches a
// terminal state.
func (s *Session) Receive() <-chan []byte {
	return s.recvCh
}

// Close requests an orderly shutdown: no new sends are accepted, and the
// session drains outstanding acknowledgements before closing.
func (s *Session) Close() error {
	s.Lock()
	defer s.Unlock()

	switch s.state {
	case StateClosed, StateFailed, StateDraining:
		return nil
	}

	if len(s.outstanding) == 0 {
		s.toClosedLocked()
		return nil
	}

	s.state = StateDraining
	deadline := time.Now().Add(s.drainTimeout)
	s.timerQ.Push(uint64(deadline.UnixNano()), &drainEvent{id: s.id})
	return nil
}

// transmitLocked registers o as outstanding, hands the packet to the
// transport and arms its retransmission timer.  A closure racing the
// transmit wins: nothing is registered and no timer is armed.
func (s *Session) transmitLocked(o *outstandingPacket) {
	switch s.state {
	case StateEstablishing, StateActive:
	default:
		return
	}
	s.outstanding[o.seq] = o
	if err := s.tr.SendRaw(s.route.Entry().Address, o.pkt); err != nil {
		// Treated as loss; the retransmission timer covers it.
		s.log.Warningf("session %v: transport send failed: %v", s.id, err)
	}
	deadline := time.Now().Add(s.retransmitTimeout)
	s.timerQ.Push(uint64(deadline.UnixNano()), &retxEvent{id: s.id, seq: o.seq})
}

// retransmit handles the expiry of one packet's acknowledgement timer.
func (s *Session) retransmit(seq uint64) {
	s.Lock()
	defer s.Unlock()

	switch s.state {
	case StateClosed, StateFailed:
		// Closure wins over an in-flight timer; nothing is re-armed.
		return
	}

	o, ok := s.outstanding[seq]
	if !ok {
		// Acknowledged in the meantime.
		return
	}

	budget := s.maxPacketRetries
	if o.isProbe {
		budget = s.establishRetries
	}
	if o.retries >= budget {
		s.failLocked(ErrRetriesExhausted)
		return
	}

	o.retries++
	if err := s.tr.SendRaw(s.route.Entry().Address, o.pkt); err != nil {
		s.log.Warningf("session %v: transport resend failed: %v", s.id, err)
	}
	deadline := time.Now().Add(s.retransmitTimeout)
	s.timerQ.Push(uint64(deadline.UnixNano()), &retxEvent{id: s.id, seq: seq})
}

// handleAck processes acknowledged sequence numbers.  Re-delivery of an
// already processed acknowledgement is a no-op.
func (s *Session) handleAck(acks []uint64) {
	s.Lock()
	defer s.Unlock()

	switch s.state {
	case StateClosed, StateFailed:
		return
	}

	for _, seq := range acks {
		delete(s.outstanding, seq)
	}

	if s.state == StateEstablishing {
		s.state = StateActive
		s.eventFn(&EstablishedEvent{ID: s.id})
	}
	if s.state == StateDraining && len(s.outstanding) == 0 {
		s.toClosedLocked()
	}
}

// handleData buffers an inbound fragment and surfaces every message that
// became deliverable in order.  Gaps are never skipped: message N+1 is
// withheld until message N has been delivered.
func (s *Session) handleData(seq uint64, payload []byte) {
	s.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.Unlock()
		return
	}

	if seq >= s.recvNext {
		if _, dup := s.reorder[seq]; !dup {
			s.reorder[seq] = payload
			for {
				b, ok := s.reorder[s.recvNext]
				if !ok {
					break
				}
				delete(s.reorder, s.recvNext)
				s.recvQ.In() <- b
				s.eventFn(&DeliveredEvent{ID: s.id, Seq: s.recvNext})
				s.recvNext++
			}
		}
	}
	s.Unlock()

	// Always re-acknowledge, duplicates included: the peer's
	// retransmission implies our previous acknowledgement was lost.
	s.sendAck([]uint64{seq})
}

// sendAck transmits an acknowledgement unit for the given sequence
// numbers along the session's path.
func (s *Session) sendAck(seqs []uint64) {
	pkt, err := s.codec.Encode(&onion.Unit{
		Kind:      onion.KindAck,
		SessionID: s.id,
		Acks:      seqs,
	}, s.route)
	if err != nil {
		s.log.Warningf("session %v: ack encode failed: %v", s.id, err)
		return
	}
	if err := s.tr.SendRaw(s.route.Entry().Address, pkt); err != nil {
		s.log.Warningf("session %v: ack send failed: %v", s.id, err)
	}
}

// drainExpired handles the drain deadline of a closing session.
func (s *Session) drainExpired() {
	s.Lock()
	defer s.Unlock()
	if s.state == StateDraining {
		s.toClosedLocked()
	}
}

// toClosedLocked finalizes an orderly close.  Clearing the outstanding
// set cancels every pending retransmission: a timer that fires afterwards
// finds nothing to resend.
func (s *Session) toClosedLocked() {
	s.state = StateClosed
	s.outstanding = make(map[uint64]*outstandingPacket)
	s.reorder = make(map[uint64][]byte)
	s.eventFn(&ClosedEvent{ID: s.id})
	s.onTerminal(s)
	s.recvQ.Close()
}

// failLocked transitions to the terminal Failed state, exactly once.
func (s *Session) failLocked(err error) {
	s.state = StateFailed
	s.terminalErr = err
	s.outstanding = make(map[uint64]*outstandingPacket)
	s.reorder = make(map[uint64][]byte)
	s.eventFn(&FailedEvent{ID: s.id, Err: err, PathRelays: s.PathRelays()})
	s.onTerminal(s)
	s.recvQ.Close()
}

// recvPump forwards reassembled messages from the unbounded reorder queue
// to the consumer facing channel.  It exits once the queue is closed and
// drained, or on Halt; the manager is told so it can stop tracking the
// session.
func (s *Session) recvPump() {
	defer func() {
		close(s.recvCh)
		s.onPumpExit(s)
	}()
	for {
		select {
		case <-s.HaltCh():
			return
		case v, ok := <-s.recvQ.Out():
			if !ok {
				return
			}
			select {
			case s.recvCh <- v.([]byte):
			case <-s.HaltCh():
				return
			}
		}
	}
}
