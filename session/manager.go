// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/hoprnet/edgli/config"
	"github.com/hoprnet/edgli/core/log"
	"github.com/hoprnet/edgli/core/worker"
	"github.com/hoprnet/edgli/onion"
	"github.com/hoprnet/edgli/path"
	"github.com/hoprnet/edgli/relay"
	"github.com/hoprnet/edgli/transport"
)

// SessionOptions tunes a single Open call.
type SessionOptions struct {
	// HopCount overrides the configured path length when non-zero.
	HopCount int

	// Exclude holds node IDs that must not appear on the selected path,
	// typically the hops of a previously failed session.
	Exclude map[[relay.NodeIDLength]byte]bool
}

// Manager multiplexes sessions over one transport and owns the shared
// retransmission timer machinery.  The session table is guarded by a
// single mutex; per-session operations run under the session's own lock
// so sessions make progress independently.
type Manager struct {
	worker.Worker
	sync.Mutex

	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	self     *relay.Identity
	codec    *onion.Codec
	selector *path.Selector
	tr       transport.Transport

	timerQ *TimerQueue

	sessions map[SessionID]*Session

	// reaping holds terminal sessions whose receive pump has not exited
	// yet, so Shutdown can still halt them.
	reaping map[SessionID]*Session
	closed  bool

	eventCh channels.Channel

	// EventSink delivers session lifecycle events.  It is never closed;
	// consumers stop reading after Shutdown.
	EventSink chan Event
}

// NewManager creates a session Manager on top of the given directory and
// transport.  self carries the edge client's own identity and key
// material, used to open final-hop payloads addressed to it.
func NewManager(cfg *config.Config, self *relay.Identity, dir relay.Directory, tr transport.Transport, logBackend *log.Backend) (*Manager, error) {
	codec, err := onion.NewCodec(cfg.PacketGeometry())
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		logBackend: logBackend,
		log:        logBackend.GetLogger("session/manager"),
		self:       self,
		codec:      codec,
		selector:   path.NewSelector(dir, rand.NewMath()),
		tr:         tr,
		sessions:   make(map[SessionID]*Session),
		reaping:    make(map[SessionID]*Session),
		eventCh:    channels.NewInfiniteChannel(),
		EventSink:  make(chan Event),
	}
	m.timerQ = NewTimerQueue(m.onTimerExpiry)
	m.timerQ.Start()
	m.Go(m.eventSinkWorker)
	return m, nil
}

func newSessionID() (SessionID, error) {
	var id SessionID
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		return id, fmt.Errorf("session: failed to generate session ID: %v", err)
	}
	return id, nil
}

// Open selects a path to destination and creates a new session in the
// Establishing state.  It fails with ErrTooManySessions when the
// concurrent session limit is reached, and with path.ErrNoRouteAvailable
// when no compliant path exists.
func (m *Manager) Open(destination *relay.Identity, opts *SessionOptions) (SessionID, error) {
	var zero SessionID

	hopCount := m.cfg.Session.HopCount
	var exclude map[[relay.NodeIDLength]byte]bool
	if opts != nil {
		if opts.HopCount != 0 {
			hopCount = opts.HopCount
		}
		exclude = opts.Exclude
	}

	route, err := m.selector.Select(destination, hopCount, exclude)
	if err != nil {
		return zero, err
	}
	id, err := newSessionID()
	if err != nil {
		return zero, err
	}

	s := &Session{
		log:               m.logBackend.GetLogger(fmt.Sprintf("session/%v", id)),
		id:                id,
		state:             StateEstablishing,
		route:             route,
		codec:             m.codec,
		tr:                m.tr,
		timerQ:            m.timerQ,
		eventFn:           m.emitEvent,
		onTerminal:        m.onSessionTerminal,
		onPumpExit:        m.onSessionPumpExit,
		establishRetries:  m.cfg.Session.EstablishRetries,
		maxPacketRetries:  m.cfg.Session.MaxPacketRetries,
		retransmitTimeout: time.Duration(m.cfg.Session.RetransmitTimeout) * time.Millisecond,
		drainTimeout:      time.Duration(m.cfg.Session.DrainTimeout) * time.Millisecond,
		sendSeq:           probeSeq + 1,
		outstanding:       make(map[uint64]*outstandingPacket),
		recvNext:          probeSeq + 1,
		reorder:           make(map[uint64][]byte),
		recvQ:             channels.NewInfiniteChannel(),
		recvCh:            make(chan []byte),
	}

	m.Lock()
	if m.closed {
		m.Unlock()
		return zero, ErrShutdown
	}
	if len(m.sessions) >= m.cfg.Session.MaxSessions {
		m.Unlock()
		return zero, ErrTooManySessions
	}
	m.sessions[id] = s
	m.Unlock()

	s.Go(s.recvPump)
	if err := s.establish(); err != nil {
		// Only the probe encode can fail here, which means the geometry
		// or path is unusable for this session.
		s.Lock()
		s.failLocked(err)
		s.Unlock()
		return zero, err
	}
	m.log.Debugf("opened session %v via %v", id, route)
	return id, nil
}

// Send transmits b on the identified session.
func (m *Manager) Send(id SessionID, b []byte) error {
	s := m.lookup(id)
	if s == nil {
		return ErrSessionClosed
	}
	return s.Send(b)
}

// closedRecvCh is handed out for unknown sessions so that the "closed on
// terminal" receive contract holds uniformly.
var closedRecvCh = func() chan []byte {
	ch := make(chan []byte)
	close(ch)
	return ch
}()

// Receive returns the in-order message channel of the identified session.
// The channel is closed when the session reaches a terminal state; for
// unknown sessions an already closed channel is returned.
func (m *Manager) Receive(id SessionID) <-chan []byte {
	s := m.lookup(id)
	if s == nil {
		return closedRecvCh
	}
	return s.Receive()
}

// Close starts an orderly shutdown of the identified session.
func (m *Manager) Close(id SessionID) error {
	s := m.lookup(id)
	if s == nil {
		return ErrSessionClosed
	}
	return s.Close()
}

// SessionState reports the lifecycle state of the identified session.
// Sessions are forgotten once terminal, so unknown IDs report
// StateClosed.
func (m *Manager) SessionState(id SessionID) State {
	s := m.lookup(id)
	if s == nil {
		return StateClosed
	}
	return s.State()
}

// OnRawReceived is the ingress entry point: the transport layer hands
// every raw inbound packet here.  Malformed packets and packets for
// unknown sessions are dropped.
func (m *Manager) OnRawReceived(raw []byte) {
	du, err := m.codec.Decode(raw, m.self)
	if err != nil {
		m.log.Debugf("dropping malformed packet: %v", err)
		return
	}

	switch {
	case du.Forward != nil:
		// An edge client terminates packets, it does not relay them.
		m.log.Warningf("dropping packet with forward instruction")
	case du.Payload != nil:
		s := m.lookup(du.Payload.SessionID)
		if s == nil {
			m.log.Debugf("dropping data unit for unknown session %v", du.Payload.SessionID)
			return
		}
		s.handleData(du.Payload.Seq, du.Payload.Payload)
	case du.Ack != nil:
		s := m.lookup(du.Ack.SessionID)
		if s == nil {
			m.log.Debugf("dropping ack unit for unknown session %v", du.Ack.SessionID)
			return
		}
		s.handleAck(du.Ack.Acks)
	}
}

// Shutdown terminates every session and stops the manager's workers.
func (m *Manager) Shutdown() {
	m.Lock()
	if m.closed {
		m.Unlock()
		return
	}
	m.closed = true
	active := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		active = append(active, s)
	}
	m.Unlock()

	for _, s := range active {
		s.Lock()
		switch s.state {
		case StateClosed, StateFailed:
		default:
			s.toClosedLocked()
		}
		s.Unlock()
		s.Halt()
	}

	// Terminal sessions whose pump has not drained yet are reclaimed too;
	// Halt is idempotent for the ones just halted above.
	m.Lock()
	reaping := make([]*Session, 0, len(m.reaping))
	for _, s := range m.reaping {
		reaping = append(reaping, s)
	}
	m.Unlock()
	for _, s := range reaping {
		s.Halt()
	}

	m.timerQ.Halt()
	m.Halt()
	m.eventCh.Close()
}

func (m *Manager) lookup(id SessionID) *Session {
	m.Lock()
	defer m.Unlock()
	return m.sessions[id]
}

// onSessionTerminal removes a terminal session from the table, freeing
// its capacity slot.  The session stays in the reap set until its receive
// pump has exited.  Called with the session lock held, so it must not
// call back into the session.
func (m *Manager) onSessionTerminal(s *Session) {
	m.Lock()
	delete(m.sessions, s.id)
	m.reaping[s.id] = s
	m.Unlock()
}

// onSessionPumpExit drops a session from the reap set once its receive
// pump has returned; nothing of the session is left running.
func (m *Manager) onSessionPumpExit(s *Session) {
	m.Lock()
	delete(m.reaping, s.id)
	m.Unlock()
}

func (m *Manager) emitEvent(e Event) {
	m.eventCh.In() <- e
}

// onTimerExpiry dispatches expired timer entries to their session.  A
// session that acknowledged or closed in the meantime simply ignores the
// stale timer.
func (m *Manager) onTimerExpiry(v interface{}) {
	switch ev := v.(type) {
	case *retxEvent:
		if s := m.lookup(ev.id); s != nil {
			s.retransmit(ev.seq)
		}
	case *drainEvent:
		if s := m.lookup(ev.id); s != nil {
			s.drainExpired()
		}
	default:
		m.log.Errorf("unknown timer entry type %T", v)
	}
}

// eventSinkWorker forwards events from the unbounded internal queue to
// the consumer facing EventSink channel.
func (m *Manager) eventSinkWorker() {
	for {
		select {
		case <-m.HaltCh():
			return
		case v, ok := <-m.eventCh.Out():
			if !ok {
				return
			}
			select {
			case m.EventSink <- v.(Event):
			case <-m.HaltCh():
				return
			}
		}
	}
}
