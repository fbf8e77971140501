// Package session tracks the session and sequence numbers of one Sparkplug
// entity.
package session

import (
	"fmt"
	"math"
	"sync"

	"github.com/luma/sparkplug/protocol"
)

// Phase is the connection phase of an entity.
type Phase uint8

const (
	Disconnected Phase = iota
	Connecting
	Connected
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Snapshot is a copy of a State at one instant.
type Snapshot struct {
	Namespace      protocol.Namespace
	SequenceNumber uint8
	SessionNumber  int64
	Phase          Phase
	Running        bool
}

func (s Snapshot) IsConnected() bool {
	return s.Phase == Connected
}

// State is owned by exactly one entity. Its methods are safe to call from
// multiple goroutines, but an entity must still serialise NextSequence with
// the publish that uses the number, otherwise numbers reach the wire out of
// order.
type State struct {
	mu sync.Mutex

	namespace protocol.Namespace
	sequence  uint8
	session   int64
	phase     Phase
	running   bool
}

// New returns a disconnected state whose first session will be number 0.
func New(ns protocol.Namespace) *State {
	return &State{
		namespace: ns,
		session:   -1,
	}
}

// Connecting marks the start of a connection attempt.
func (s *State) Connecting() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = Connecting
}

// BeginSession starts a new session: the session number goes up by one
// (wrapping from MaxInt64 to 0), the sequence restarts at 0 and the state
// becomes connected. It returns the new session number.
func (s *State) BeginSession() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nextSession(s.session)
	s.sequence = 0
	s.phase = Connected

	return s.session
}

// PeekSessionNumber returns the number the next BeginSession will return.
// The death certificate registered as the will of a connection has to carry
// it before the connection exists.
func (s *State) PeekSessionNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return nextSession(s.session)
}

func nextSession(n int64) int64 {
	if n == math.MaxInt64 {
		// Wrap around instead of overflowing
		return 0
	}

	return n + 1
}

// NextSequence returns the current sequence number and advances it, wrapping
// from 255 to 0.
func (s *State) NextSequence() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.sequence

	if s.sequence == math.MaxUint8 {
		s.sequence = 0
	} else {
		s.sequence++
	}

	return seq
}

// PeekSequence returns the number the next NextSequence will return. A
// message can be built with it and the number drawn only once the message
// is known to encode.
func (s *State) PeekSequence() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sequence
}

// ResetSequence restarts the sequence at 0 without starting a new session.
// It is used when a node is asked to rebirth.
func (s *State) ResetSequence() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence = 0
}

// EndSession marks the state disconnected and reports whether a session was
// open. Session and sequence numbers are kept until the next BeginSession.
func (s *State) EndSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := s.phase == Connected
	s.phase = Disconnected

	return open
}

func (s *State) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = running
}

func (s *State) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase == Connected
}

func (s *State) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase
}

func (s *State) SessionNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.session
}

func (s *State) Namespace() protocol.Namespace {
	return s.namespace
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Namespace:      s.namespace,
		SequenceNumber: s.sequence,
		SessionNumber:  s.session,
		Phase:          s.phase,
		Running:        s.running,
	}
}
