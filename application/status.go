package application

import (
	"sort"
	"sync"
	"time"

	"github.com/luma/sparkplug/message"
	"github.com/luma/sparkplug/metric"
)

// NodeStatus is what the host knows about one edge node.
type NodeStatus struct {
	Identity message.Identity
	Online   bool

	// SessionNumber is the bdSeq of the last birth, -1 before any
	SessionNumber int64

	// LastSeq is the sequence number of the last message, valid when
	// HasSeq is set
	LastSeq uint8
	HasSeq  bool

	// Gaps counts the sequence numbers that never arrived
	Gaps uint64

	Devices  map[string]bool
	Born     time.Time
	LastSeen time.Time
}

// copy is a deep copy safe to hand out.
func (s *NodeStatus) copy() NodeStatus {
	out := *s
	out.Devices = make(map[string]bool, len(s.Devices))
	for id, online := range s.Devices {
		out.Devices[id] = online
	}

	return out
}

// tracker follows the sessions of the edge nodes in the namespace.
type tracker struct {
	mu      sync.RWMutex
	nodes   map[string]*NodeStatus
	aliases map[string]map[uint64]string
}

func newTracker() *tracker {
	return &tracker{
		nodes:   make(map[string]*NodeStatus),
		aliases: make(map[string]map[uint64]string),
	}
}

// seen returns the record of a node, creating an offline one if needed.
// mu must be held.
func (t *tracker) seen(id message.Identity) *NodeStatus {
	key := id.Node().String()

	s, ok := t.nodes[key]
	if !ok {
		s = &NodeStatus{
			Identity:      id.Node(),
			SessionNumber: -1,
			Devices:       make(map[string]bool),
		}
		t.nodes[key] = s
	}

	return s
}

// nodeBirth starts a new session for a node.
func (t *tracker) nodeBirth(id message.Identity, sessionNumber int64, seq *uint64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.seen(id)
	s.Online = true
	s.SessionNumber = sessionNumber
	s.Born = now
	s.LastSeen = now
	s.HasSeq = false
	for d := range s.Devices {
		s.Devices[d] = false
	}

	if seq != nil {
		s.LastSeq = uint8(*seq)
		s.HasSeq = true
	}
}

// nodeDeath ends the session when sessionNumber matches the birth. It
// returns false for a stale death certificate of an older session.
func (t *tracker) nodeDeath(id message.Identity, sessionNumber int64, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.seen(id)
	if s.SessionNumber >= 0 && sessionNumber >= 0 && s.SessionNumber != sessionNumber {
		return false
	}

	s.Online = false
	s.LastSeen = now
	for d := range s.Devices {
		s.Devices[d] = false
	}

	return true
}

// sequence records the sequence number of a message after the birth and
// returns how many numbers were skipped. born is false when the node has
// no live session.
func (t *tracker) sequence(id message.Identity, seq *uint64, now time.Time) (missed uint64, born bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.seen(id)
	s.LastSeen = now

	if !s.Online {
		return 0, false
	}

	if seq == nil {
		return 0, true
	}

	next := uint8(*seq)
	if s.HasSeq {
		missed = uint64(next - s.LastSeq - 1)
		if next == s.LastSeq {
			// a repeated number is a duplicate, not a full cycle of loss
			missed = 0
		}
	}

	s.Gaps += missed
	s.LastSeq = next
	s.HasSeq = true

	return missed, true
}

func (t *tracker) device(id message.Identity, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seen(id).Devices[id.DeviceID] = online
}

// learn records the aliases announced in a birth.
func (t *tracker) learn(id message.Identity, metrics []metric.Metric) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := id.String()
	aliases := make(map[uint64]string)
	for _, m := range metrics {
		if m.Alias != nil && m.Name != "" {
			aliases[*m.Alias] = m.Name
		}
	}

	t.aliases[key] = aliases
}

// resolve names metrics that only carry an alias. Unknown aliases are left
// unnamed.
func (t *tracker) resolve(id message.Identity, metrics []metric.Metric) []metric.Metric {
	t.mu.RLock()
	defer t.mu.RUnlock()

	aliases := t.aliases[id.String()]

	out := make([]metric.Metric, len(metrics))
	for i, m := range metrics {
		if m.Name == "" && m.Alias != nil {
			m.Name = aliases[*m.Alias]
		}
		out[i] = m
	}

	return out
}

func (t *tracker) status(id message.Identity) (NodeStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.nodes[id.Node().String()]
	if !ok {
		return NodeStatus{}, false
	}

	return s.copy(), true
}

func (t *tracker) all() []NodeStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]NodeStatus, 0, len(t.nodes))
	for _, s := range t.nodes {
		out = append(out, s.copy())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.String() < out[j].Identity.String()
	})

	return out
}
