package gossip

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// PeerStatus is a peer's liveness state.
type PeerStatus string

const (
	// PeerActive means the peer was heard from recently.
	PeerActive PeerStatus = "active"
	// PeerSuspect means one liveness window elapsed without contact.
	PeerSuspect PeerStatus = "suspect"
	// PeerDead means a second window elapsed; the peer is excluded from
	// dissemination until it speaks again.
	PeerDead PeerStatus = "dead"
)

// Peer is one remote member of the swarm as seen locally.
type Peer struct {
	ID           string     `json:"id"`
	Address      string     `json:"address"`
	LastSeenAt   time.Time  `json:"lastSeenAt"`
	Status       PeerStatus `json:"status"`
	FailureCount int        `json:"failureCount"`
}

// peerTable owns the peer map and its liveness transitions.
type peerTable struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[string]*Peer)}
}

// add registers a peer. Re-adding an existing id refreshes its address
// and revives it.
func (t *peerTable) add(id, address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.Address = address
		p.Status = PeerActive
		p.LastSeenAt = time.Now()
		p.FailureCount = 0
		return
	}
	t.peers[id] = &Peer{
		ID:         id,
		Address:    address,
		LastSeenAt: time.Now(),
		Status:     PeerActive,
	}
}

// remove deletes a peer. Returns whether it existed.
func (t *peerTable) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; !ok {
		return false
	}
	delete(t.peers, id)
	return true
}

// get returns a snapshot of one peer.
func (t *peerTable) get(id string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// markContact records a successful interaction with a peer: any contact
// revives it to active and clears its failure count.
func (t *peerTable) markContact(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return
	}
	p.LastSeenAt = time.Now()
	p.Status = PeerActive
	p.FailureCount = 0
}

// markFailure records a failed send to a peer.
func (t *peerTable) markFailure(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.FailureCount++
	}
}

// sweep applies the two-window liveness policy: a peer silent for
// suspectAfter becomes suspect, and one silent for deadAfter becomes
// dead. Returns ids that changed status.
func (t *peerTable) sweep(suspectAfter, deadAfter time.Duration) []string {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []string
	for id, p := range t.peers {
		silent := now.Sub(p.LastSeenAt)
		switch p.Status {
		case PeerActive:
			if silent >= suspectAfter {
				p.Status = PeerSuspect
				changed = append(changed, id)
			}
		case PeerSuspect:
			if silent >= deadAfter {
				p.Status = PeerDead
				changed = append(changed, id)
			}
		}
	}
	sort.Strings(changed)
	return changed
}

// snapshot returns all peers sorted by id.
func (t *peerTable) snapshot() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// active returns the active peers in arbitrary order.
func (t *peerTable) active() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Status == PeerActive {
			out = append(out, *p)
		}
	}
	return out
}

// fanoutSize bounds how many peers one round targets:
// min(requested, ceil(ln(active+1)), active). The logarithmic cap keeps
// expected propagation at O(log N) rounds without flooding.
func fanoutSize(requested, active int) int {
	if requested <= 0 || active <= 0 {
		return 0
	}
	n := int(math.Ceil(math.Log(float64(active) + 1)))
	if requested < n {
		n = requested
	}
	if active < n {
		n = active
	}
	return n
}

// selectFanout samples active peers without replacement, excluding the
// given ids.
func (t *peerTable) selectFanout(requested int, exclude ...string) []Peer {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	candidates := t.active()
	filtered := candidates[:0]
	for _, p := range candidates {
		if _, ok := skip[p.ID]; !ok {
			filtered = append(filtered, p)
		}
	}

	n := fanoutSize(requested, len(filtered))
	rand.Shuffle(len(filtered), func(i, j int) {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	})
	return filtered[:n]
}
