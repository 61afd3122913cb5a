package negotiation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"caravan.ai/internal/transfer/manifest"
)

type State int

const (
	StateIdle State = iota
	StateRequestSent
	StateDeciding
	StateReboundSent
	StateReboundDeciding
	StateRecovering

	// Terminal states are recorded as LastTerminal; the session itself is
	// back in StateIdle once cleanup has run.
	StateAccepted
	StateRejected
	StateReAccepted
	StateReRejected
)

var stateNames = [...]string{
	"IDLE", "REQUEST_SENT", "DECIDING", "REBOUND_SENT", "REBOUND_DECIDING",
	"RECOVERING", "ACCEPTED", "REJECTED", "REACCEPTED", "REREJECTED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

func (s State) Terminal() bool { return s >= StateAccepted }

// Session is the per-connection negotiation context: at most one outgoing
// and one incoming manifest, and the in-transfer flag.
type Session struct {
	mu sync.Mutex

	state        State
	lastTerminal State
	outgoing     *manifest.Manifest
	incoming     *manifest.Manifest
	inTransfer   bool
	ready        bool
	autoDeny     bool
	// since is when the current non-idle state was entered.
	since time.Time

	// placed tracks descriptor indices already materialized for one batch,
	// so a retried placement does not duplicate entities.
	placedFor batchKey
	placed    map[int]bool
}

// batchKey names one materialization: a manifest and the list being placed.
// Outgoing and incoming manifests of a rebound share an id.
type batchKey struct {
	id   uuid.UUID
	kind string
}

func NewSession() *Session { return &Session{} }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastTerminal is the terminal state the previous negotiation ended in.
func (s *Session) LastTerminal() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTerminal
}

func (s *Session) Outgoing() *manifest.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outgoing
}

func (s *Session) Incoming() *manifest.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incoming
}

func (s *Session) InTransfer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTransfer
}

func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Session) SetReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

// SetAutoDeny opts the peer out of incoming transfer requests.
func (s *Session) SetAutoDeny(v bool) {
	s.mu.Lock()
	s.autoDeny = v
	s.mu.Unlock()
}

func (s *Session) AutoDeny() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoDeny
}

// admit claims the session for an incoming request. It leaves everything
// untouched when the peer is not ready, busy, or opted out.
func (s *Session) admit(m *manifest.Manifest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.inTransfer || s.autoDeny {
		return false
	}
	s.incoming = m
	s.inTransfer = true
	s.state = StateDeciding
	return true
}

// begin claims the session for an outgoing request.
func (s *Session) begin(m *manifest.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotReady
	}
	if s.inTransfer {
		return ErrBusy
	}
	s.outgoing = m
	s.inTransfer = true
	s.state = StateRequestSent
	return nil
}

// expect returns the session's manifests when the state is one of want and
// the reply id matches the outgoing manifest.
func (s *Session) expect(id uuid.UUID, want ...State) (out, in *manifest.Manifest, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outgoing == nil || s.outgoing.ID != id {
		return nil, nil, false
	}
	for _, st := range want {
		if s.state == st {
			return s.outgoing, s.incoming, true
		}
	}
	return nil, nil, false
}

// pending returns the manifest awaiting a local decision in state want.
func (s *Session) pending(want State) (out, in *manifest.Manifest, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want || s.incoming == nil {
		return nil, nil, false
	}
	return s.outgoing, s.incoming, true
}

func (s *Session) set(st State, out, in *manifest.Manifest) {
	s.mu.Lock()
	s.state = st
	s.outgoing = out
	s.incoming = in
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) touch(at time.Time) {
	s.mu.Lock()
	s.since = at
	s.mu.Unlock()
}

// Since reports the current state and when it was entered.
func (s *Session) Since() (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.since
}

// startBatch resets placement tracking unless key is already being tracked.
func (s *Session) startBatch(key batchKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.placed == nil || s.placedFor != key {
		s.placedFor = key
		s.placed = map[int]bool{}
	}
}

func (s *Session) isPlaced(key batchKey, idx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placedFor == key && s.placed[idx]
}

func (s *Session) markPlaced(key batchKey, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.placedFor == key && s.placed != nil {
		s.placed[idx] = true
	}
}

// clear drops both manifests and the in-transfer flag.
func (s *Session) clear(terminal State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outgoing = nil
	s.incoming = nil
	s.inTransfer = false
	s.state = StateIdle
	s.since = time.Time{}
	if terminal.Terminal() {
		s.lastTerminal = terminal
	}
	s.placedFor = batchKey{}
	s.placed = nil
}
