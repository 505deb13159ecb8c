package sessions

import (
	"sync"
	"time"

	"github.com/kys42/remote-agent/agent"
	"github.com/kys42/remote-agent/runner"
)

// Session binds one agent definition instantiation, one process runner, and
// the mutable per-conversation state under a single identifier.
//
// The session's own mutex guards its state machine, backlog, and subscriber
// slot; membership in the manager's live set and the quota counters are the
// manager's concern.
type Session struct {
	id     string
	userID string

	mu   sync.Mutex
	cond *sync.Cond // signaled on backlog append, detach, and terminal transition

	def     *agent.Definition
	workdir string
	state   State

	createdAt    time.Time
	lastActivity time.Time
	endedAt      time.Time
	exitReason   string

	run *runner.Runner
	// gen increments every time the runner is replaced (switchAgent) so a
	// stale output pump can detect it no longer owns the session.
	gen int

	backlog    []OutputEvent
	backlogCap int
	dropped    uint64 // lifetime count of lines lost to backlog overflow

	// attachGen increments on every attach/detach so the dispatcher for a
	// previous subscriber stops even if it never observes the channel.
	attachGen int
	attached  bool
	detachCh  chan struct{}
}

func newSession(id, userID string, def *agent.Definition, workdir string, backlogCap int) *Session {
	s := &Session{
		id:           id,
		userID:       userID,
		def:          def,
		workdir:      workdir,
		state:        StateCreating,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		backlogCap:   backlogCap,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user identifier.
func (s *Session) UserID() string { return s.userID }

// snapshot builds an Info under the session lock.
func (s *Session) snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:               s.id,
		UserID:           s.userID,
		AgentType:        s.def.ID,
		State:            s.state,
		WorkingDirectory: s.workdir,
		CreatedAt:        s.createdAt,
		LastActivity:     s.lastActivity,
		BacklogDepth:     len(s.backlog),
		ExitReason:       s.exitReason,
	}
}

// recordOutput appends one output line to the backlog, refreshing activity
// and waking an idle session. The backlog is bounded: when full, the oldest
// line is dropped. This is the documented lossy policy for unattached
// sessions, not an error.
//
// Returns the idle-to-running transition if one occurred, for the manager
// to announce.
func (s *Session) recordOutput(line runner.Line, gen int) (change *StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		// A stale pump from a replaced runner; its output no longer
		// belongs to this session.
		return nil
	}

	s.lastActivity = time.Now()
	if s.state == StateIdle {
		s.state = StateRunning
		change = &StateChange{
			SessionID: s.id,
			OldState:  StateIdle,
			NewState:  StateRunning,
			Reason:    "output received",
		}
	}

	s.backlog = append(s.backlog, OutputEvent{
		SessionID: s.id,
		Stream:    line.Stream,
		Text:      line.Text,
		Timestamp: line.Time,
	})
	if len(s.backlog) > s.backlogCap {
		s.backlog = s.backlog[1:]
		s.dropped++
	}
	s.cond.Signal()
	return change
}

// attach registers the sole subscriber and starts a dispatcher that flushes
// the backlog in original order, then relays live events. The returned
// channel is closed when the subscriber detaches or the session reaches a
// terminal state with an empty backlog.
func (s *Session) attach() (<-chan OutputEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return nil, false
	}

	s.attached = true
	s.attachGen++
	s.detachCh = make(chan struct{})

	// Capacity matches the backlog bound so the initial flush never blocks
	// on a consumer that has not started reading yet.
	ch := make(chan OutputEvent, s.backlogCap)
	go s.dispatch(s.attachGen, ch, s.detachCh)
	return ch, true
}

// detach releases the subscriber slot. Safe to call when not attached.
// The session keeps running; subsequent output accumulates in the backlog.
func (s *Session) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachInternal()
}

func (s *Session) detachInternal() {
	if !s.attached {
		return
	}
	s.attached = false
	s.attachGen++
	close(s.detachCh)
	s.detachCh = nil
	s.cond.Broadcast()
}

// dispatch moves backlog entries to the subscriber channel in order.
// It exits when the subscriber detaches or the session is terminal and
// the backlog has been fully drained.
func (s *Session) dispatch(gen int, ch chan<- OutputEvent, detachCh <-chan struct{}) {
	defer close(ch)

	for {
		s.mu.Lock()
		for s.attachGen == gen && !s.state.Terminal() && len(s.backlog) == 0 {
			s.cond.Wait()
		}
		if s.attachGen != gen {
			s.mu.Unlock()
			return
		}
		if len(s.backlog) == 0 {
			// Terminal and drained.
			s.mu.Unlock()
			return
		}
		ev := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.mu.Unlock()

		select {
		case ch <- ev:
		case <-detachCh:
			// Consumer left mid-delivery: put the event back so a later
			// subscriber still sees it.
			s.mu.Lock()
			s.backlog = append([]OutputEvent{ev}, s.backlog...)
			if len(s.backlog) > s.backlogCap {
				s.backlog = s.backlog[:s.backlogCap]
			}
			s.mu.Unlock()
			return
		}
	}
}

// markTerminal flips the session to a terminal state exactly once.
// Returns the transition to announce, or nil if already terminal.
func (s *Session) markTerminal(state State, reason string) *StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return nil
	}

	old := s.state
	s.state = state
	s.exitReason = reason
	s.endedAt = time.Now()
	s.run = nil
	s.cond.Broadcast()

	return &StateChange{
		SessionID: s.id,
		OldState:  old,
		NewState:  state,
		Reason:    reason,
	}
}
