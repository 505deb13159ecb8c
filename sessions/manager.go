// Package sessions implements the agent session manager: it owns the set of
// all live sessions, spawns and supervises one external agent process per
// session, multiplexes each session's output to at most one subscriber, and
// enforces concurrency limits, timeouts, and clean shutdown.
package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kys42/remote-agent/agent"
	"github.com/kys42/remote-agent/config"
	"github.com/kys42/remote-agent/errors"
	"github.com/kys42/remote-agent/logging"
	"github.com/kys42/remote-agent/runner"
)

// eventBuffer is the capacity of state-change subscriber channels.
// Broadcasts are non-blocking so a stalled subscriber drops events
// rather than stalling the manager.
const eventBuffer = 100

// Manager owns every live session. Construct with NewManager and release
// with Shutdown; there is no ambient singleton.
type Manager struct {
	limits   config.LimitsConfig
	registry *agent.Registry
	executor runner.Executor
	logger   *logrus.Entry

	mu          sync.Mutex
	sessions    map[string]*Session
	liveTotal   int
	liveByDef   map[string]int
	subscribers map[chan StateChange]struct{}
	closed      bool

	stopSweep chan struct{}
	sweepDone chan struct{}
	pumps     sync.WaitGroup
}

// NewManager creates a session manager and starts its background sweep.
func NewManager(registry *agent.Registry, limits config.LimitsConfig) *Manager {
	return NewManagerWithExecutor(registry, limits, &runner.RealExecutor{})
}

// NewManagerWithExecutor creates a manager with a custom process executor,
// enabling tests to substitute mock binaries.
func NewManagerWithExecutor(registry *agent.Registry, limits config.LimitsConfig, executor runner.Executor) *Manager {
	m := &Manager{
		limits:      limits,
		registry:    registry,
		executor:    executor,
		logger:      logging.NewLogger("sessions"),
		sessions:    make(map[string]*Session),
		liveByDef:   make(map[string]int),
		subscribers: make(map[chan StateChange]struct{}),
		stopSweep:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// ListAgentTypes returns the registered agent definitions.
func (m *Manager) ListAgentTypes() []*agent.Definition {
	return m.registry.List()
}

// CreateSession resolves the agent definition, enforces per-type and global
// caps, and starts a new session. It returns once the underlying process has
// spawned, or the spawn failure. A failed spawn leaves no session behind.
func (m *Manager) CreateSession(userID, agentTypeID, workdir string) (string, error) {
	def, err := m.registry.Resolve(agentTypeID)
	if err != nil {
		return "", err
	}

	if err := m.reserveQuota(def); err != nil {
		return "", err
	}

	id := uuid.NewString()
	s := newSession(id, userID, def, workdir, m.limits.BacklogCapacity)

	run := runner.New(m.executor)
	exe, args := def.LaunchCommand(workdir, "")
	if err := run.Start(workdir, exe, args); err != nil {
		m.releaseQuota(def.ID)
		m.logger.WithError(err).WithFields(logrus.Fields{
			"agentType": agentTypeID,
			"user":      userID,
		}).Error("Session spawn failed")
		return "", err
	}

	s.mu.Lock()
	s.run = run
	s.state = StateRunning
	gen := s.gen
	s.mu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.releaseQuota(def.ID)
		ctx, cancel := context.WithTimeout(context.Background(), m.limits.GracePeriod.Std()+time.Second)
		defer cancel()
		_ = run.Terminate(ctx, m.limits.GracePeriod.Std())
		return "", errors.New(errors.ErrCodeInternal, "manager is shut down")
	}
	m.sessions[id] = s
	m.mu.Unlock()

	m.pumps.Add(1)
	go m.pump(s, run, gen)

	m.logger.WithFields(logrus.Fields{
		"sessionId": id,
		"agentType": def.ID,
		"user":      userID,
		"workdir":   workdir,
	}).Info("Session created")
	m.emit(&StateChange{SessionID: id, OldState: StateCreating, NewState: StateRunning, Reason: "process spawned"})

	return id, nil
}

// SwitchAgent replaces a session's process runner with one launched from a
// different agent definition, preserving the session identifier, owning
// user, and working directory.
func (m *Manager) SwitchAgent(sessionID, newAgentTypeID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	def, err := m.registry.Resolve(newAgentTypeID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.state.Active() {
		state := s.state
		s.mu.Unlock()
		return errors.SessionNotActive(sessionID, string(state))
	}
	oldDef := s.def
	oldRun := s.run
	oldState := s.state
	s.gen++
	gen := s.gen
	s.state = StateCreating
	s.mu.Unlock()

	// The session keeps its global slot across the switch; only the
	// per-type slot moves. The new type's slot is claimed before the old
	// one is given up so the per-type invariant holds throughout.
	if def.ID != oldDef.ID {
		if err := m.reserveTypeSlot(def); err != nil {
			s.mu.Lock()
			if s.state == StateCreating && s.gen == gen {
				s.state = oldState
			}
			s.mu.Unlock()
			return err
		}
	}

	m.emit(&StateChange{SessionID: sessionID, OldState: oldState, NewState: StateCreating, Reason: "switching agent to " + def.ID})

	ctx, cancel := context.WithTimeout(context.Background(), m.limits.GracePeriod.Std()+5*time.Second)
	defer cancel()
	if oldRun != nil {
		_ = oldRun.Terminate(ctx, m.limits.GracePeriod.Std())
	}

	run := runner.New(m.executor)
	exe, args := def.LaunchCommand(s.workdir, "")
	if err := run.Start(s.workdir, exe, args); err != nil {
		if def.ID != oldDef.ID {
			m.releaseTypeSlot(def.ID)
		}
		if change := s.markTerminal(StateFailed, "spawn failure during agent switch"); change != nil {
			m.releaseQuota(oldDef.ID)
			m.emit(change)
		}
		return err
	}

	s.mu.Lock()
	if s.state != StateCreating || s.gen != gen {
		// An end request (or the timeout sweep) settled the session while
		// the replacement was spawning. The old slot is already released;
		// only the replacement and its slot need to be unwound here.
		state := s.state
		s.mu.Unlock()
		if def.ID != oldDef.ID {
			m.releaseTypeSlot(def.ID)
		}
		// Drain so the scanners never block; the runner dies before return.
		go func() {
			for range run.Lines() {
			}
		}()
		tctx, tcancel := context.WithTimeout(context.Background(), m.limits.GracePeriod.Std()+5*time.Second)
		defer tcancel()
		_ = run.Terminate(tctx, m.limits.GracePeriod.Std())
		return errors.SessionNotActive(sessionID, string(state))
	}
	s.run = run
	s.def = def
	s.state = StateRunning
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if def.ID != oldDef.ID {
		m.releaseTypeSlot(oldDef.ID)
	}

	m.pumps.Add(1)
	go m.pump(s, run, gen)

	m.logger.WithFields(logrus.Fields{
		"sessionId": sessionID,
		"agentType": def.ID,
	}).Info("Session switched agent")
	m.emit(&StateChange{SessionID: sessionID, OldState: StateCreating, NewState: StateRunning, Reason: "process spawned"})
	return nil
}

// Submit forwards one line of input to the session's process. It does not
// wait for the agent's reply; output delivery is a separate subscription.
func (m *Manager) Submit(sessionID, text string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.state.Active() {
		state := s.state
		s.mu.Unlock()
		return errors.SessionNotActive(sessionID, string(state))
	}
	run := s.run
	wasIdle := s.state == StateIdle
	if wasIdle {
		s.state = StateRunning
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if wasIdle {
		m.emit(&StateChange{SessionID: sessionID, OldState: StateIdle, NewState: StateRunning, Reason: "input submitted"})
	}
	return run.Send(text)
}

// Attach registers the caller as the session's sole output subscriber.
// The backlog is flushed in original order, then live events follow. The
// channel closes on Detach or when the session ends and is fully drained.
func (m *Manager) Attach(sessionID string) (<-chan OutputEvent, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	ch, ok := s.attach()
	if !ok {
		return nil, errors.SubscriberConflict(sessionID)
	}
	return ch, nil
}

// Detach releases the session's subscriber slot. The session keeps running
// and subsequent output accumulates in the backlog.
func (m *Manager) Detach(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.detach()
	return nil
}

// EndSession gracefully terminates a session's process and marks the
// session ended. Idempotent on an already-ending or ended session.
func (m *Manager) EndSession(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	m.endSession(context.Background(), s, "ended on request")
	return nil
}

// Status returns a snapshot of the session. Terminal sessions remain
// queryable for the retention window, then report SessionNotFound.
func (m *Manager) Status(sessionID string) (Info, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return Info{}, err
	}
	return s.snapshot(), nil
}

// ListSessions returns snapshots of live (non-terminal) sessions, newest
// first. An empty userID lists all users' sessions.
func (m *Manager) ListSessions(userID string) []Info {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(all))
	for _, s := range all {
		info := s.snapshot()
		if info.State.Terminal() {
			continue
		}
		if userID != "" && info.UserID != userID {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos
}

// Subscribe creates a channel receiving session state-change events.
func (m *Manager) Subscribe() chan StateChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan StateChange, eventBuffer)
	m.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a state-change subscription.
func (m *Manager) Unsubscribe(ch chan StateChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(ch)
	}
}

// Shutdown terminates every live session and stops the sweep. It returns
// only after all processes have been reaped and all output pumps drained;
// partial shutdown is a defect, not an accepted failure mode.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stopSweep)
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	<-m.sweepDone

	var wg sync.WaitGroup
	for _, s := range live {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.endSession(ctx, s, "manager shutdown")
		}(s)
	}
	wg.Wait()
	m.pumps.Wait()

	m.mu.Lock()
	for ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = make(map[chan StateChange]struct{})
	m.mu.Unlock()

	m.logger.Info("Session manager shut down")
	return ctx.Err()
}

// get looks up a session by identifier.
func (m *Manager) get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.SessionNotFound(sessionID)
	}
	return s, nil
}

// reserveQuota claims one global and one per-type session slot.
func (m *Manager) reserveQuota(def *agent.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveTotal >= m.limits.MaxSessions {
		return errors.QuotaExceeded("all agents", m.limits.MaxSessions)
	}
	if m.liveByDef[def.ID] >= def.MaxSessions {
		return errors.QuotaExceeded(def.ID, def.MaxSessions)
	}
	m.liveTotal++
	m.liveByDef[def.ID]++
	return nil
}

// releaseQuota returns the slots claimed by reserveQuota.
func (m *Manager) releaseQuota(defID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveTotal--
	m.releaseTypeSlotLocked(defID)
}

// reserveTypeSlot claims a per-type slot only, for an agent switch where
// the session already holds its global slot.
func (m *Manager) reserveTypeSlot(def *agent.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveByDef[def.ID] >= def.MaxSessions {
		return errors.QuotaExceeded(def.ID, def.MaxSessions)
	}
	m.liveByDef[def.ID]++
	return nil
}

// releaseTypeSlot returns a per-type slot without touching the global count.
func (m *Manager) releaseTypeSlot(defID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseTypeSlotLocked(defID)
}

func (m *Manager) releaseTypeSlotLocked(defID string) {
	m.liveByDef[defID]--
	if m.liveByDef[defID] <= 0 {
		delete(m.liveByDef, defID)
	}
}

// pump relays one runner's output into the session until the process exits,
// then settles the session's fate.
func (m *Manager) pump(s *Session, run *runner.Runner, gen int) {
	defer m.pumps.Done()

	for line := range run.Lines() {
		if change := s.recordOutput(line, gen); change != nil {
			m.emit(change)
		}
	}

	s.mu.Lock()
	if gen != s.gen {
		// The runner was replaced by switchAgent; that path owns cleanup.
		s.mu.Unlock()
		return
	}
	ending := s.state == StateEnding
	defID := s.def.ID
	s.mu.Unlock()

	exit, _ := run.ExitState()
	var change *StateChange
	switch {
	case ending:
		change = s.markTerminal(StateEnded, exitReason(exit))
	case exit.Code == 0:
		change = s.markTerminal(StateEnded, "process exited")
	default:
		change = s.markTerminal(StateFailed, "process exited unexpectedly: "+exitReason(exit))
	}
	if change != nil {
		m.releaseQuota(defID)
		m.logger.WithFields(logrus.Fields{
			"sessionId": s.id,
			"state":     change.NewState,
			"reason":    change.Reason,
		}).Info("Session finished")
		m.emit(change)
	}
}

// endSession drives the Ending transition and graceful process teardown.
// Idempotent: concurrent callers and the output pump race on markTerminal,
// and exactly one of them wins.
func (m *Manager) endSession(ctx context.Context, s *Session, reason string) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == StateEnding {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = StateEnding
	run := s.run
	defID := s.def.ID
	s.mu.Unlock()

	m.emit(&StateChange{SessionID: s.id, OldState: old, NewState: StateEnding, Reason: reason})

	if run != nil {
		tctx, cancel := context.WithTimeout(ctx, m.limits.GracePeriod.Std()+5*time.Second)
		_ = run.Terminate(tctx, m.limits.GracePeriod.Std())
		cancel()
	}

	if change := s.markTerminal(StateEnded, reason); change != nil {
		m.releaseQuota(defID)
		m.logger.WithFields(logrus.Fields{
			"sessionId": s.id,
			"reason":    reason,
		}).Info("Session ended")
		m.emit(change)
	}
}

// sweepLoop periodically demotes idle sessions, force-ends expired ones,
// and reaps terminal metadata past the retention window.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	interval := m.limits.SweepInterval.Std()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweepOnce(time.Now())
		}
	}
}

// sweepOnce applies one sweep pass at the given instant.
func (m *Manager) sweepOnce(now time.Time) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	var expired []string
	for _, s := range all {
		s.mu.Lock()
		switch {
		case s.state.Terminal():
			if now.Sub(s.endedAt) >= m.limits.Retention.Std() {
				expired = append(expired, s.id)
			}
			s.mu.Unlock()

		case now.Sub(s.createdAt) >= m.limits.SessionTimeout.Std():
			// Absolute timeout ends the session even if in use.
			s.mu.Unlock()
			m.endSession(context.Background(), s, "session timeout")

		case s.state == StateRunning && now.Sub(s.lastActivity) >= m.limits.IdleThreshold.Std():
			s.state = StateIdle
			s.mu.Unlock()
			m.emit(&StateChange{SessionID: s.id, OldState: StateRunning, NewState: StateIdle, Reason: "idle threshold reached"})

		default:
			s.mu.Unlock()
		}
	}

	if len(expired) > 0 {
		m.mu.Lock()
		for _, id := range expired {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		m.logger.WithField("count", len(expired)).Debug("Reaped expired sessions")
	}
}

// emit broadcasts a state change to all subscribers without blocking.
func (m *Manager) emit(change *StateChange) {
	if change == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- *change:
		default:
			// Slow subscriber: drop rather than stall the manager.
		}
	}
}

func exitReason(exit runner.ExitState) string {
	if exit.Signaled {
		return "process terminated by signal"
	}
	return fmt.Sprintf("process exited with code %d", exit.Code)
}
