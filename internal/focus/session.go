// Package focus runs server-side focus timers. A session counts one fixed
// slot down to zero and settles exactly once: the slot reward on completion,
// or a flat penalty when the student stops early or the connection carrying
// the session goes away.
package focus

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Penalty is debited when a session ends any way other than completion.
const Penalty = -10

// Slot is one selectable focus duration and the credits it pays out.
type Slot struct {
	Duration time.Duration `json:"duration"`
	Reward   int           `json:"reward"`
}

var slots = []Slot{
	{Duration: time.Hour, Reward: 2},
	{Duration: 2 * time.Hour, Reward: 5},
	{Duration: 3 * time.Hour, Reward: 10},
}

// Slots returns the selectable durations, shortest first.
func Slots() []Slot {
	return append([]Slot(nil), slots...)
}

// SlotFor resolves a requested duration to a known slot.
func SlotFor(d time.Duration) (Slot, bool) {
	for _, s := range slots {
		if s.Duration == d {
			return s, true
		}
	}
	return Slot{}, false
}

var (
	ErrUnknownSlot    = errors.New("focus: duration is not a known slot")
	ErrAlreadyRunning = errors.New("focus: a session is already running")
	ErrNotRunning     = errors.New("focus: no session is running")
)

// Rewarder applies the credit delta a settled session earned.
type Rewarder interface {
	Grant(ctx context.Context, uid string, delta int) error
}

// Phase is the lifecycle position of a session.
type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseStopped   Phase = "stopped"
	PhaseAbandoned Phase = "abandoned"
)

// State is a point-in-time view of one session.
type State struct {
	UID       string        `json:"uid"`
	Slot      Slot          `json:"slot"`
	Remaining time.Duration `json:"remaining"`
	Phase     Phase         `json:"phase"`
}

type session struct {
	uid    string
	slot   Slot
	cancel context.CancelFunc
	done   chan struct{}

	// settled is the session's ownership token: whichever path flips it
	// first (completion tick, stop, abandon, shutdown) applies the credit
	// delta, every later path is a no-op.
	settled atomic.Bool

	mu        sync.Mutex
	remaining time.Duration
	phase     Phase
}

func (s *session) state() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{UID: s.uid, Slot: s.slot, Remaining: s.remaining, Phase: s.phase}
}

// Manager owns at most one running session per student.
type Manager struct {
	rewarder Rewarder

	// newTick builds the countdown tick source. Tests swap in a manual
	// channel; production uses a 1s ticker.
	newTick func() (<-chan time.Time, func())

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

func NewManager(rewarder Rewarder) *Manager {
	return &Manager{
		rewarder: rewarder,
		newTick: func() (<-chan time.Time, func()) {
			t := time.NewTicker(time.Second)
			return t.C, t.Stop
		},
		sessions: make(map[string]*session),
	}
}

// Start begins a session for uid on the slot matching d. A student runs at
// most one session at a time.
func (m *Manager) Start(uid string, d time.Duration) (State, error) {
	slot, ok := SlotFor(d)
	if !ok {
		return State{}, ErrUnknownSlot
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return State{}, ErrNotRunning
	}
	if _, running := m.sessions[uid]; running {
		return State{}, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		uid:       uid,
		slot:      slot,
		cancel:    cancel,
		done:      make(chan struct{}),
		remaining: slot.Duration,
		phase:     PhaseRunning,
	}
	m.sessions[uid] = s

	m.wg.Add(1)
	go m.run(ctx, s)
	return s.state(), nil
}

func (m *Manager) run(ctx context.Context, s *session) {
	defer m.wg.Done()
	defer close(s.done)

	tick, stop := m.newTick()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.mu.Lock()
			s.remaining -= time.Second
			finished := s.remaining <= 0
			if finished {
				s.remaining = 0
				s.phase = PhaseCompleted
			}
			s.mu.Unlock()
			if finished {
				m.settle(s, s.slot.Reward)
				m.detach(s.uid, s)
				return
			}
		}
	}
}

// Stop ends uid's session early, taking the penalty.
func (m *Manager) Stop(uid string) (State, error) {
	return m.end(uid, PhaseStopped)
}

// Abandon ends uid's session because its connection went away. Same penalty
// as Stop; the distinction only shows in the reported phase.
func (m *Manager) Abandon(uid string) {
	m.end(uid, PhaseAbandoned) //nolint:errcheck // a vanished session needs nothing
}

func (m *Manager) end(uid string, phase Phase) (State, error) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	m.mu.Unlock()
	if !ok {
		return State{}, ErrNotRunning
	}

	s.cancel()
	<-s.done

	// The countdown may have completed in the same instant; settle decides.
	if m.settle(s, Penalty) {
		s.mu.Lock()
		s.phase = phase
		s.mu.Unlock()
	}
	m.detach(uid, s)
	return s.state(), nil
}

// State reports uid's running session, if any.
func (m *Manager) State(uid string) (State, bool) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	m.mu.Unlock()
	if !ok {
		return State{}, false
	}
	return s.state(), true
}

// Close abandons every running session, applying each penalty before the
// process exits.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	active := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		active = append(active, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range active {
		s.cancel()
		<-s.done
		if m.settle(s, Penalty) {
			s.mu.Lock()
			s.phase = PhaseAbandoned
			s.mu.Unlock()
		}
	}
	m.wg.Wait()
}

// settle applies delta exactly once per session. Uses a background context:
// the ledger write must land even when settling rides a dying request.
func (m *Manager) settle(s *session, delta int) bool {
	if !s.settled.CompareAndSwap(false, true) {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.rewarder.Grant(ctx, s.uid, delta); err != nil {
		log.Printf("focus: settle %s (%+d): %v", s.uid, delta, err)
	}
	return true
}

func (m *Manager) detach(uid string, s *session) {
	m.mu.Lock()
	if m.sessions[uid] == s {
		delete(m.sessions, uid)
	}
	m.mu.Unlock()
}
