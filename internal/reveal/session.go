package reveal

import (
	"sync"
	"time"

	"lootfan/internal/apperrors"
	"lootfan/internal/models"
)

// Event drives a transition of a Session.
type Event string

const (
	EventBegin        Event = "BEGIN"
	EventTimerElapsed Event = "TIMER_ELAPSED"
	EventCommitted    Event = "COMMITTED"
	EventFailed       Event = "FAILED"
	EventDismissed    Event = "DISMISSED"
)

// Transition is one entry of a session's history.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Event Event     `json:"event"`
	At    time.Time `json:"at"`
}

// Session is the reveal of one in-flight draw.
type Session struct {
	mu sync.Mutex

	id    string
	fanID string
	mode  models.AnimationMode
	steps []Step

	state       State
	step        int
	stepStarted time.Time
	timersDone  bool
	begun       bool

	outcome *Outcome
	plan    *Plan
	err     error

	history      []Transition
	lastActivity time.Time
}

// NewSession creates an Idle session for mode.
func NewSession(id, fanID string, mode models.AnimationMode) (*Session, error) {
	steps, err := Timeline(mode)
	if err != nil {
		return nil, err
	}
	return &Session{id: id, fanID: fanID, mode: mode, steps: steps, state: Idle}, nil
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) FanID() string              { return s.fanID }
func (s *Session) Mode() models.AnimationMode { return s.mode }

func invalid(from State, ev Event) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidTransition, "event not allowed in this state",
		map[string]string{"state": string(from), "event": string(ev)})
}

func (s *Session) moveTo(to State, ev Event, now time.Time) {
	s.history = append(s.history, Transition{From: s.state, To: to, Event: ev, At: now})
	s.state = to
	s.lastActivity = now
}

func (s *Session) terminal() State {
	bonus := s.outcome != nil && s.outcome.BonusGranted
	return TerminalState(s.mode, bonus)
}

func (s *Session) inFlight() bool {
	return s.begun && s.state != Idle && s.state != s.terminal()
}

// settle enters the terminal state when both conditions hold.
func (s *Session) settle(ev Event, now time.Time) {
	if s.timersDone && s.outcome != nil && s.inFlight() {
		s.moveTo(s.terminal(), ev, now)
	}
}

// Begin starts the first timed state.
func (s *Session) Begin(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.begun || s.state != Idle {
		return invalid(s.state, EventBegin)
	}
	s.begun = true
	s.step = 0
	s.stepStarted = now
	s.moveTo(s.steps[0].State, EventBegin, now)
	return nil
}

// Commit records the backend outcome. The session shows it once the last
// timer has elapsed.
func (s *Session) Commit(outcome Outcome, plan *Plan, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inFlight() || s.outcome != nil {
		return invalid(s.state, EventCommitted)
	}
	s.outcome = &outcome
	s.plan = plan
	s.lastActivity = now
	s.settle(EventCommitted, now)
	return nil
}

// Fail aborts an in-flight session back to Idle. No prize is ever shown.
func (s *Session) Fail(cause error, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inFlight() {
		return invalid(s.state, EventFailed)
	}
	s.err = apperrors.Wrap(apperrors.CodeRevealAborted, "reveal aborted", cause)
	s.outcome = nil
	s.moveTo(Idle, EventFailed, now)
	return nil
}

// Tick advances the timers to now. Each elapsed timer is one TimerElapsed
// event.
func (s *Session) Tick(now time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inFlight() || s.timersDone {
		return s.state
	}
	for !s.timersDone && now.Sub(s.stepStarted) >= s.steps[s.step].Duration() {
		s.stepStarted = s.stepStarted.Add(s.steps[s.step].Duration())
		if s.step+1 < len(s.steps) {
			s.step++
			s.moveTo(s.steps[s.step].State, EventTimerElapsed, s.stepStarted)
			continue
		}
		s.timersDone = true
		s.settle(EventTimerElapsed, now)
	}
	return s.state
}

// Dismiss closes a finished or aborted session.
func (s *Session) Dismiss(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.begun || s.inFlight() {
		return invalid(s.state, EventDismissed)
	}
	if s.state != Idle {
		s.moveTo(Idle, EventDismissed, now)
	}
	return nil
}

// View is what a client may see of a session.
type View struct {
	ID      string               `json:"id"`
	Mode    models.AnimationMode `json:"mode"`
	State   State                `json:"state"`
	Settled bool                 `json:"settled"`
	Plan    *Plan                `json:"plan,omitempty"`
	// Outcome is only set once the terminal state is reached.
	Outcome *Outcome `json:"outcome,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// View returns the client-facing snapshot after advancing timers to now.
func (s *Session) View(now time.Time) View {
	s.Tick(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{ID: s.id, Mode: s.mode, State: s.state, Plan: s.plan}
	if s.begun && s.outcome != nil && s.state == s.terminal() {
		o := *s.outcome
		v.Settled = true
		v.Outcome = &o
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}

// Err returns the abort cause, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// History returns the transitions taken so far.
func (s *Session) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.history...)
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
