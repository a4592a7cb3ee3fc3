/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	DefaultMinutes = 20
	MinMinutes     = 1
	MaxMinutes     = 120

	WarningSeconds = 300
	DangerSeconds  = 60

	// MinInputLength is the shortest type-ahead text worth submitting.
	MinInputLength = 2
)

var ErrInvalidDuration = fmt.Errorf("duration must be between %d-%d minutes inclusive", MinMinutes, MaxMinutes)

// ValidateMinutes reports whether minutes is an acceptable round length.
func ValidateMinutes(minutes int) error {
	if minutes < MinMinutes || minutes > MaxMinutes {
		return fmt.Errorf("%w: %d", ErrInvalidDuration, minutes)
	}

	return nil
}

type State int

const (
	Idle State = iota
	Running
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	}

	return "unknown"
}

type EndReason int

const (
	NotEnded EndReason = iota
	Completed
	TimedOut
)

func (r EndReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	}

	return ""
}

// Status is a State together with the reason it ended, if it has.
type Status struct {
	State  State
	Reason EndReason
}

type Result int

const (
	NotFound Result = iota
	Duplicate
	Correct
)

func (r Result) String() string {
	switch r {
	case Duplicate:
		return "duplicate"
	case Correct:
		return "correct"
	}

	return "not_found"
}

// GuessOutcome describes what a single guess did.
type GuessOutcome struct {
	Result   Result
	Entity   Entity // set only when Result is Correct
	Found    int
	Complete bool
}

// TimeSignal describes what a single tick did. Warning and Danger are set
// only on the tick that reaches their threshold.
type TimeSignal struct {
	Remaining int
	Warning   bool
	Danger    bool
	TimedOut  bool
}

// Score summarizes progress for the end-of-round screen.
type Score struct {
	Found      int `json:"found"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Session is one round of the quiz. It is not safe for concurrent use; the
// host must deliver guesses and ticks one at a time.
type Session struct {
	resolver *Resolver
	obs      Observer

	found []string
	seen  map[string]struct{}

	defaultSeconds int
	remaining      int

	state  State
	reason EndReason

	warned   bool
	dangered bool
}

// NewSession returns an idle session over the countries known to r. A nil
// observer is replaced with NopObserver.
func NewSession(r *Resolver, obs Observer) *Session {
	if obs == nil {
		obs = NopObserver{}
	}

	return &Session{
		resolver:       r,
		obs:            obs,
		seen:           make(map[string]struct{}),
		defaultSeconds: DefaultMinutes * 60,
		remaining:      DefaultMinutes * 60,
	}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Status() Status {
	return Status{State: s.state, Reason: s.reason}
}

func (s *Session) Remaining() int {
	return s.remaining
}

func (s *Session) DefaultSeconds() int {
	return s.defaultSeconds
}

func (s *Session) Total() int {
	return s.resolver.Len()
}

// Found returns the countries found so far, in the order they were found.
func (s *Session) Found() []Entity {
	out := make([]Entity, 0, len(s.found))
	for _, name := range s.found {
		if e, ok := s.resolver.Entity(name); ok {
			out = append(out, e)
		}
	}

	return out
}

// HasFound reports whether canonical was already guessed this round.
func (s *Session) HasFound(canonical string) bool {
	_, ok := s.seen[canonical]

	return ok
}

// Thresholds reports which clock warnings have already fired this round.
func (s *Session) Thresholds() (warned, dangered bool) {
	return s.warned, s.dangered
}

func (s *Session) Score() Score {
	total := s.resolver.Len()

	score := Score{
		Found: len(s.found),
		Total: total,
	}

	if total > 0 {
		score.Percentage = int(math.Round(float64(score.Found) / float64(total) * 100))
	}

	return score
}

func (s *Session) setState(state State, reason EndReason) {
	s.state = state
	s.reason = reason

	s.obs.OnStateChange(s.Status())
}

// Start begins the round. It only has an effect on an idle session with at
// least one country loaded.
func (s *Session) Start() bool {
	if s.state != Idle || s.resolver.Len() == 0 {
		return false
	}

	s.setState(Running, NotEnded)

	return true
}

func (s *Session) Pause() bool {
	if s.state != Running {
		return false
	}

	s.setState(Paused, NotEnded)

	return true
}

func (s *Session) Resume() bool {
	if s.state != Paused {
		return false
	}

	s.setState(Running, NotEnded)

	return true
}

// TogglePause pauses a running session or resumes a paused one.
func (s *Session) TogglePause() bool {
	if s.state == Paused {
		return s.Resume()
	}

	return s.Pause()
}

// Reset returns the session to Idle from any state, clearing progress and
// restoring the clock.
func (s *Session) Reset() {
	s.found = nil
	s.seen = make(map[string]struct{})
	s.remaining = s.defaultSeconds
	s.warned = false
	s.dangered = false

	s.setState(Idle, NotEnded)
	s.obs.OnReset()
}

// SetDefaultDuration changes the round length. Out of range values return
// ErrInvalidDuration; calls outside Idle are ignored.
func (s *Session) SetDefaultDuration(minutes int) error {
	if err := ValidateMinutes(minutes); err != nil {
		return err
	}

	if s.state != Idle {
		return nil
	}

	s.defaultSeconds = minutes * 60
	s.remaining = s.defaultSeconds

	return nil
}

// SubmitGuess checks one free-text guess. Guesses made while the session is
// not running never change it.
func (s *Session) SubmitGuess(raw string) GuessOutcome {
	outcome := GuessOutcome{Result: NotFound, Found: len(s.found)}

	if s.state != Running {
		return outcome
	}

	canonical, ok := s.resolver.Resolve(raw)
	if !ok {
		return outcome
	}

	entity, ok := s.resolver.Entity(canonical)
	if !ok {
		s.obs.OnFeedback("Country not found. Try again!", FeedbackIncorrect)

		return outcome
	}

	if _, dup := s.seen[canonical]; dup {
		outcome.Result = Duplicate
		s.obs.OnFeedback("Already found this country!", FeedbackDuplicate)

		return outcome
	}

	s.seen[canonical] = struct{}{}
	s.found = append(s.found, canonical)

	outcome.Result = Correct
	outcome.Entity = entity
	outcome.Found = len(s.found)

	s.obs.OnCorrect(entity)
	s.obs.OnFeedback("✓ Correct! "+entity.DisplayName, FeedbackCorrect)

	if len(s.found) == s.resolver.Len() {
		outcome.Complete = true
		s.setState(Ended, Completed)
	}

	return outcome
}

// SubmitIfKnown is the type-ahead path: partial input is only submitted
// once it names a country that has not been found yet, and misses stay
// silent. It reports whether the text was submitted.
func (s *Session) SubmitIfKnown(raw string) (GuessOutcome, bool) {
	if s.state != Running {
		return GuessOutcome{Result: NotFound, Found: len(s.found)}, false
	}

	canonical, ok := s.resolver.Resolve(raw)
	if !ok || utf8.RuneCountInString(Normalize(raw)) < MinInputLength {
		return GuessOutcome{Result: NotFound, Found: len(s.found)}, false
	}

	if !s.resolver.IsKnown(canonical) || s.HasFound(canonical) {
		return GuessOutcome{Result: NotFound, Found: len(s.found)}, false
	}

	return s.SubmitGuess(raw), true
}

// Tick removes one second from the clock. It returns false, doing nothing,
// unless the session is running.
func (s *Session) Tick() (TimeSignal, bool) {
	if s.state != Running {
		return TimeSignal{Remaining: s.remaining}, false
	}

	if s.remaining > 0 {
		s.remaining--
	}

	sig := TimeSignal{Remaining: s.remaining}

	if s.remaining == WarningSeconds && !s.warned {
		s.warned = true
		sig.Warning = true
	}

	if s.remaining == DangerSeconds && !s.dangered {
		s.dangered = true
		sig.Danger = true
	}

	sig.TimedOut = s.remaining == 0

	s.obs.OnTick(sig)

	if sig.TimedOut {
		s.setState(Ended, TimedOut)
	}

	return sig, true
}

// FormatClock renders seconds as MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}

	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
