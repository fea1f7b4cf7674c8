package raffle

import "math/big"

// Phase is the lifecycle state of the pool.
type Phase uint8

const (
	// PhaseOpen accepts entries.
	PhaseOpen Phase = iota
	// PhaseDrawing waits for randomness; entries are refused.
	PhaseDrawing
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "OPEN"
	case PhaseDrawing:
		return "DRAWING"
	default:
		return "UNKNOWN"
	}
}

// StateMachine tracks the phase together with the outstanding request.
// A request id is held exactly while the phase is DRAWING.
type StateMachine struct {
	phase   Phase
	pending *big.Int
}

// Phase returns the current phase.
func (s *StateMachine) Phase() Phase {
	return s.phase
}

// Pending returns a copy of the outstanding request id, or nil.
func (s *StateMachine) Pending() *big.Int {
	if s.pending == nil {
		return nil
	}
	return new(big.Int).Set(s.pending)
}

// BeginDraw moves OPEN to DRAWING. The request id is recorded by Record.
func (s *StateMachine) BeginDraw() error {
	if s.phase != PhaseOpen {
		return ErrRaffleNotOpen
	}
	s.phase = PhaseDrawing
	return nil
}

// Record stores the id returned by the coordinator for the current draw.
func (s *StateMachine) Record(requestID *big.Int) {
	s.pending = new(big.Int).Set(requestID)
}

// Abort returns to OPEN when a draw could not be requested.
func (s *StateMachine) Abort() {
	s.phase = PhaseOpen
	s.pending = nil
}

// Matches reports whether requestID is the outstanding request.
func (s *StateMachine) Matches(requestID *big.Int) bool {
	return s.phase == PhaseDrawing && s.pending != nil && requestID != nil &&
		s.pending.Cmp(requestID) == 0
}

// Complete moves DRAWING back to OPEN for the outstanding request.
func (s *StateMachine) Complete(requestID *big.Int) error {
	if !s.Matches(requestID) {
		return ErrUnknownRequest
	}
	s.phase = PhaseOpen
	s.pending = nil
	return nil
}

func (s StateMachine) copy() StateMachine {
	return StateMachine{phase: s.phase, pending: s.Pending()}
}
