package tracker

import "github.com/e7canasta/orion-facemesh/internal/types"

// Next is the presence transition function.
//
//	no face                   -> LOST
//	face after LOST           -> REFOUND
//	face after REFOUND/TRACKING -> TRACKING
//
// run increments while the state repeats and resets to 0 on a change.
func Next(prev types.PresenceState, run int, hasFace bool) (types.PresenceState, int) {
	var next types.PresenceState
	switch {
	case !hasFace:
		next = types.StateLost
	case prev == types.StateLost:
		next = types.StateRefound
	default:
		next = types.StateTracking
	}

	if next == prev {
		return next, run + 1
	}
	return next, 0
}

// Presence holds the machine state. The zero value is LOST with run 0.
type Presence struct {
	state types.PresenceState
	run   int
}

// Update advances the machine by one tick
func (p *Presence) Update(hasFace bool) (types.PresenceState, int) {
	p.state, p.run = Next(p.state, p.run, hasFace)
	return p.state, p.run
}

// State returns the current state and run length
func (p *Presence) State() (types.PresenceState, int) {
	return p.state, p.run
}
