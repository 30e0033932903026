package visitview

import "github.com/drfirst/visitdesk/internal/domain/visit"

// Phase is the rendering state of a visit detail view
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseError
	PhaseEmpty
	PhaseLoaded
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseError:
		return "error"
	case PhaseEmpty:
		return "empty"
	case PhaseLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Settled reports whether the phase ends a load
func (p Phase) Settled() bool { return p != PhaseLoading }

// State is a snapshot of a view. Message is set only in PhaseError and
// Record only in PhaseLoaded.
type State struct {
	Phase      Phase
	VisitID    string
	Message    string
	Record     *visit.Record
	Generation uint64
}

// stateFor maps a load outcome to the next state
func stateFor(visitID string, gen uint64, rec *visit.Record, err error) State {
	s := State{VisitID: visitID, Generation: gen}
	switch {
	case err != nil:
		s.Phase = PhaseError
		s.Message = NewFetchError(err).Message
	case rec == nil:
		s.Phase = PhaseEmpty
	default:
		s.Phase = PhaseLoaded
		s.Record = rec
	}
	return s
}
