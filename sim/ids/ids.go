// Package ids hands out the monotonically increasing identifiers used across a
// simulation: agent ids, resource object and state ids, transaction ids, and
// the simulation UUID.
//
// A Service is not safe for concurrent use. The phase machine is the only
// caller and it is single-threaded.
package ids

import "github.com/google/uuid"

// Service allocates fresh identifiers. Every counter starts at 1 so that 0
// can be used as "none" in recorded rows (e.g. Resources.Parent1).
type Service struct {
	simID uuid.UUID
	agent int
	obj   int
	state int
	trans int
}

// New creates a Service with a freshly generated simulation UUID.
func New() *Service {
	return NewWithSimID(uuid.New())
}

// NewWithSimID creates a Service bound to an existing simulation UUID.
// Used when branching from a parent simulation or replaying a run.
func NewWithSimID(id uuid.UUID) *Service {
	return &Service{simID: id}
}

// SimID returns the simulation UUID.
func (s *Service) SimID() uuid.UUID { return s.simID }

// NextAgentID returns a fresh agent id.
func (s *Service) NextAgentID() int {
	s.agent++
	return s.agent
}

// NextObjID returns a fresh resource object id.
func (s *Service) NextObjID() int {
	s.obj++
	return s.obj
}

// NextStateID returns a fresh resource state id. State ids are never reused.
func (s *Service) NextStateID() int {
	s.state++
	return s.state
}

// NextTransactionID returns a fresh transaction id.
func (s *Service) NextTransactionID() int {
	s.trans++
	return s.trans
}
