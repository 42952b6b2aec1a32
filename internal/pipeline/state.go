package pipeline

import (
	"sync"
	"time"
)

// CompensationRecord is one entry in the per-saga audit list: which step
// rolled back, how many rows it removed, and when.
type CompensationRecord struct {
	Step        string
	RowsRemoved int
	Detail      string
	At          time.Time
}

// State is the transient per-saga state object. Forward steps write the
// identifiers they produce; compensations read them back and append to the
// audit list. One State exists per saga and nothing is shared across
// sagas, so a failing run cannot touch another run's identifiers.
type State struct {
	mu sync.Mutex

	sagaID  string
	briefID string

	strategyID string
	draftID    string
	qcResultID string
	packageID  string
	qcPassed   bool

	compensationsApplied []CompensationRecord
}

// StateSnapshot is the read-only copy handed out for introspection.
type StateSnapshot struct {
	SagaID               string
	BriefID              string
	StrategyID           string
	DraftID              string
	QCResultID           string
	PackageID            string
	QCPassed             bool
	CompensationsApplied []CompensationRecord
}

func newState(sagaID, briefID string) *State {
	return &State{sagaID: sagaID, briefID: briefID}
}

func (s *State) setStrategyID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategyID = id
}

func (s *State) setDraftID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draftID = id
}

func (s *State) setQCResult(id string, passed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qcResultID = id
	s.qcPassed = passed
}

func (s *State) setPackageID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packageID = id
}

// StrategyID returns the identifier captured by the strategy step, or ""
// if that step has not produced one.
func (s *State) StrategyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategyID
}

func (s *State) DraftID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draftID
}

func (s *State) QCResultID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qcResultID
}

func (s *State) PackageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packageID
}

func (s *State) recordCompensation(step string, rows int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensationsApplied = append(s.compensationsApplied, CompensationRecord{
		Step:        step,
		RowsRemoved: rows,
		Detail:      detail,
		At:          time.Now().UTC(),
	})
}

// Snapshot returns a copy safe to hand outside the package.
func (s *State) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		SagaID:               s.sagaID,
		BriefID:              s.briefID,
		StrategyID:           s.strategyID,
		DraftID:              s.draftID,
		QCResultID:           s.qcResultID,
		PackageID:            s.packageID,
		QCPassed:             s.qcPassed,
		CompensationsApplied: append([]CompensationRecord(nil), s.compensationsApplied...),
	}
}
