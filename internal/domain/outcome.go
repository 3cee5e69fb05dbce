package domain

import "time"

// Stage is one step of an entity's reconciliation chain
type Stage string

const (
	StageCluster        Stage = "cluster"
	StageSite           Stage = "site"
	StageManufacturer   Stage = "manufacturer"
	StageDeviceType     Stage = "device-type"
	StageDeviceRole     Stage = "device-role"
	StageDevice         Stage = "device"
	StageVirtualMachine Stage = "virtual-machine"
	StageInterface      Stage = "interface"
	StageMACAddress     Stage = "mac-address"
	StagePrimaryMAC     Stage = "primary-mac"
	StageIPAddress      Stage = "ip-address"
	StageIPAssignment   Stage = "ip-assignment"
	StagePrimaryIP      Stage = "primary-ip"
	StageService        Stage = "service"
)

// Action is what a pass did to an entity
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionPlanned   Action = "planned"
	ActionFailed    Action = "failed"
	ActionSkipped   Action = "skipped"
)

// rank orders actions so the most significant one describes an entity
func (a Action) rank() int {
	switch a {
	case ActionFailed:
		return 5
	case ActionCreated:
		return 4
	case ActionPlanned:
		return 3
	case ActionUpdated:
		return 2
	case ActionUnchanged:
		return 1
	default:
		return 0
	}
}

// Merge returns the more significant of two actions
func (a Action) Merge(b Action) Action {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// EntityOutcome is the result of reconciling one top-level entity chain
type EntityOutcome struct {
	Entity string
	Kind   Kind
	ID     int64
	Action Action
	// Stage is set when Action is ActionFailed
	Stage Stage
	Err   error
	Class ErrorClass
	// Notes carries non-fatal remarks (skipped optional stages, tie-breaks)
	Notes []string
}

// Failed reports whether the chain stopped on an error
func (o EntityOutcome) Failed() bool {
	return o.Action == ActionFailed
}

// Skipped reports whether the chain was never started
func (o EntityOutcome) Skipped() bool {
	return o.Action == ActionSkipped
}

// ErrString returns the error text or an empty string
func (o EntityOutcome) ErrString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// BatchSummary collects the outcomes of one pass over a set of entities
type BatchSummary struct {
	Name       string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []EntityOutcome
}

// NewBatchSummary starts a summary
func NewBatchSummary(name string, dryRun bool) *BatchSummary {
	return &BatchSummary{Name: name, DryRun: dryRun, StartedAt: time.Now()}
}

// Add records an outcome
func (s *BatchSummary) Add(o EntityOutcome) {
	if o.Err != nil && o.Class == ErrorClassNone {
		o.Class = Classify(o.Err)
	}
	s.Outcomes = append(s.Outcomes, o)
}

// Finish stamps the end time
func (s *BatchSummary) Finish() {
	s.FinishedAt = time.Now()
}

// Merge appends the outcomes of another summary
func (s *BatchSummary) Merge(other *BatchSummary) {
	if other == nil {
		return
	}
	s.Outcomes = append(s.Outcomes, other.Outcomes...)
	if other.FinishedAt.After(s.FinishedAt) {
		s.FinishedAt = other.FinishedAt
	}
}

// Attempted is the number of entities processed
func (s *BatchSummary) Attempted() int {
	return len(s.Outcomes)
}

// Failed is the number of entities whose chain stopped on an error
func (s *BatchSummary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// Reconciled is the number of entities fully reconciled
func (s *BatchSummary) Reconciled() int {
	n := 0
	for _, o := range s.Outcomes {
		if !o.Failed() && !o.Skipped() {
			n++
		}
	}
	return n
}

// Counts tallies outcomes per action
func (s *BatchSummary) Counts() map[Action]int {
	counts := make(map[Action]int)
	for _, o := range s.Outcomes {
		counts[o.Action]++
	}
	return counts
}
