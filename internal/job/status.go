package job

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// transitions lists the allowed edges. COMPLETED and FAILED have none.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is an edge of the state machine.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesOf lists the statuses with an edge into next, in lifecycle order.
// Stores use it as the compare-and-swap guard for a transition.
func SourcesOf(next Status) []Status {
	var sources []Status
	for _, s := range allStatuses {
		if s.CanTransitionTo(next) {
			sources = append(sources, s)
		}
	}
	return sources
}

func (s Status) String() string {
	return string(s)
}
