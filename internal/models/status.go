package models

// Status is the lifecycle state of an AtomicOperation.
type Status string

const (
	StatusClassifying          Status = "CLASSIFYING"
	StatusAwaitingVerification Status = "AWAITING_VERIFICATION"
	StatusAwaitingApproval     Status = "AWAITING_APPROVAL"
	StatusExecuting            Status = "EXECUTING"
	StatusComplete             Status = "COMPLETE"
	StatusFailed               Status = "FAILED"
	StatusDecomposed           Status = "DECOMPOSED"
	StatusCancelled            Status = "CANCELLED"
)

// transitions lists the legal next states for every status.
// DECOMPOSED never reaches EXECUTING; it is closed out once its children settle.
var transitions = map[Status][]Status{
	StatusClassifying:          {StatusAwaitingVerification, StatusDecomposed, StatusFailed},
	StatusAwaitingVerification: {StatusAwaitingApproval, StatusExecuting, StatusFailed},
	StatusAwaitingApproval:     {StatusExecuting, StatusCancelled, StatusFailed},
	StatusExecuting:            {StatusComplete, StatusFailed},
	StatusDecomposed:           {StatusComplete, StatusFailed},
	StatusComplete:             {},
	StatusFailed:               {},
	StatusCancelled:            {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}
