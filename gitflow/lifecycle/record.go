package lifecycle

import "time"

// Status is the clone state of one (user, repository)
// pair.
type Status string

const (
	// StatusPending means the repository is known but
	// no clone attempt has run yet.
	StatusPending Status = "PENDING"
	// StatusCloning means a clone attempt is in
	// flight.
	StatusCloning Status = "CLONING"
	// StatusCloned means a healthy clone exists at
	// LocalPath.
	StatusCloned Status = "CLONED"
	// StatusFailed means the last clone attempt
	// failed; CloneErrorMessage holds the cause.
	StatusFailed Status = "FAILED"
	// StatusOutdated marks a clone whose remote
	// configuration changed; the next reconciliation
	// re-clones it. Set by callers, never by the
	// manager.
	StatusOutdated Status = "OUTDATED"
)

// validTransitions is the closed set of allowed status
// moves.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusCloning},
	StatusCloning:  {StatusCloned, StatusFailed},
	StatusFailed:   {StatusCloning},
	StatusCloned:   {StatusCloning, StatusOutdated},
	StatusOutdated: {StatusCloning},
}

// ValidTransition reports whether moving from one
// status to another is allowed.
func ValidTransition(from Status, to Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}

	return false
}

// Record is the persisted clone status of one
// (user, repository) pair. Exactly one record exists
// per pair; it is mutated only by the Manager and never
// deleted automatically.
//
// Invariants: LocalPath is set iff Status is CLONED;
// CloneErrorMessage is set only when Status is FAILED.
type Record struct {
	ID               int64
	UserID           string
	CloneURL         string
	RepoName         string
	Status           Status
	Branch           string
	LocalPath        string
	LastCloneAttempt *time.Time
	CloneErrorMsg    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
