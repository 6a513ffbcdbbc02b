package engine

import "fmt"

// Guard identifiers, reported in the order guards are evaluated.
const (
	GuardState        = "state"
	GuardRole         = "role"
	GuardPrecondition = "precondition"
	GuardRetryCap     = "retry_cap"
)

// GuardViolationError means a transition was refused. It is permanent for
// role/state violations; precondition violations clear once the caller
// supplies the missing evidence and retries the same transition.
type GuardViolationError struct {
	Guard  string
	From   string
	To     string
	Detail string
}

func (e GuardViolationError) Error() string {
	return fmt.Sprintf("transition %s -> %s refused (%s): %s", e.From, e.To, e.Guard, e.Detail)
}

// Recoverable reports whether retrying the same transition can succeed once
// the caller fixes the precondition.
func (e GuardViolationError) Recoverable() bool {
	return e.Guard == GuardPrecondition
}

// ConcurrencyConflictError surfaces after the bounded internal reload-and-retry
// on optimistic-lock conflicts is exhausted.
type ConcurrencyConflictError struct {
	ApplicationID string
}

func (e ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("application %s was modified concurrently; reload and retry", e.ApplicationID)
}

// MaxRetriesExceededError is terminal: a bounded loop (re-inspections, report
// retries, assessment attempts) hit its cap and a human has to step in.
type MaxRetriesExceededError struct {
	Op  string
	Max int
}

func (e MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("%s exceeded maximum of %d attempts", e.Op, e.Max)
}

// DependencyUnavailableError wraps a failing collaborator (persistence, report
// generator). Recoverable, subject to the shared bounded-retry policy.
type DependencyUnavailableError struct {
	Dependency string
	Err        error
}

func (e DependencyUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e DependencyUnavailableError) Unwrap() error { return e.Err }
