package replay

import (
	"errors"
	"fmt"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

// Suspension is the host-induced trap that unwinds a guest at a cache miss.
// The intent event(s) are already journaled when a Suspension is returned;
// guest code must propagate it unchanged so the host can observe the wait.
// No guest stack state is carried: re-execution from the entry point is the
// resume mechanism.
type Suspension struct {
	// WaitingOn lists the promises the execution is now blocked on.
	WaitingOn []promise.ID
	// Await describes the satisfaction predicate.
	Await journal.AwaitKind
}

// Error implements the error interface.
func (s *Suspension) Error() string {
	return fmt.Sprintf("replay: execution suspended on %d promise(s) (%s)", len(s.WaitingOn), s.Await.Mode)
}

// AsSuspension unwraps a Suspension from an error chain.
func AsSuspension(err error) (*Suspension, bool) {
	var s *Suspension
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
