package replay

import "goa.design/loom/runtime/workflow/journal"

// Satisfied reports whether the wait recorded by the journal's current
// Blocked status has become satisfiable. Hosts call this after appending
// completion events to decide whether to journal an ExecutionResumed and
// re-enter replay.
//
// Single and All require a recorded completion for every waited id; Any for
// at least one; Signal for the single waiting promise to have consumed a
// delivery. A journal that is not Blocked is never satisfiable.
func Satisfied(j *journal.Journal) bool {
	st := j.Status()
	if st.Phase != journal.PhaseBlocked {
		return false
	}
	c := FromJournal(j)
	switch st.Await.Mode {
	case journal.AwaitSingle, journal.AwaitAll:
		for _, id := range st.WaitingOn {
			if _, ok := c.Lookup(id); !ok {
				return false
			}
		}
		return true
	case journal.AwaitAny:
		for _, id := range st.WaitingOn {
			if _, ok := c.Lookup(id); ok {
				return true
			}
		}
		return false
	case journal.AwaitSignal:
		if len(st.WaitingOn) != 1 {
			return false
		}
		res, ok := c.Lookup(st.WaitingOn[0])
		return ok && res.Kind == ResultSignal
	}
	return false
}
