package replay_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/journal/journaltest"
	"goa.design/loom/runtime/workflow/promise"
	"goa.design/loom/runtime/workflow/replay"
)

func scriptGen() gopter.Gen {
	opGen := gen.OneConstOf(
		journaltest.OpInvoke,
		journaltest.OpInvokeRetry,
		journaltest.OpTimer,
		journaltest.OpBufferedSignal,
		journaltest.OpBlockedSignal,
		journaltest.OpRandom,
		journaltest.OpTime,
		journaltest.OpJoinSet,
	)
	return gopter.CombineGens(
		gen.SliceOf(opGen),
		gen.OneConstOf(journaltest.TerminalNone, journaltest.TerminalComplete),
	).Map(func(vals []any) journaltest.Script {
		return journaltest.Script{
			Ops:      vals[0].([]journaltest.Op),
			Terminal: vals[1].(journaltest.Terminal),
		}
	})
}

// TestCacheBijectionProperty verifies that building the cache is a bijection
// between terminal-phase events and cache keys: one entry per completion, and
// every completion's promise id resolves.
func TestCacheBijectionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("one cache entry per completion event", prop.ForAll(
		func(s journaltest.Script) bool {
			j, stats, err := journaltest.Build(s)
			if err != nil {
				return false
			}
			c := replay.FromJournal(j)
			if c.Len() != stats.CompletionEvents {
				return false
			}
			for _, entry := range j.Events() {
				var pid promise.ID
				switch evt := entry.Event.(type) {
				case *journal.InvokeCompletedEvent:
					pid = evt.PromiseID
				case *journal.RandomGeneratedEvent:
					pid = evt.PromiseID
				case *journal.TimeRecordedEvent:
					pid = evt.PromiseID
				case *journal.TimerFiredEvent:
					pid = evt.PromiseID
				case *journal.SignalReceivedEvent:
					pid = evt.PromiseID
				default:
					continue
				}
				if _, ok := c.Lookup(pid); !ok {
					return false
				}
			}
			return true
		},
		scriptGen(),
	))

	properties.Property("building the cache twice yields the same mapping", prop.ForAll(
		func(s journaltest.Script) bool {
			j, _, err := journaltest.Build(s)
			if err != nil {
				return false
			}
			a := replay.FromJournal(j)
			b := replay.FromJournal(j)
			if a.Len() != b.Len() {
				return false
			}
			for _, entry := range j.Events() {
				if evt, ok := entry.Event.(*journal.InvokeCompletedEvent); ok {
					ra, oka := a.Lookup(evt.PromiseID)
					rb, okb := b.Lookup(evt.PromiseID)
					if oka != okb || ra.Kind != rb.Kind {
						return false
					}
				}
			}
			return true
		},
		scriptGen(),
	))

	properties.TestingRun(t)
}
