package promise

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func idGen() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOfN(32, gen.UInt8()),
		gen.SliceOf(gen.UInt32()),
	).Map(func(vals []any) ID {
		seed := vals[0].([]uint8)
		path := vals[1].([]uint32)
		if len(path) > MaxDepth {
			path = path[:MaxDepth]
		}
		var root Digest
		copy(root[:], seed)
		id := ID{root: root}
		for _, seg := range path {
			next, err := id.Child(seg)
			if err != nil {
				break
			}
			id = next
		}
		return id
	})
}

// TestIDRoundTripProperties verifies that canonical binary and text forms
// round-trip by byte equality for arbitrary ids.
func TestIDRoundTripProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("binary round-trip is byte-exact", prop.ForAll(
		func(id ID) bool {
			data, err := id.MarshalBinary()
			if err != nil {
				return false
			}
			var decoded ID
			if err := decoded.UnmarshalBinary(data); err != nil {
				return false
			}
			again, err := decoded.MarshalBinary()
			if err != nil {
				return false
			}
			return decoded.Equal(id) && string(again) == string(data)
		},
		idGen(),
	))

	properties.Property("text round-trip preserves identity", prop.ForAll(
		func(id ID) bool {
			parsed, err := Parse(id.String())
			return err == nil && parsed.Equal(id)
		},
		idGen(),
	))

	properties.TestingRun(t)
}

// TestIDAlgebraProperties verifies the child/parent algebra and the total
// order.
func TestIDAlgebraProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("parent undoes child", prop.ForAll(
		func(id ID, seq uint32) bool {
			c, err := id.Child(seq)
			if err != nil {
				return id.Depth() == MaxDepth
			}
			p, ok := c.Parent()
			return ok && p.Equal(id) && c.ExecutionRoot().Equal(id.ExecutionRoot())
		},
		idGen(), gen.UInt32(),
	))

	properties.Property("order is total and consistent", prop.ForAll(
		func(a, b ID) bool {
			ab, ba := a.Compare(b), b.Compare(a)
			if ab != -ba {
				return false
			}
			if ab == 0 {
				return a.Equal(b)
			}
			return !a.Equal(b)
		},
		idGen(), idGen(),
	))

	properties.TestingRun(t)
}
