package forest

import (
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"forestry/hasher"
)

// dedupe drops repeated byte strings, keeping first occurrences.
func dedupe(values [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(values))
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		if _, ok := seen[string(v)]; ok {
			continue
		}
		seen[string(v)] = struct{}{}
		out = append(out, v)
	}
	return out
}

func propertyParams() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	return parameters
}

func genValueSets() gopter.Gen {
	return gen.SliceOf(gen.SliceOf(gen.UInt8()))
}

// TestPropertyCanonicality verifies the root is a function of the value
// set, not the insertion order.
func TestPropertyCanonicality(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("permutation keeps the root", prop.ForAll(
		func(raw [][]byte) bool {
			values := dedupe(raw)
			tree, err := FromList(values)
			if err != nil {
				return false
			}

			shuffled := append([][]byte(nil), values...)
			sort.Slice(shuffled, func(i, j int) bool {
				return hasher.Key(shuffled[i]) > hasher.Key(shuffled[j])
			})
			other, err := FromList(shuffled)
			if err != nil {
				return false
			}
			return tree.Hash() == other.Hash() && tree.Size() == other.Size()
		},
		genValueSets(),
	))

	properties.TestingRun(t)
}

// TestPropertySize verifies the leaf count matches the set size.
func TestPropertySize(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("size equals the number of distinct values", prop.ForAll(
		func(raw [][]byte) bool {
			values := dedupe(raw)
			tree, err := FromList(values)
			if err != nil {
				return false
			}
			return tree.Size() == len(values)
		},
		genValueSets(),
	))

	properties.TestingRun(t)
}

// TestPropertyInclusion verifies every member's proof recomputes the root.
func TestPropertyInclusion(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("prove then verify yields the root", prop.ForAll(
		func(raw [][]byte) bool {
			values := dedupe(raw)
			if len(values) == 0 {
				return true
			}
			tree, err := FromList(values)
			if err != nil {
				return false
			}
			for _, v := range values {
				proof, err := tree.Prove(v)
				if err != nil {
					return false
				}
				root, err := proof.Verify(true)
				if err != nil || root != tree.Hash() {
					return false
				}
			}
			return true
		},
		genValueSets(),
	))

	properties.TestingRun(t)
}

// TestPropertyDeletion verifies the same witness recomputes the root of
// the set without the element, whenever removal re-hashes no survivor.
func TestPropertyDeletion(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("verify(false) matches the reduced set", prop.ForAll(
		func(raw [][]byte) bool {
			values := dedupe(raw)
			if len(values) < 2 {
				return true
			}
			tree, err := FromList(values)
			if err != nil {
				return false
			}
			v := values[0]
			if !deletionExact(tree, hasher.Key(v)) {
				return true
			}
			proof, err := tree.Prove(v)
			if err != nil {
				return false
			}
			reduced, err := proof.Verify(false)
			if err != nil {
				return false
			}
			rest, err := FromList(values[1:])
			if err != nil {
				return false
			}
			return reduced == rest.Hash()
		},
		genValueSets(),
	))

	properties.TestingRun(t)
}

// TestPropertySubstitution verifies a witness does not transfer to a value
// outside the set.
func TestPropertySubstitution(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("foreign value shifts the root", prop.ForAll(
		func(raw [][]byte, foreign []byte) bool {
			values := dedupe(raw)
			if len(values) == 0 {
				return true
			}
			for _, v := range values {
				if string(v) == string(foreign) {
					return true
				}
			}
			tree, err := FromList(values)
			if err != nil {
				return false
			}
			proof, err := tree.Prove(values[0])
			if err != nil {
				return false
			}
			forged := &Proof{value: foreign, steps: proof.Steps()}
			root, err := forged.Verify(true)
			if err != nil {
				// A forged witness may turn out structurally impossible;
				// that is as good as a mismatched root.
				return true
			}
			return root != tree.Hash()
		},
		genValueSets(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
