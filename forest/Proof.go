package forest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"

	"forestry/hasher"
)

var (
	// ErrEmptyProof is returned by Verify(false) on a proof with no steps:
	// with no neighbor to collapse to, the removed-element root is ambiguous.
	ErrEmptyProof = errors.New("empty proof cannot witness removal")
	// ErrMalformedProof marks a witness whose structure cannot correspond to
	// any tree, e.g. steps deeper than a key or an inconsistent lookup table.
	ErrMalformedProof = errors.New("malformed proof")
)

// Step records one branch on the path from root to leaf: the length of the
// branch's own prefix and the hashes of its present siblings, indexed by
// branch slot. The slot the path itself took is nil, as are absent slots;
// the verifier recovers the taken nibble from the value's key.
type Step struct {
	Skip      int
	Neighbors [branchWidth]*common.Hash
}

// Proof is a minimal witness that a value sits at its keyed path. The same
// witness recomputes the root both with the element (inclusion) and without
// it (deletion).
type Proof struct {
	value []byte
	steps []Step
}

// Value returns the proven value.
func (p *Proof) Value() []byte { return append([]byte(nil), p.value...) }

// Steps returns the per-branch steps from root to leaf.
func (p *Proof) Steps() []Step { return append([]Step(nil), p.steps...) }

// Prove computes the key of value and walks it from the root.
func (e *Empty) Prove(value []byte) (*Proof, error) { return e.walk(hasher.Key(value)) }

// Prove computes the key of value and walks it from the root.
func (l *Leaf) Prove(value []byte) (*Proof, error) { return l.walk(hasher.Key(value)) }

// Prove computes the key of value and walks it from the root.
func (b *Branch) Prove(value []byte) (*Proof, error) { return b.walk(hasher.Key(value)) }

func (e *Empty) walk(path string) (*Proof, error) {
	return nil, fmt.Errorf("%w: remaining path %s", ErrEmptyTree, path)
}

func (l *Leaf) walk(path string) (*Proof, error) {
	if !strings.HasPrefix(path, l.prefix) {
		return nil, fmt.Errorf("%w: leaf holds %s, remaining path %s", ErrNonMatchingPrefix, l.prefix, path)
	}
	return &Proof{value: append([]byte(nil), l.value...)}, nil
}

func (b *Branch) walk(path string) (*Proof, error) {
	if !strings.HasPrefix(path, b.prefix) {
		return nil, fmt.Errorf("%w: branch holds %s, remaining path %s", ErrNonMatchingPrefix, b.prefix, path)
	}
	rest := path[len(b.prefix):]
	if rest == "" {
		return nil, fmt.Errorf("%w: path exhausted at branch", ErrMissingChild)
	}
	n := nibbleVal(rest[0])
	child := b.children[n]
	if child == nil {
		return nil, fmt.Errorf("%w: slot %x, remaining path %s", ErrMissingChild, n, rest)
	}
	proof, err := child.walk(rest[1:])
	if err != nil {
		return nil, err
	}
	step := Step{Skip: len(b.prefix)}
	for i, sibling := range b.children {
		if i == int(n) || sibling == nil {
			continue
		}
		h := sibling.Hash()
		step.Neighbors[i] = &h
	}
	proof.steps = append([]Step{step}, proof.steps...)
	return proof, nil
}

// Verify recomputes a candidate root hash from the witness. With
// withElement true the result is the root of the tree containing the value;
// with withElement false it is the root of the same tree with the value
// removed, except where removal collapses a two-child branch into a lone
// sibling that is itself a branch: the result is then that sibling's hash
// unchanged, while in the reduced tree the sibling hashes under its longer
// prefix. The caller compares the result against a trusted root: an
// adversarial witness yields some other hash, or ErrMalformedProof when
// its steps run past the end of the key.
func (p *Proof) Verify(withElement bool) (common.Hash, error) {
	key := hasher.Key(p.value)
	cursor := 0
	for _, s := range p.steps {
		cursor += 1 + s.Skip
	}
	if cursor > keyLength {
		return common.Hash{}, fmt.Errorf("%w: steps run past the key", ErrMalformedProof)
	}

	var acc *common.Hash
	if withElement {
		// The leaf at the end of the path hashes to the digest of its
		// value; its key suffix does not enter the hash.
		h := leafHash(p.value)
		acc = &h
	} else if len(p.steps) == 0 {
		return common.Hash{}, ErrEmptyProof
	}

	for i := len(p.steps) - 1; i >= 0; i-- {
		s := p.steps[i]
		cursor -= 1 + s.Skip
		prefix := key[cursor : cursor+s.Skip]
		nibble := int(nibbleVal(key[cursor+s.Skip]))
		slots := presentSlots(&s.Neighbors)

		if acc == nil && len(slots) == 1 {
			// The branch had exactly two children; removing the element
			// collapses it into the lone surviving sibling.
			h := *s.Neighbors[slots[0]]
			acc = &h
			continue
		}

		hashes := make([]common.Hash, 0, len(slots)+1)
		spliced := false
		for _, slot := range slots {
			if acc != nil && !spliced && nibble < slot {
				hashes = append(hashes, *acc)
				spliced = true
			}
			hashes = append(hashes, *s.Neighbors[slot])
		}
		if acc != nil && !spliced {
			hashes = append(hashes, *acc)
		}
		h := branchHash(prefix, hashes)
		acc = &h
	}
	return *acc, nil
}

// wireStep is the external rendering of a Step: the prefix length, the
// present neighbor hashes concatenated in ascending branch order, and a
// 16-byte lookup table giving, per branch slot, the running index into the
// neighbor list of the next present slot. The lookup lets a verifier with
// no per-branch bitmap decode which slot each neighbor hash belongs to.
type wireStep struct {
	Skip      int    `json:"skip"`
	Neighbors string `json:"neighbors"`
	Lookup    string `json:"lookup"`
}

// wireStepCBOR is the compact binary rendering of the same step content.
type wireStepCBOR struct {
	Skip      int    `cbor:"0,keyasint"`
	Neighbors []byte `cbor:"1,keyasint"`
	Lookup    []byte `cbor:"2,keyasint"`
}

// flatten returns the step's neighbor blob and lookup table.
func (s *Step) flatten() (neighbors, lookup []byte) {
	lookup = make([]byte, branchWidth)
	var next byte
	for i := 0; i < branchWidth; i++ {
		lookup[i] = next
		if s.Neighbors[i] != nil {
			neighbors = append(neighbors, s.Neighbors[i][:]...)
			next++
		}
	}
	return neighbors, lookup
}

// unflatten reconstructs a step from its wire fields.
func unflatten(skip int, neighbors, lookup []byte) (Step, error) {
	if skip < 0 || len(lookup) != branchWidth || len(neighbors)%hasher.Size != 0 {
		return Step{}, fmt.Errorf("%w: bad step framing", ErrMalformedProof)
	}
	count := len(neighbors) / hasher.Size
	s := Step{Skip: skip}
	decoded := 0
	for i := 0; i < branchWidth; i++ {
		idx := int(lookup[i])
		present := false
		if i < branchWidth-1 {
			present = int(lookup[i+1]) == idx+1
		} else {
			present = count == idx+1
		}
		if !present {
			continue
		}
		if idx >= count {
			return Step{}, fmt.Errorf("%w: lookup points past neighbors", ErrMalformedProof)
		}
		var h common.Hash
		copy(h[:], neighbors[idx*hasher.Size:(idx+1)*hasher.Size])
		s.Neighbors[i] = &h
		decoded++
	}
	if decoded != count {
		return Step{}, fmt.Errorf("%w: inconsistent lookup table", ErrMalformedProof)
	}
	return s, nil
}

// Serialize renders the proof's steps as human-readable JSON. The proven
// value travels out of band: the verifier already holds it.
func (p *Proof) Serialize() ([]byte, error) {
	steps := make([]wireStep, len(p.steps))
	for i := range p.steps {
		neighbors, lookup := p.steps[i].flatten()
		steps[i] = wireStep{
			Skip:      p.steps[i].Skip,
			Neighbors: common.Bytes2Hex(neighbors),
			Lookup:    common.Bytes2Hex(lookup),
		}
	}
	return json.MarshalIndent(steps, "", "  ")
}

// SerializeCBOR renders the proof's steps in the compact binary format.
func (p *Proof) SerializeCBOR() ([]byte, error) {
	steps := make([]wireStepCBOR, len(p.steps))
	for i := range p.steps {
		neighbors, lookup := p.steps[i].flatten()
		steps[i] = wireStepCBOR{Skip: p.steps[i].Skip, Neighbors: neighbors, Lookup: lookup}
	}
	return cbor.Marshal(steps)
}

// DeserializeProof reconstructs a proof from its JSON rendering and the
// out-of-band value. Round-tripping a proof through Serialize and
// DeserializeProof yields the same verification result.
func DeserializeProof(value, data []byte) (*Proof, error) {
	var steps []wireStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	p := &Proof{value: append([]byte(nil), value...)}
	for _, ws := range steps {
		neighbors, err := hex.DecodeString(ws.Neighbors)
		if err != nil {
			return nil, fmt.Errorf("%w: bad neighbors hex: %v", ErrMalformedProof, err)
		}
		lookup, err := hex.DecodeString(ws.Lookup)
		if err != nil {
			return nil, fmt.Errorf("%w: bad lookup hex: %v", ErrMalformedProof, err)
		}
		step, err := unflatten(ws.Skip, neighbors, lookup)
		if err != nil {
			return nil, err
		}
		p.steps = append(p.steps, step)
	}
	return p, nil
}

// DeserializeProofCBOR reconstructs a proof from its CBOR rendering and the
// out-of-band value.
func DeserializeProofCBOR(value, data []byte) (*Proof, error) {
	var steps []wireStepCBOR
	if err := cbor.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	p := &Proof{value: append([]byte(nil), value...)}
	for _, ws := range steps {
		step, err := unflatten(ws.Skip, ws.Neighbors, ws.Lookup)
		if err != nil {
			return nil, err
		}
		p.steps = append(p.steps, step)
	}
	return p, nil
}
