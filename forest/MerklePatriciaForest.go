package forest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"forestry/hasher"
)

// Walk and build failures. Structural violations on construction panic
// instead (a branch with fewer than two children cannot be represented).
var (
	ErrEmptyTree         = errors.New("no value in empty tree")
	ErrNonMatchingPrefix = errors.New("non-matching prefix")
	ErrMissingChild      = errors.New("no child at branch")
	ErrDuplicateValue    = errors.New("duplicate value")
)

// branchWidth is the number of child slots in a branch, one per nibble.
const branchWidth = 16

// keyLength is the nibble length of every key: two nibbles per digest byte.
const keyLength = 2 * hasher.Size

// Tree is an immutable node of the authenticated set. A Tree is one of
// Empty, Leaf, or Branch. Hashes are computed eagerly on construction and
// never change afterwards, so concurrent readers need no synchronization.
type Tree interface {
	// Hash returns the 32-byte root hash of the subtree (all zero for Empty).
	Hash() common.Hash
	// Size returns the number of leaves in the subtree.
	Size() int
	// IsEmpty reports whether the node is the Empty variant.
	IsEmpty() bool
	// Prefix returns the nibble path segment owned by this node, as a
	// lowercase hex string.
	Prefix() string
	// ChildAt walks the given nibble path from this node, consuming branch
	// prefixes along the way, and returns the deepest node reached. It
	// returns nil when a traversal step has no child. Inspection only; the
	// proof machinery uses walk.
	ChildAt(path string) Tree
	// Prove extracts a proof of inclusion for value, or fails when the
	// value is not present.
	Prove(value []byte) (*Proof, error)

	walk(path string) (*Proof, error)
	print(w io.Writer, indent string)
}

// Empty is the zero-value tree. Its hash is the all-zero buffer.
type Empty struct{}

// Leaf holds a value and the suffix of its key that remains after ancestors
// consumed their prefixes. The hash of a leaf is the digest of its value
// alone; the prefix is committed to by branch hashes along the path.
type Leaf struct {
	prefix string
	value  []byte
	hash   common.Hash
}

// Branch dispatches on one nibble across 16 child slots. Its prefix holds
// the nibbles common to all leaves below that ancestors did not consume.
type Branch struct {
	prefix   string
	children [branchWidth]Tree
	hash     common.Hash
	size     int
}

// NewLeaf constructs a leaf for value with the given key suffix. Any byte
// buffer is a valid value, including the empty one.
func NewLeaf(prefix string, value []byte) *Leaf {
	return &Leaf{
		prefix: prefix,
		value:  append([]byte(nil), value...),
		hash:   leafHash(value),
	}
}

// NewBranch constructs a branch from a 16-slot child list, where nil marks
// an absent slot. It panics when the list is not exactly 16 long, fewer
// than two slots are present, or a present child is Empty.
func NewBranch(prefix string, children []Tree) *Branch {
	if len(children) != branchWidth {
		panic(fmt.Sprintf("branch requires exactly %d child slots, got %d", branchWidth, len(children)))
	}
	b := &Branch{prefix: prefix}
	present := 0
	for i, child := range children {
		if child == nil {
			continue
		}
		if child.IsEmpty() {
			panic(fmt.Sprintf("branch child %x must not be empty", i))
		}
		b.children[i] = child
		b.size += child.Size()
		present++
	}
	if present < 2 {
		panic(fmt.Sprintf("branch requires at least two children, got %d", present))
	}
	b.hash = branchHash(prefix, b.childHashes())
	return b
}

func (e *Empty) Hash() common.Hash { return common.Hash{} }
func (e *Empty) Size() int         { return 0 }
func (e *Empty) IsEmpty() bool     { return true }
func (e *Empty) Prefix() string    { return "" }

func (l *Leaf) Hash() common.Hash { return l.hash }
func (l *Leaf) Size() int         { return 1 }
func (l *Leaf) IsEmpty() bool     { return false }
func (l *Leaf) Prefix() string    { return l.prefix }

// Value returns the byte buffer stored in the leaf.
func (l *Leaf) Value() []byte { return append([]byte(nil), l.value...) }

func (b *Branch) Hash() common.Hash { return b.hash }
func (b *Branch) Size() int         { return b.size }
func (b *Branch) IsEmpty() bool     { return false }
func (b *Branch) Prefix() string    { return b.prefix }

// Child returns the subtree at the given branch slot, or nil when absent.
func (b *Branch) Child(nibble int) Tree {
	if nibble < 0 || nibble >= branchWidth {
		return nil
	}
	return b.children[nibble]
}

// childHashes returns the hashes of the present children in ascending
// branch order.
func (b *Branch) childHashes() []common.Hash {
	hashes := make([]common.Hash, 0, branchWidth)
	for _, child := range b.children {
		if child != nil {
			hashes = append(hashes, child.Hash())
		}
	}
	return hashes
}

// leafHash is the hashing rule for leaves: the digest of the value alone.
// The key suffix stays out of the hash, the key being itself a digest of
// the value.
func leafHash(value []byte) common.Hash {
	return hasher.Digest(value)
}

// branchHash is the hashing rule for branches: the digest of the packed
// prefix followed by the hashes of the present children in ascending
// branch order.
func branchHash(prefix string, children []common.Hash) common.Hash {
	data := make([][]byte, 0, len(children)+1)
	data = append(data, nibbles(prefix))
	for i := range children {
		data = append(data, children[i][:])
	}
	return hasher.Digest(data...)
}

// nibbles packs a hex prefix into bytes, two nibbles per byte with the high
// nibble first. An odd trailing nibble occupies the high half of the final
// byte. This encoding participates in branch hashes.
func nibbles(prefix string) []byte {
	packed := make([]byte, (len(prefix)+1)/2)
	for i := 0; i < len(prefix); i++ {
		n := nibbleVal(prefix[i])
		if i%2 == 0 {
			packed[i/2] = n << 4
		} else {
			packed[i/2] |= n
		}
	}
	return packed
}

// nibbleVal maps a lowercase hex character to its nibble value. It panics
// on characters outside 0-9a-f; all paths in the tree come from hex-encoded
// digests.
func nibbleVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	panic(fmt.Sprintf("invalid nibble character %q", c))
}

// isHexPath reports whether every character of path is a lowercase hex digit.
func isHexPath(path string) bool {
	for i := 0; i < len(path); i++ {
		c := path[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// pair carries a value together with the not-yet-consumed suffix of its
// key during a build.
type pair struct {
	key   string
	value []byte
}

// FromList folds a list of values into a canonical tree. The shape, and
// therefore the root hash, depends only on the set of values: any
// permutation of the input builds the identical tree. A value appearing
// twice is rejected with ErrDuplicateValue.
func FromList(values [][]byte) (Tree, error) {
	pairs := make([]pair, 0, len(values))
	seen := make(map[common.Hash]struct{}, len(values))
	for _, v := range values {
		sum := hasher.Digest(v)
		if _, ok := seen[sum]; ok {
			return nil, fmt.Errorf("%w: key %s", ErrDuplicateValue, common.Bytes2Hex(sum[:]))
		}
		seen[sum] = struct{}{}
		pairs = append(pairs, pair{key: common.Bytes2Hex(sum[:]), value: v})
	}
	return fromPairs(pairs), nil
}

// fromPairs recursively assembles the subtree for a working set of pairs
// whose keys have had all ancestor nibbles stripped already.
func fromPairs(pairs []pair) Tree {
	if len(pairs) == 0 {
		return &Empty{}
	}
	prefix := commonPrefix(pairs)
	if len(pairs) == 1 {
		return NewLeaf(prefix, pairs[0].value)
	}

	// Partition by the nibble right after the common prefix. That nibble
	// exists for every key: two exhausted keys would be equal, and equal
	// keys were rejected as duplicates up front.
	buckets := make([][]pair, branchWidth)
	for _, p := range pairs {
		rest := p.key[len(prefix):]
		n := nibbleVal(rest[0])
		buckets[n] = append(buckets[n], pair{key: rest[1:], value: p.value})
	}
	children := make([]Tree, branchWidth)
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		children[i] = fromPairs(bucket)
	}
	return NewBranch(prefix, children)
}

// commonPrefix returns the longest hex prefix shared by all keys in the
// working set.
func commonPrefix(pairs []pair) string {
	prefix := pairs[0].key
	for _, p := range pairs[1:] {
		n := 0
		for n < len(prefix) && n < len(p.key) && prefix[n] == p.key[n] {
			n++
		}
		prefix = prefix[:n]
		if prefix == "" {
			break
		}
	}
	return prefix
}

func (e *Empty) ChildAt(path string) Tree {
	if path == "" {
		return e
	}
	return nil
}

func (l *Leaf) ChildAt(path string) Tree {
	if strings.HasPrefix(l.prefix, path) {
		return l
	}
	return nil
}

func (b *Branch) ChildAt(path string) Tree {
	if path == "" || strings.HasPrefix(b.prefix, path) {
		return b
	}
	if !isHexPath(path) || !strings.HasPrefix(path, b.prefix) {
		return nil
	}
	rest := path[len(b.prefix):]
	child := b.children[nibbleVal(rest[0])]
	if child == nil {
		return nil
	}
	return child.ChildAt(rest[1:])
}

// Print renders the tree structure for debugging, one node per line.
func Print(w io.Writer, t Tree) {
	t.print(w, "")
}

func (e *Empty) print(w io.Writer, indent string) {
	fmt.Fprintf(w, "%sEmpty\n", indent)
}

func (l *Leaf) print(w io.Writer, indent string) {
	fmt.Fprintf(w, "%sLeaf: prefix=%s hash=%s\n", indent, l.prefix, common.Bytes2Hex(l.hash[:]))
}

func (b *Branch) print(w io.Writer, indent string) {
	fmt.Fprintf(w, "%sBranch: prefix=%q size=%d hash=%s\n", indent, b.prefix, b.size, common.Bytes2Hex(b.hash[:]))
	for i, child := range b.children {
		if child == nil {
			continue
		}
		fmt.Fprintf(w, "%s  Child[%x]:\n", indent, i)
		child.print(w, indent+"    ")
	}
}

// Format renders the tree structure into a string.
func Format(t Tree) string {
	var sb strings.Builder
	Print(&sb, t)
	return sb.String()
}

// presentSlots returns the branch slots that carry a neighbor hash, in
// ascending order.
func presentSlots(neighbors *[branchWidth]*common.Hash) []int {
	slots := make([]int, 0, branchWidth)
	for i, h := range neighbors {
		if h != nil {
			slots = append(slots, i)
		}
	}
	return slots
}
