package hasher

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// Size is the digest length in bytes produced by Digest
const Size = 32

// Digest computes the Blake2b-256 digest of the concatenation of all inputs.
// Keys and node hashes of the authenticated set all flow through this one
// function; it is unkeyed and unsalted.
func Digest(data ...[]byte) common.Hash {
	h, _ := blake2b.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Key returns the lowercase hexadecimal encoding of Digest(value), the
// 64-nibble path a value occupies in the tree.
func Key(value []byte) string {
	sum := Digest(value)
	return common.Bytes2Hex(sum[:])
}
