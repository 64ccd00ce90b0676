// Package hash computes content hashes of compiler trees.
package hash

import (
	"crypto/sha256"

	"github.com/nijnstein/blast/compiler"
)

// HashTree computes the SHA-256 content hash of a tree.
//
// The hash is computed over a deterministic serialization of the variable
// table and the statement tree, with variables referenced by position. Two
// trees built from documents that differ only in layout, comments or
// constant spelling produce the same hash.
func HashTree(tree *compiler.Tree) ([32]byte, error) {
	data, err := Serialize(tree)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}
