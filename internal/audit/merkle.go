package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// emptyRoot is the Merkle root of a zero-length action list.
func emptyRoot() string {
	sum := sha256.Sum256([]byte("empty"))
	return hex.EncodeToString(sum[:])
}

// ComputeMerkleRoot computes the Merkle root over an ordered list of
// action hashes. For n=0 it returns SHA-256("empty"). For n>=1 it
// repeatedly duplicates the last hash when the current layer has odd
// length, then pairs adjacent hashes and replaces each pair with
// SHA-256(hex(left) + hex(right)) — concatenation of the hex strings, not
// the raw bytes, per the fixed Merkle contract.
func ComputeMerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return emptyRoot()
	}

	layer := make([]string, len(hashes))
	copy(layer, hashes)

	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := make([]string, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			sum := sha256.Sum256([]byte(layer[i] + layer[i+1]))
			next = append(next, hex.EncodeToString(sum[:]))
		}
		layer = next
	}

	return layer[0]
}

// ComputeActionsMerkleRoot hashes each action and reduces the resulting
// list to a single Merkle root, in submission order.
func ComputeActionsMerkleRoot(actions []Action) (string, error) {
	hashes := make([]string, len(actions))
	for i, a := range actions {
		h, err := a.Hash()
		if err != nil {
			return "", err
		}
		hashes[i] = h
	}
	return ComputeMerkleRoot(hashes), nil
}
