package ledger

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Domain separation between leaves and interior nodes.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// leafHash binds a record id to its chameleon digest. Payloads are left out
// so that the leaf, and therefore the block, survives sanitization.
func leafHash(id string, digest string) [32]byte {
	h := blake3.New()
	_, _ = h.Write([]byte{leafPrefix})
	_, _ = h.Write([]byte(id))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(digest))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(l, r [32]byte) [32]byte {
	h := blake3.New()
	_, _ = h.Write([]byte{nodePrefix})
	_, _ = h.Write(l[:])
	_, _ = h.Write(r[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// merkleRoot folds leaves pairwise, pairing an odd last node with itself, and
// returns the hex root. An empty tree has the zero root.
func merkleRoot(leaves [][32]byte) string {
	if len(leaves) == 0 {
		return hex.EncodeToString(make([]byte, 32))
	}
	layer := append([][32]byte(nil), leaves...)
	for len(layer) > 1 {
		next := make([][32]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			right := layer[i]
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, nodeHash(layer[i], right))
		}
		layer = next
	}
	return hex.EncodeToString(layer[0][:])
}
