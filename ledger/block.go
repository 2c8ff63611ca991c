package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/karasz/sms"
)

// genesisPrevHash is the previous-hash value of block 0.
var genesisPrevHash = strings.Repeat("0", 64)

// Block is a batch of submitted records linked to its predecessor.
type Block struct {
	Index        uint64
	Timestamp    time.Time
	PreviousHash string
	MerkleRoot   string
	Hash         string
	Records      []*Record
}

// blockHeader is hashed in its JSON form; field order is alphabetical.
type blockHeader struct {
	Index        uint64 `json:"index"`
	MerkleRoot   string `json:"merkle_root"`
	PreviousHash string `json:"previous_hash"`
	Timestamp    int64  `json:"timestamp"`
	TxCount      int    `json:"tx_count"`
}

func (b *Block) header() blockHeader {
	return blockHeader{
		Index:        b.Index,
		MerkleRoot:   b.MerkleRoot,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp.UnixNano(),
		TxCount:      len(b.Records),
	}
}

// computeHash returns SHA-256 over the JSON header.
func (b *Block) computeHash() string {
	raw, err := json.Marshal(b.header())
	if err != nil {
		// A struct of integers and strings always marshals.
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func computeMerkleRoot(s *sms.Scheme, records []*Record) string {
	leaves := make([][32]byte, len(records))
	for i, rec := range records {
		d := rec.Digest(s)
		digest := ""
		if d != nil {
			digest = d.String()
		}
		leaves[i] = leafHash(rec.ID(), digest)
	}
	return merkleRoot(leaves)
}

func newBlock(s *sms.Scheme, index uint64, prev string, records []*Record, ts time.Time) *Block {
	b := &Block{
		Index:        index,
		Timestamp:    ts,
		PreviousHash: prev,
		Records:      records,
		MerkleRoot:   computeMerkleRoot(s, records),
	}
	b.Hash = b.computeHash()
	return b
}

// BlockSummary is the block without its records.
type BlockSummary struct {
	Index        uint64    `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	PreviousHash string    `json:"previous_hash"`
	MerkleRoot   string    `json:"merkle_root"`
	Hash         string    `json:"hash"`
	RecordIDs    []string  `json:"record_ids"`
}

func (b *Block) Summary() BlockSummary {
	ids := make([]string, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.ID()
	}
	return BlockSummary{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		PreviousHash: b.PreviousHash,
		MerkleRoot:   b.MerkleRoot,
		Hash:         b.Hash,
		RecordIDs:    ids,
	}
}
