package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
)

var (
	// ErrGap indicates missing or reordered entries.
	ErrGap = errors.New("gap or reordering detected")
	// ErrTagMismatch indicates a tag failure: tampering or the wrong key.
	ErrTagMismatch = errors.New("tag mismatch: tampering or wrong key")
	// ErrNoTail is returned when the store has no tail state to compare with.
	ErrNoTail = errors.New("tail state unavailable")
	// ErrNoAnchor is returned when no anchor has been published yet.
	ErrNoAnchor = errors.New("no anchor published")
)

// Chain selects which of the two tag chains a verification walks.
type Chain int

const (
	ChainAuditor Chain = iota
	ChainGovernor
)

func (c Chain) String() string {
	switch c {
	case ChainAuditor:
		return "auditor"
	case ChainGovernor:
		return "governor"
	default:
		return fmt.Sprintf("Chain(%d)", int(c))
	}
}

func (c Chain) tag(e Entry) [32]byte {
	if c == ChainGovernor {
		return e.TagG
	}
	return e.TagA
}

// VerifyChain replays entries that follow startIdx, starting from key kStart
// and aggregate tag tStart, and returns the last recomputed tag. A zero
// tStart means a replay from the beginning of the journal.
func VerifyChain(entries []Entry, startIdx uint64, kStart [KeySize]byte, tStart [32]byte, c Chain) ([32]byte, error) {
	key, prev := kStart, tStart
	expect := startIdx
	var last [32]byte
	for _, e := range entries {
		expect++
		if e.Index != expect {
			return last, fmt.Errorf("%w: want %d, have %d", ErrGap, expect, e.Index)
		}
		fwdKey(&key)
		m := entryMAC(key, e.Index, e.TS, e.Data)
		var tag [32]byte
		if isZero32(prev) {
			tag = htag(m)
		} else {
			tag = fold(prev, m)
		}
		stored := c.tag(e)
		if !hmac.Equal(tag[:], stored[:]) {
			return last, fmt.Errorf("%w: %s chain at %d", ErrTagMismatch, c, e.Index)
		}
		prev, last = tag, tag
	}
	return last, nil
}

func collect(st Store, from uint64) ([]Entry, error) {
	ch, done, err := st.Iter(from)
	if err != nil {
		return nil, err
	}
	defer done()
	var out []Entry
	for e := range ch {
		out = append(out, e)
	}
	return out, nil
}

// ReadAll returns every entry in st, in index order.
func ReadAll(st Store) ([]Entry, error) { return collect(st, 1) }

func htag(tag [32]byte) [32]byte { return sha256.Sum256(tag[:]) }

func isZero32(x [32]byte) bool { return x == [32]byte{} }

// fwdKey performs the forward-secure key update K_i = H(K_{i-1}).
func fwdKey(k *[KeySize]byte) { *k = sha256.Sum256(k[:]) }

func mac(key []byte, chunks ...[]byte) [32]byte {
	h := hmac.New(sha256.New, key)
	for _, c := range chunks {
		_, _ = h.Write(c)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func fold(prev, m [32]byte) [32]byte {
	h := sha256.New()
	_, _ = h.Write(prev[:])
	_, _ = h.Write(m[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
