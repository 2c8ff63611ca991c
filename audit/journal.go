// Package audit keeps a forward-secure, tamper-evident journal of
// sanitization events.
//
// Every appended entry carries two aggregate MAC tags computed from two
// independent key chains. The auditor chain (A) is checked by auditors that
// start from published anchors; the governor chain (G) is checked only by the
// Governor, which received the initial keys at Open time. Keys evolve with
// K_i = SHA256(K_{i-1}) after every entry, so a compromise at time t does
// not let an attacker rewrite entries made before t.
package audit

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// KeySize is the size in bytes of all chain keys (SHA-256 output size).
const KeySize = 32

// Entry is the persisted form of a journal line, holding both chain tags.
type Entry struct {
	Index uint64
	TS    int64 // unix nanos
	Data  []byte
	TagA  [32]byte // μ_A,i
	TagG  [32]byte // μ_G,i
}

// Tail captures the aggregate tags for the current end of the journal.
type Tail struct {
	Index uint64
	TagA  [32]byte
	TagG  [32]byte
}

// Anchor is a checkpoint handed to auditors: the auditor key at index i
// together with both aggregate tags.
type Anchor struct {
	Index uint64
	Key   [KeySize]byte
	TagA  [32]byte
	TagG  [32]byte
}

// Store abstracts persistence of entries, anchors and the tail.
type Store interface {
	Append(e Entry, tail Tail, anchor *Anchor) error
	Iter(startIdx uint64) (<-chan Entry, func() error, error)
	AnchorAt(i uint64) (Anchor, bool, error)
	ListAnchors() ([]Anchor, error)
	Tail() (Tail, bool, error)
}

// ErrSealed is returned by Append after the journal was sealed.
var ErrSealed = errors.New("journal has been sealed")

// Journal appends entries to a Store, evolving both key chains. It is safe
// for concurrent use.
type Journal struct {
	mu          sync.Mutex
	anchorEvery uint64
	i           uint64
	keyA, keyG  [KeySize]byte
	tagA, tagG  [32]byte
	sealed      bool
	store       Store
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithAnchorEvery publishes an anchor every n entries. Zero disables anchors.
func WithAnchorEvery(n uint64) Option { return func(j *Journal) { j.anchorEvery = n } }

// WithInitialKeys fixes A_0 and G_0 instead of drawing them at random.
func WithInitialKeys(a0, g0 [KeySize]byte) Option {
	return func(j *Journal) { j.keyA, j.keyG = a0, g0 }
}

// WithLogger sets the journal's logger.
func WithLogger(l *slog.Logger) Option { return func(j *Journal) { j.logger = l } }

// WithClock replaces time.Now for entry timestamps.
func WithClock(now func() time.Time) Option { return func(j *Journal) { j.now = now } }

// New creates a journal bound to st with fresh random initial keys unless
// WithInitialKeys is given.
func New(st Store, opts ...Option) (*Journal, error) {
	j := &Journal{
		store:  st,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	if _, err := rand.Read(j.keyA[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(j.keyG[:]); err != nil {
		return nil, err
	}
	for _, o := range opts {
		o(j)
	}
	return j, nil
}

// Append records data with timestamp ts and persists the entry, the new tail
// and, when due, an anchor in a single store call. On store failure the
// journal state is left unchanged.
func (j *Journal) Append(data []byte, ts time.Time) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(data, ts)
}

func (j *Journal) appendLocked(data []byte, ts time.Time) (Entry, error) {
	if j.sealed {
		return Entry{}, ErrSealed
	}
	idx := j.i + 1
	keyA, keyG := j.keyA, j.keyG
	fwdKey(&keyA)
	fwdKey(&keyG)

	macA := entryMAC(keyA, idx, ts.UnixNano(), data)
	macG := entryMAC(keyG, idx, ts.UnixNano(), data)

	var tagA, tagG [32]byte
	if idx == 1 {
		tagA, tagG = htag(macA), htag(macG)
	} else {
		tagA, tagG = fold(j.tagA, macA), fold(j.tagG, macG)
	}

	e := Entry{
		Index: idx,
		TS:    ts.UnixNano(),
		Data:  append([]byte(nil), data...),
		TagA:  tagA,
		TagG:  tagG,
	}
	var anchor *Anchor
	if j.anchorEvery != 0 && idx%j.anchorEvery == 0 {
		anchor = &Anchor{Index: idx, Key: keyA, TagA: tagA, TagG: tagG}
	}
	if err := j.store.Append(e, Tail{Index: idx, TagA: tagA, TagG: tagG}, anchor); err != nil {
		j.logger.Error("journal append failed", "index", idx, "error", err)
		return Entry{}, err
	}

	j.i, j.keyA, j.keyG, j.tagA, j.tagG = idx, keyA, keyG, tagA, tagG
	if anchor != nil {
		j.logger.Debug("journal anchor published", "index", idx)
	}
	return e, nil
}

// Record encodes ev and appends it, stamped with ev.Time.
func (j *Journal) Record(ev Event) (Entry, error) {
	if ev.Time.IsZero() {
		ev.Time = j.now()
	}
	data, err := ev.MarshalBinary()
	if err != nil {
		return Entry{}, err
	}
	return j.Append(data, ev.Time)
}

// State returns the current index and aggregate tags.
func (j *Journal) State() Tail {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Tail{Index: j.i, TagA: j.tagA, TagG: j.tagG}
}

func entryMAC(key [KeySize]byte, idx uint64, ts int64, data []byte) [32]byte {
	var ib, tb [8]byte
	binary.BigEndian.PutUint64(ib[:], idx)
	binary.BigEndian.PutUint64(tb[:], uint64(ts))
	return mac(key[:], ib[:], tb[:], data)
}
