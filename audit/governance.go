package audit

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Marker payloads written by Open and Seal.
var (
	openMarker = []byte("JOURNAL-OPEN")
	sealMarker = []byte("JOURNAL-SEAL")
)

var (
	ErrUnknownJournal = errors.New("journal not registered with governor")
	ErrNotOpened      = errors.New("journal opening not registered")
	ErrNotSealed      = errors.New("journal has not been sealed yet")
	ErrEmptyJournal   = errors.New("no entries to verify")
)

// Commitment hands the initial keys of both chains to the Governor before
// any entry is written, so the journal cannot later be deleted wholesale and
// replaced.
type Commitment struct {
	JournalID string
	StartTime time.Time
	KeyA0     [KeySize]byte
	KeyG0     [KeySize]byte
}

// Opening records the first entry appended after the commitment.
type Opening struct {
	JournalID  string
	OpenTime   time.Time
	FirstIndex uint64
	FirstTagA  [32]byte
	FirstTagG  [32]byte
}

// Seal is the closing notice. An unsealed journal is treated as abnormally
// terminated.
type Seal struct {
	JournalID  string
	SealTime   time.Time
	FinalIndex uint64
	FinalTagA  [32]byte
	FinalTagG  [32]byte
}

// Open commits to the initial keys and appends the opening marker. It must be
// called on a fresh journal.
func (j *Journal) Open(journalID string) (Commitment, Opening, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.i != 0 {
		return Commitment{}, Opening{}, fmt.Errorf("open journal %s: already has %d entries", journalID, j.i)
	}
	now := j.now()
	commit := Commitment{JournalID: journalID, StartTime: now, KeyA0: j.keyA, KeyG0: j.keyG}
	e, err := j.appendLocked(openMarker, now)
	if err != nil {
		return Commitment{}, Opening{}, err
	}
	j.logger.Info("journal opened", "journal", journalID)
	return commit, Opening{
		JournalID:  journalID,
		OpenTime:   now,
		FirstIndex: e.Index,
		FirstTagA:  e.TagA,
		FirstTagG:  e.TagG,
	}, nil
}

// Seal appends the closing marker, wipes both chain keys and rejects any
// further append.
func (j *Journal) Seal(journalID string) (Seal, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	e, err := j.appendLocked(sealMarker, now)
	if err != nil {
		return Seal{}, err
	}
	j.keyA, j.keyG = [KeySize]byte{}, [KeySize]byte{}
	j.sealed = true
	j.logger.Info("journal sealed", "journal", journalID, "entries", e.Index)
	return Seal{
		JournalID:  journalID,
		SealTime:   now,
		FinalIndex: e.Index,
		FinalTagA:  e.TagA,
		FinalTagG:  e.TagG,
	}, nil
}

// Governor is the trusted party holding G_0. Its verification of the G chain
// cannot be forged by an auditor.
type Governor struct {
	mu          sync.RWMutex
	commitments map[string]Commitment
	openings    map[string]Opening
	seals       map[string]Seal
}

func NewGovernor() *Governor {
	return &Governor{
		commitments: make(map[string]Commitment),
		openings:    make(map[string]Opening),
		seals:       make(map[string]Seal),
	}
}

func (g *Governor) Register(c Commitment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commitments[c.JournalID] = c
}

func (g *Governor) RegisterOpening(o Opening) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.commitments[o.JournalID]; !ok {
		return ErrUnknownJournal
	}
	g.openings[o.JournalID] = o
	return nil
}

func (g *Governor) AcceptSeal(s Seal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.commitments[s.JournalID]; !ok {
		return ErrUnknownJournal
	}
	g.seals[s.JournalID] = s
	return nil
}

// FinalVerify checks a sealed journal end to end: the opening entry against
// both initial keys, the seal marker, and the full G chain.
func (g *Governor) FinalVerify(journalID string, entries []Entry) error {
	g.mu.RLock()
	commit, ok := g.commitments[journalID]
	open, opened := g.openings[journalID]
	seal, sealed := g.seals[journalID]
	g.mu.RUnlock()

	if !ok {
		return ErrUnknownJournal
	}
	if !opened {
		return ErrNotOpened
	}
	if len(entries) == 0 {
		return ErrEmptyJournal
	}
	first := entries[0]
	if first.Index != open.FirstIndex || string(first.Data) != string(openMarker) {
		return errors.New("missing opening entry")
	}
	firstA, err := VerifyChain(entries[:1], 0, commit.KeyA0, [32]byte{}, ChainAuditor)
	if err != nil {
		return fmt.Errorf("verify opening A chain: %w", err)
	}
	firstG, err := VerifyChain(entries[:1], 0, commit.KeyG0, [32]byte{}, ChainGovernor)
	if err != nil {
		return fmt.Errorf("verify opening G chain: %w", err)
	}
	if !hmac.Equal(firstA[:], open.FirstTagA[:]) || !hmac.Equal(firstG[:], open.FirstTagG[:]) {
		return errors.New("opening tag mismatch")
	}

	if !sealed {
		return ErrNotSealed
	}
	last := entries[len(entries)-1]
	if last.Index != seal.FinalIndex || string(last.Data) != string(sealMarker) {
		return errors.New("missing seal entry")
	}
	final, err := VerifyChain(entries, 0, commit.KeyG0, [32]byte{}, ChainGovernor)
	if err != nil {
		return err
	}
	if !hmac.Equal(final[:], seal.FinalTagG[:]) {
		return fmt.Errorf("%w: final G chain tag", ErrTagMismatch)
	}
	return nil
}

// ReleaseAuditKey returns A_0 to an authorized auditor so it can replay the
// full A chain.
func (g *Governor) ReleaseAuditKey(journalID string) ([KeySize]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.commitments[journalID]
	if !ok {
		return [KeySize]byte{}, ErrUnknownJournal
	}
	return c.KeyA0, nil
}
