// Package ledger holds endorsed records, their sanitization history and a
// simple hash-linked chain of blocks that admits only verifiable records.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/karasz/sms"
	"github.com/karasz/sms/audit"
)

var (
	ErrNotEndorsed      = errors.New("record has not been endorsed")
	ErrAlreadyEndorsed  = errors.New("record is already endorsed")
	ErrSubmitted        = errors.New("record was submitted and can no longer change")
	ErrForeignSanitizer = errors.New("sanitizer does not hold the record's trapdoor")
	ErrMissingOperator  = errors.New("operator id is required")
)

// State is a record's lifecycle position.
type State int

const (
	StateDrafted State = iota
	StateEndorsed
	StateSanitized
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateDrafted:
		return "drafted"
	case StateEndorsed:
		return "endorsed"
	case StateSanitized:
		return "sanitized"
	case StateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SanitizationLogEntry is one line of a record's append-only history.
type SanitizationLogEntry struct {
	OperatorID  string
	Timestamp   time.Time
	Action      string
	PrevPayload []byte
	NewPayload  []byte
}

// JournalSink receives an event for every sanitization before the record
// changes. *audit.Journal implements it.
type JournalSink interface {
	Record(ev audit.Event) (audit.Entry, error)
}

// Record is a payload with its chameleon randomness, hash key and
// endorsement bundle. Sanitizations are serialized per record.
type Record struct {
	mu      sync.Mutex
	id      string
	payload []byte
	r       *big.Int
	hk      sms.HashKey
	bundle  *sms.SignatureBundle
	vks     []sms.VerifyKey
	log     []SanitizationLogEntry
	state   State

	journal JournalSink
	now     func() time.Time
}

// RecordOption configures a Record.
type RecordOption func(*Record)

// WithJournal routes sanitization events to j.
func WithJournal(j JournalSink) RecordOption { return func(r *Record) { r.journal = j } }

// WithClock replaces time.Now for log timestamps.
func WithClock(now func() time.Time) RecordOption { return func(r *Record) { r.now = now } }

// NewRecord returns a drafted record bound to hash key hk.
func NewRecord(id string, payload []byte, hk sms.HashKey, opts ...RecordOption) *Record {
	rec := &Record{
		id:      id,
		payload: append([]byte(nil), payload...),
		hk:      hk,
		state:   StateDrafted,
		now:     time.Now,
	}
	for _, o := range opts {
		o(rec)
	}
	return rec
}

// Endorse signs the payload with every endorser and moves the record to
// StateEndorsed.
func (rec *Record) Endorse(s *sms.Scheme, endorsers []*sms.Endorser) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state != StateDrafted {
		return ErrAlreadyEndorsed
	}
	r, bundle, err := s.Sign(rec.payload, rec.hk, endorsers)
	if err != nil {
		return fmt.Errorf("endorse %s: %w", rec.id, err)
	}
	rec.r, rec.bundle, rec.vks = r, bundle, sms.VerifyKeys(endorsers)
	rec.state = StateEndorsed
	return nil
}

// Publish creates and endorses a record in one step.
func Publish(s *sms.Scheme, id string, payload []byte, hk sms.HashKey, endorsers []*sms.Endorser, opts ...RecordOption) (*Record, error) {
	rec := NewRecord(id, payload, hk, opts...)
	if err := rec.Endorse(s, endorsers); err != nil {
		return nil, err
	}
	return rec, nil
}

// IsValid reports whether the current payload and randomness verify against
// the stored bundle.
func (rec *Record) IsValid(s *sms.Scheme) bool {
	rec.mu.Lock()
	payload, r, hk, bundle, vks := rec.payload, rec.r, rec.hk, rec.bundle, rec.vks
	rec.mu.Unlock()
	if r == nil || bundle == nil {
		return false
	}
	return s.Verify(payload, r, hk, bundle, vks)
}

// Sanitize replaces the payload using the sanitizer's trapdoor and appends a
// log entry. When a journal is attached the event is journaled first; a
// journal failure leaves the record unchanged.
func (rec *Record) Sanitize(s *sms.Scheme, san *sms.Sanitizer, newPayload []byte, operatorID string) error {
	if operatorID == "" {
		return ErrMissingOperator
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	switch rec.state {
	case StateDrafted:
		return ErrNotEndorsed
	case StateSubmitted:
		return ErrSubmitted
	}
	if !san.HashKey().Equal(rec.hk) {
		return ErrForeignSanitizer
	}

	newR := s.Sanitize(san, rec.payload, rec.r, newPayload)
	entry := SanitizationLogEntry{
		OperatorID:  operatorID,
		Timestamp:   rec.now(),
		Action:      audit.ActionSanitization,
		PrevPayload: append([]byte(nil), rec.payload...),
		NewPayload:  append([]byte(nil), newPayload...),
	}
	if rec.journal != nil {
		if _, err := rec.journal.Record(audit.Event{
			RecordID:    rec.id,
			Operator:    operatorID,
			Action:      entry.Action,
			Time:        entry.Timestamp,
			PrevPayload: entry.PrevPayload,
			NewPayload:  entry.NewPayload,
		}); err != nil {
			return fmt.Errorf("journal sanitization of %s: %w", rec.id, err)
		}
	}

	rec.payload = append([]byte(nil), newPayload...)
	rec.r = newR
	rec.log = append(rec.log, entry)
	rec.state = StateSanitized
	return nil
}

// submit freezes the record. Only endorsed or sanitized records can be
// submitted. journal receives the sanitization log as it stands at the
// moment of freezing; when it fails the record stays unfrozen.
func (rec *Record) submit(journal func([]SanitizationLogEntry) error) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	switch rec.state {
	case StateDrafted:
		return ErrNotEndorsed
	case StateSubmitted:
		return ErrSubmitted
	}
	if journal != nil {
		if err := journal(copyLog(rec.log)); err != nil {
			return err
		}
	}
	rec.state = StateSubmitted
	return nil
}

func (rec *Record) ID() string { return rec.id }

func (rec *Record) State() State {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

// Payload returns a copy of the current payload.
func (rec *Record) Payload() []byte {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]byte(nil), rec.payload...)
}

// Randomness returns a copy of the current r, or nil before endorsement.
func (rec *Record) Randomness() *big.Int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.r == nil {
		return nil
	}
	return new(big.Int).Set(rec.r)
}

func (rec *Record) HashKey() sms.HashKey { return rec.hk }

func (rec *Record) Bundle() *sms.SignatureBundle {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.bundle
}

func (rec *Record) VerifyKeys() []sms.VerifyKey {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]sms.VerifyKey(nil), rec.vks...)
}

// SanitizationLog returns a copy of the history, oldest first.
func (rec *Record) SanitizationLog() []SanitizationLogEntry {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return copyLog(rec.log)
}

func copyLog(log []SanitizationLogEntry) []SanitizationLogEntry {
	out := make([]SanitizationLogEntry, len(log))
	for i, e := range log {
		e.PrevPayload = append([]byte(nil), e.PrevPayload...)
		e.NewPayload = append([]byte(nil), e.NewPayload...)
		out[i] = e
	}
	return out
}

// Digest recomputes the chameleon digest of the current payload. It stays
// the same across sanitizations.
func (rec *Record) Digest(s *sms.Scheme) *big.Int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.r == nil {
		return nil
	}
	return s.Digest(rec.hk, rec.payload, rec.r)
}
