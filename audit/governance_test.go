package audit

import (
	"errors"
	"testing"
	"time"
)

func openedJournal(t *testing.T) (*Journal, Store, *Governor, Commitment) {
	t.Helper()
	st := NewMemoryStore()
	j, err := New(st, WithAnchorEvery(2))
	if err != nil {
		t.Fatal(err)
	}
	commit, open, err := j.Open("journal-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	gov := NewGovernor()
	gov.Register(commit)
	if err := gov.RegisterOpening(open); err != nil {
		t.Fatalf("RegisterOpening: %v", err)
	}
	return j, st, gov, commit
}

func TestGovernor_FinalVerify(t *testing.T) {
	j, st, gov, _ := openedJournal(t)
	for i := 0; i < 3; i++ {
		if _, err := j.Record(Event{RecordID: "r", Operator: "op"}); err != nil {
			t.Fatal(err)
		}
	}

	entries, _ := ReadAll(st)
	if err := gov.FinalVerify("journal-1", entries); !errors.Is(err, ErrNotSealed) {
		t.Errorf("unsealed: have %v, want ErrNotSealed", err)
	}

	seal, err := j.Seal("journal-1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if seal.FinalIndex != 5 {
		t.Errorf("final index %d, want 5", seal.FinalIndex)
	}
	if err := gov.AcceptSeal(seal); err != nil {
		t.Fatal(err)
	}
	entries, _ = ReadAll(st)
	if err := gov.FinalVerify("journal-1", entries); err != nil {
		t.Fatalf("FinalVerify: %v", err)
	}

	if _, err := j.Append([]byte("late"), time.Now()); !errors.Is(err, ErrSealed) {
		t.Errorf("append after seal: have %v, want ErrSealed", err)
	}
	if j.keyA != ([KeySize]byte{}) || j.keyG != ([KeySize]byte{}) {
		t.Error("keys not wiped at seal")
	}
}

func TestGovernor_DetectsRewrite(t *testing.T) {
	j, st, gov, commit := openedJournal(t)
	if _, err := j.Record(Event{RecordID: "r", Operator: "op", NewPayload: []byte("v1")}); err != nil {
		t.Fatal(err)
	}
	seal, _ := j.Seal("journal-1")
	_ = gov.AcceptSeal(seal)
	entries, _ := ReadAll(st)

	// An auditor holding A_0 can recompute the A chain for forged data, but
	// not the G chain.
	forged := append([]Entry(nil), entries...)
	forged[1].Data = []byte("forged")
	key, prev := commit.KeyA0, [32]byte{}
	for i := range forged {
		fwdKey(&key)
		m := entryMAC(key, forged[i].Index, forged[i].TS, forged[i].Data)
		if i == 0 {
			prev = htag(m)
		} else {
			prev = fold(prev, m)
		}
		forged[i].TagA = prev
	}
	if _, err := VerifyChain(forged, 0, commit.KeyA0, [32]byte{}, ChainAuditor); err != nil {
		t.Fatalf("forged A chain should replay cleanly: %v", err)
	}
	if err := gov.FinalVerify("journal-1", forged); !errors.Is(err, ErrTagMismatch) {
		t.Errorf("have %v, want ErrTagMismatch", err)
	}
}

func TestGovernor_Errors(t *testing.T) {
	gov := NewGovernor()
	if err := gov.FinalVerify("missing", nil); !errors.Is(err, ErrUnknownJournal) {
		t.Errorf("have %v, want ErrUnknownJournal", err)
	}
	if err := gov.AcceptSeal(Seal{JournalID: "missing"}); !errors.Is(err, ErrUnknownJournal) {
		t.Errorf("have %v", err)
	}
	if err := gov.RegisterOpening(Opening{JournalID: "missing"}); !errors.Is(err, ErrUnknownJournal) {
		t.Errorf("have %v", err)
	}
	if _, err := gov.ReleaseAuditKey("missing"); !errors.Is(err, ErrUnknownJournal) {
		t.Errorf("have %v", err)
	}

	gov.Register(Commitment{JournalID: "j"})
	if err := gov.FinalVerify("j", nil); !errors.Is(err, ErrNotOpened) {
		t.Errorf("have %v, want ErrNotOpened", err)
	}
	_ = gov.RegisterOpening(Opening{JournalID: "j", FirstIndex: 1})
	if err := gov.FinalVerify("j", nil); !errors.Is(err, ErrEmptyJournal) {
		t.Errorf("have %v, want ErrEmptyJournal", err)
	}
}

func TestGovernor_ReleaseAuditKey(t *testing.T) {
	j, st, gov, _ := openedJournal(t)
	_, _ = j.Record(Event{RecordID: "r", Operator: "op"})
	a0, err := gov.ReleaseAuditKey("journal-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := NewAuditor(st).VerifyAll(a0); err != nil {
		t.Errorf("auditor with released key: %v", err)
	}
}

func TestJournal_OpenTwice(t *testing.T) {
	j, _, _, _ := openedJournal(t)
	if _, _, err := j.Open("again"); err == nil {
		t.Error("second Open accepted")
	}
}

func TestCodec_Messages(t *testing.T) {
	j, st, _, commit := openedJournal(t)
	_, _ = j.Record(Event{RecordID: "r", Operator: "op"})
	seal, _ := j.Seal("journal-1")

	raw, err := commit.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var c Commitment
	if err := c.UnmarshalBinary(raw); err != nil {
		t.Fatal(err)
	}
	if c.JournalID != commit.JournalID || c.KeyA0 != commit.KeyA0 || c.KeyG0 != commit.KeyG0 ||
		!c.StartTime.Equal(commit.StartTime) {
		t.Errorf("commitment mismatch: %+v", c)
	}

	raw, _ = seal.MarshalBinary()
	var s Seal
	if err := s.UnmarshalBinary(raw); err != nil {
		t.Fatal(err)
	}
	if s.FinalIndex != seal.FinalIndex || s.FinalTagG != seal.FinalTagG {
		t.Errorf("seal mismatch: %+v", s)
	}

	entries, _ := ReadAll(st)
	raw, _ = MarshalEntries(entries)
	got, err := UnmarshalEntries(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(entries) || got[1].TagA != entries[1].TagA || string(got[1].Data) != string(entries[1].Data) {
		t.Error("entries changed across encoding")
	}

	if err := c.UnmarshalBinary([]byte{0x0a, 0x05, 'x'}); !errors.Is(err, ErrMalformed) {
		t.Errorf("truncated commitment: have %v, want ErrMalformed", err)
	}
	var o Opening
	if err := o.UnmarshalBinary(appendBytesField(nil, 4, []byte{1, 2})); !errors.Is(err, ErrMalformed) {
		t.Errorf("short tag: have %v, want ErrMalformed", err)
	}
}
