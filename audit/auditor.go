package audit

import "crypto/hmac"

// Auditor checks the auditor chain. It can start from any published anchor,
// or from A_0 once the Governor released it. An auditor holding A keys could
// forge the A chain; the G chain, checked by the Governor, guards against that.
type Auditor struct{ store Store }

func NewAuditor(st Store) *Auditor { return &Auditor{store: st} }

// VerifyFromAnchor replays entries after a and compares the result with the
// stored tail.
func (v *Auditor) VerifyFromAnchor(a Anchor) error {
	return v.verify(a.Index, a.Key, a.TagA)
}

// VerifyAll replays the whole journal starting from the initial key a0.
func (v *Auditor) VerifyAll(a0 [KeySize]byte) error {
	return v.verify(0, a0, [32]byte{})
}

// VerifyLatest verifies from the most recent anchor and returns its index.
// It fails with ErrNoAnchor before the first anchor is published.
func (v *Auditor) VerifyLatest() (checked uint64, err error) {
	anchors, err := v.store.ListAnchors()
	if err != nil {
		return 0, err
	}
	if len(anchors) == 0 {
		return 0, ErrNoAnchor
	}
	a := anchors[len(anchors)-1]
	if err := v.VerifyFromAnchor(a); err != nil {
		return 0, err
	}
	return a.Index, nil
}

func (v *Auditor) verify(idx uint64, key [KeySize]byte, tag [32]byte) error {
	entries, err := collect(v.store, idx+1)
	if err != nil {
		return err
	}
	final, err := VerifyChain(entries, idx, key, tag, ChainAuditor)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		final = tag
	}
	tail, ok, err := v.store.Tail()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoTail
	}
	if tail.Index != idx+uint64(len(entries)) {
		return ErrGap
	}
	if !hmac.Equal(final[:], tail.TagA[:]) {
		return ErrTagMismatch
	}
	return nil
}
