package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/karasz/sms/audit"
)

// RemoteJournal wraps a Journal whose lifecycle is reported to a governor
// through a Transport: the commitment and opening go out on open, the seal
// and the full entry list on Close.
type RemoteJournal struct {
	*audit.Journal
	ID        string
	store     audit.Store
	transport Transport

	mu     sync.Mutex
	closed bool
}

// OpenRemoteJournal opens j, which must be fresh and backed by st, and
// registers it with the governor behind t.
func OpenRemoteJournal(ctx context.Context, j *audit.Journal, st audit.Store, t Transport, id string) (*RemoteJournal, error) {
	commit, opening, err := j.Open(id)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := t.SendCommitment(ctx, commit); err != nil {
		return nil, fmt.Errorf("send commitment: %w", err)
	}
	if err := t.SendOpening(ctx, opening); err != nil {
		return nil, fmt.Errorf("send opening: %w", err)
	}
	return &RemoteJournal{Journal: j, ID: id, store: st, transport: t}, nil
}

// Close seals the journal and asks the governor to verify it. Calling Close
// again is a no-op.
func (rj *RemoteJournal) Close(ctx context.Context) error {
	rj.mu.Lock()
	defer rj.mu.Unlock()
	if rj.closed {
		return nil
	}
	seal, err := rj.Seal(rj.ID)
	if err != nil {
		return fmt.Errorf("seal journal: %w", err)
	}
	rj.closed = true
	if err := rj.transport.SendSeal(ctx, seal); err != nil {
		return fmt.Errorf("send seal: %w", err)
	}
	entries, err := audit.ReadAll(rj.store)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if _, err := rj.transport.SendJournal(ctx, rj.ID, entries); err != nil {
		return fmt.Errorf("final verification: %w", err)
	}
	return nil
}
