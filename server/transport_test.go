package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karasz/sms/audit"
	"github.com/karasz/sms/ledger"
)

func newJournal(t *testing.T) (*audit.Journal, audit.Store) {
	t.Helper()
	st := audit.NewMemoryStore()
	j, err := audit.New(st, audit.WithAnchorEvery(2))
	require.NoError(t, err)
	return j, st
}

func TestRemoteJournal_Lifecycle(t *testing.T) {
	for _, name := range []string{"http", "local"} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			j, st := newJournal(t)

			rj, err := OpenRemoteJournal(ctx, j, st, env.transports()[name], "journal-1")
			require.NoError(t, err)

			rec, err := ledger.Publish(env.scheme, "tx-1", []byte(medical), env.setup.HashKey,
				env.setup.Endorsers, ledger.WithJournal(rj))
			require.NoError(t, err)
			require.NoError(t, rec.Sanitize(env.scheme, env.setup.Sanitizer, []byte("Patient: ***"), "Admin_Alice"))
			require.NoError(t, rec.Sanitize(env.scheme, env.setup.Sanitizer, []byte("Patient: ###"), "Admin_Bob"))

			require.NoError(t, rj.Close(ctx))
			require.NoError(t, rj.Close(ctx), "second close is a no-op")

			_, err = rj.Append([]byte("late"), time.Now())
			assert.ErrorIs(t, err, audit.ErrSealed)

			entries, err := audit.ReadAll(st)
			require.NoError(t, err)
			require.Len(t, entries, 4, "open, two sanitizations, seal")
			events, err := audit.Events(entries, "tx-1")
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, "Admin_Bob", events[1].Operator)
		})
	}
}

func TestSendJournal_DetectsTampering(t *testing.T) {
	for _, name := range []string{"http", "local"} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			tr := env.transports()[name]
			j, st := newJournal(t)

			rj, err := OpenRemoteJournal(ctx, j, st, tr, "journal-2")
			require.NoError(t, err)
			_, err = rj.Record(audit.Event{RecordID: "tx-1", Operator: "op", NewPayload: []byte("a")})
			require.NoError(t, err)
			seal, err := rj.Seal("journal-2")
			require.NoError(t, err)
			require.NoError(t, tr.SendSeal(ctx, seal))

			entries, err := audit.ReadAll(st)
			require.NoError(t, err)
			ok, err := tr.SendJournal(ctx, "journal-2", entries)
			require.NoError(t, err)
			assert.True(t, ok)

			entries[1].Data = append([]byte(nil), entries[1].Data...)
			entries[1].Data[len(entries[1].Data)-1] ^= 1
			ok, err = tr.SendJournal(ctx, "journal-2", entries)
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTransport_UnknownJournal(t *testing.T) {
	for _, name := range []string{"http", "local"} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			err := env.transports()[name].SendOpening(context.Background(), audit.Opening{JournalID: "nope"})
			assert.ErrorIs(t, err, audit.ErrUnknownJournal)
			err = env.transports()[name].SendSeal(context.Background(), audit.Seal{JournalID: "nope"})
			assert.ErrorIs(t, err, audit.ErrUnknownJournal)
		})
	}
}

func TestHTTPTransport_ServerDown(t *testing.T) {
	env := newTestEnv(t)
	url := env.ts.URL
	env.ts.Close()

	tr := NewHTTPTransport(url + "/")
	tr.Client = &http.Client{Timeout: time.Second}
	_, err := tr.Blocks(context.Background())
	assert.Error(t, err)
}
