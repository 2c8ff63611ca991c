package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karasz/sms"
	"github.com/karasz/sms/audit"
	"github.com/karasz/sms/ledger"
)

const medical = "Patient: Alice, Disease: Heart Disease, Amount: 100"

type testEnv struct {
	scheme *sms.Scheme
	setup  *sms.Setup
	chain  *ledger.Chain
	gov    *audit.Governor
	ts     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := sms.New(sms.MustGroup(sms.GroupMODP1536, sms.HashSHA256), sms.Secp256k1())
	require.NoError(t, err)
	st, err := s.Setup(3)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	chain := ledger.NewChain(s, ledger.WithMetrics(ledger.NewMetrics(reg)))
	gov := audit.NewGovernor()
	srv := New(chain, WithGovernor(gov), WithGatherer(reg))
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{scheme: s, setup: st, chain: chain, gov: gov, ts: ts}
}

func (e *testEnv) publish(t *testing.T, id, payload string) *ledger.Record {
	t.Helper()
	rec, err := ledger.Publish(e.scheme, id, []byte(payload), e.setup.HashKey, e.setup.Endorsers)
	require.NoError(t, err)
	return rec
}

func (e *testEnv) transports() map[string]Transport {
	return map[string]Transport{
		"http":  NewHTTPTransport(e.ts.URL),
		"local": NewLocalTransport(e.chain, e.gov),
	}
}

func postProtobuf(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentTypeProtobuf, bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTransport_SubmitAndMine(t *testing.T) {
	for _, name := range []string{"http", "local"} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			tr := env.transports()[name]
			ctx := context.Background()

			rec := env.publish(t, "tx-1", medical)
			require.NoError(t, rec.Sanitize(env.scheme, env.setup.Sanitizer,
				[]byte("Patient: ***, Disease: Heart Disease, Amount: 100"), "Admin_Alice"))
			require.NoError(t, tr.SubmitRecord(ctx, rec))
			assert.ErrorIs(t, tr.SubmitRecord(ctx, rec), ledger.ErrDuplicateRecord)

			b, err := tr.Mine(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), b.Index)
			assert.Equal(t, []string{"tx-1"}, b.RecordIDs)

			_, err = tr.Mine(ctx)
			assert.ErrorIs(t, err, ledger.ErrEmptyPool)

			blocks, err := tr.Blocks(ctx)
			require.NoError(t, err)
			require.Len(t, blocks, 2)
			assert.Equal(t, blocks[0].Hash, blocks[1].PreviousHash)
			assert.Equal(t, b.Hash, blocks[1].Hash)

			require.NoError(t, env.chain.Validate(ctx))
		})
	}
}

func tamperedRecord(t *testing.T, env *testEnv) []byte {
	t.Helper()
	data, err := ledger.MarshalRecord(env.publish(t, "tx-1", medical))
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte("Amount: 100"), []byte("Amount: 999"), 1)
	require.NotEqual(t, data, tampered)
	return tampered
}

func TestTransport_RejectsTamperedRecord(t *testing.T) {
	for _, name := range []string{"http", "local"} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			bad, err := ledger.UnmarshalRecord(env.scheme.Params(), tamperedRecord(t, env))
			require.NoError(t, err)

			err = env.transports()[name].SubmitRecord(context.Background(), bad)
			assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
			assert.Empty(t, env.chain.Pending())
		})
	}
}

func TestSubmit_TamperedPayload(t *testing.T) {
	env := newTestEnv(t)
	resp := postProtobuf(t, env.ts.URL+"/api/v1/records", tamperedRecord(t, env))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "record rejected")
	assert.NotContains(t, string(body), "signature")
}

func TestSubmit_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.ts.URL+"/api/v1/records", contentTypeJSON, bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = postProtobuf(t, env.ts.URL+"/api/v1/records", []byte{0xff, 0xff, 0xff})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postProtobuf(t, env.ts.URL+"/api/v1/records", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing id")
}

func TestGetRecord(t *testing.T) {
	env := newTestEnv(t)
	rec := env.publish(t, "tx-1", medical)
	require.NoError(t, rec.Sanitize(env.scheme, env.setup.Sanitizer, []byte("Patient: ***"), "Admin_Alice"))
	require.NoError(t, NewHTTPTransport(env.ts.URL).SubmitRecord(context.Background(), rec))

	resp, err := http.Get(env.ts.URL + "/api/v1/records/tx-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view recordView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "tx-1", view.ID)
	assert.Equal(t, "submitted", view.State)
	assert.Equal(t, "Patient: ***", view.Payload)
	assert.Equal(t, rec.Digest(env.scheme).String(), view.Digest)
	assert.Equal(t, 3, view.Endorsers)
	assert.Equal(t, 1, view.Sanitizations)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/records/tx-1", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", contentTypeProtobuf)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, contentTypeProtobuf, resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	got, err := ledger.UnmarshalRecord(env.scheme.Params(), raw)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateSubmitted, got.State())
	assert.True(t, got.IsValid(env.scheme))

	resp, err = http.Get(env.ts.URL + "/api/v1/records/tx-1/sanitizations")
	require.NoError(t, err)
	defer resp.Body.Close()
	var log []sanitizationView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&log))
	require.Len(t, log, 1)
	assert.Equal(t, "Admin_Alice", log[0].Operator)
	assert.Equal(t, audit.ActionSanitization, log[0].Action)
	assert.Equal(t, medical, log[0].Previous)
	assert.Equal(t, "Patient: ***", log[0].New)

	resp, err = http.Get(env.ts.URL + "/api/v1/records/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, NewHTTPTransport(env.ts.URL).SubmitRecord(context.Background(), env.publish(t, "tx-1", medical)))

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sms_ledger_submissions_total{outcome="accepted"} 1`)
	assert.Contains(t, string(body), "sms_ledger_pool_records 1")
}

func TestGovernanceRoutesDisabledWithoutGovernor(t *testing.T) {
	s, err := sms.New(sms.MustGroup(sms.GroupMODP1536, sms.HashSHA256), sms.Secp256k1())
	require.NoError(t, err)
	ts := httptest.NewServer(New(ledger.NewChain(s)).Routes())
	defer ts.Close()

	resp := postProtobuf(t, ts.URL+"/api/v1/journals/register", []byte{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp2, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestTLSDefaults(t *testing.T) {
	s, err := sms.New(sms.MustGroup(sms.GroupMODP1536, sms.HashSHA256), sms.Secp256k1())
	require.NoError(t, err)
	srv := New(ledger.NewChain(s)).HTTPServer(":0")
	assert.Equal(t, uint16(tls.VersionTLS12), srv.TLSConfig.MinVersion)
}
