package server

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/karasz/sms/audit"
	"github.com/karasz/sms/ledger"
)

// Transport is the client side of the API. HTTPTransport talks to a remote
// Server; LocalTransport calls an in-process chain and governor directly.
// Both report rejections with the ledger and audit sentinel errors.
type Transport interface {
	// SubmitRecord hands an endorsed record to the ledger.
	SubmitRecord(ctx context.Context, rec *ledger.Record) error

	// Mine asks the ledger to seal its pool into a block.
	Mine(ctx context.Context) (ledger.BlockSummary, error)

	// Blocks lists the ledger's blocks, genesis first.
	Blocks(ctx context.Context) ([]ledger.BlockSummary, error)

	SendCommitment(ctx context.Context, c audit.Commitment) error
	SendOpening(ctx context.Context, o audit.Opening) error
	SendSeal(ctx context.Context, s audit.Seal) error

	// SendJournal submits a sealed journal for final verification.
	SendJournal(ctx context.Context, journalID string, entries []audit.Entry) (bool, error)
}

// HTTPTransport implements Transport over HTTP(S).
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{BaseURL: strings.TrimRight(baseURL, "/"), Client: &http.Client{}}
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentTypeProtobuf)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	return t.Client.Do(req)
}

func statusError(resp *http.Response, sentinel error) error {
	body, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(body))
	if sentinel != nil {
		return fmt.Errorf("%w: server returned %d: %s", sentinel, resp.StatusCode, msg)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
}

func (t *HTTPTransport) SubmitRecord(ctx context.Context, rec *ledger.Record) error {
	data, err := ledger.MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	resp, err := t.do(ctx, http.MethodPost, "/api/v1/records", data)
	if err != nil {
		return fmt.Errorf("post record: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusConflict:
		return statusError(resp, ledger.ErrDuplicateRecord)
	case http.StatusUnprocessableEntity:
		return statusError(resp, ledger.ErrInvalidRecord)
	default:
		return statusError(resp, nil)
	}
}

func (t *HTTPTransport) Mine(ctx context.Context) (ledger.BlockSummary, error) {
	var b ledger.BlockSummary
	resp, err := t.do(ctx, http.MethodPost, "/api/v1/blocks", nil)
	if err != nil {
		return b, fmt.Errorf("post block: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		err := json.NewDecoder(resp.Body).Decode(&b)
		return b, err
	case http.StatusConflict:
		return b, statusError(resp, ledger.ErrEmptyPool)
	case http.StatusUnprocessableEntity:
		return b, statusError(resp, ledger.ErrInvalidRecord)
	default:
		return b, statusError(resp, nil)
	}
}

func (t *HTTPTransport) Blocks(ctx context.Context) ([]ledger.BlockSummary, error) {
	resp, err := t.do(ctx, http.MethodGet, "/api/v1/blocks", nil)
	if err != nil {
		return nil, fmt.Errorf("get blocks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, nil)
	}
	var out []ledger.BlockSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	return out, nil
}

// send posts a journal message and expects 200.
func (t *HTTPTransport) send(ctx context.Context, path string, m encoding.BinaryMarshaler) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	resp, err := t.do(ctx, http.MethodPost, path, data)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return statusError(resp, audit.ErrUnknownJournal)
	default:
		return statusError(resp, nil)
	}
}

func (t *HTTPTransport) SendCommitment(ctx context.Context, c audit.Commitment) error {
	return t.send(ctx, "/api/v1/journals/register", c)
}

func (t *HTTPTransport) SendOpening(ctx context.Context, o audit.Opening) error {
	return t.send(ctx, "/api/v1/journals/open", o)
}

func (t *HTTPTransport) SendSeal(ctx context.Context, s audit.Seal) error {
	return t.send(ctx, "/api/v1/journals/seal", s)
}

func (t *HTTPTransport) SendJournal(ctx context.Context, journalID string, entries []audit.Entry) (bool, error) {
	data, err := audit.MarshalEntries(entries)
	if err != nil {
		return false, fmt.Errorf("encode entries: %w", err)
	}
	resp, err := t.do(ctx, http.MethodPost, "/api/v1/journals/"+url.PathEscape(journalID)+"/verify", data)
	if err != nil {
		return false, fmt.Errorf("post journal: %w", err)
	}
	defer resp.Body.Close()

	var v verdict
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return false, statusError(resp, nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return false, fmt.Errorf("decode verdict: %w", err)
	}
	if !v.Verified {
		return false, fmt.Errorf("verification failed: %s", v.Error)
	}
	return true, nil
}

// LocalTransport calls an in-process chain and governor. Records are
// round-tripped through the wire codec so they are decoupled from the
// caller's copy, as they would be over HTTP.
type LocalTransport struct {
	Chain    *ledger.Chain
	Governor *audit.Governor
}

func NewLocalTransport(chain *ledger.Chain, gov *audit.Governor) *LocalTransport {
	return &LocalTransport{Chain: chain, Governor: gov}
}

func (t *LocalTransport) SubmitRecord(_ context.Context, rec *ledger.Record) error {
	data, err := ledger.MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	cp, err := ledger.UnmarshalRecord(t.Chain.Scheme().Params(), data)
	if err != nil {
		return err
	}
	return t.Chain.Submit(cp)
}

func (t *LocalTransport) Mine(ctx context.Context) (ledger.BlockSummary, error) {
	b, err := t.Chain.Mine(ctx)
	if err != nil {
		return ledger.BlockSummary{}, err
	}
	return b.Summary(), nil
}

func (t *LocalTransport) Blocks(context.Context) ([]ledger.BlockSummary, error) {
	blocks := t.Chain.Blocks()
	out := make([]ledger.BlockSummary, len(blocks))
	for i, b := range blocks {
		out[i] = b.Summary()
	}
	return out, nil
}

func (t *LocalTransport) SendCommitment(_ context.Context, c audit.Commitment) error {
	t.Governor.Register(c)
	return nil
}

func (t *LocalTransport) SendOpening(_ context.Context, o audit.Opening) error {
	return t.Governor.RegisterOpening(o)
}

func (t *LocalTransport) SendSeal(_ context.Context, s audit.Seal) error {
	return t.Governor.AcceptSeal(s)
}

func (t *LocalTransport) SendJournal(_ context.Context, journalID string, entries []audit.Entry) (bool, error) {
	err := t.Governor.FinalVerify(journalID, entries)
	return err == nil, err
}
