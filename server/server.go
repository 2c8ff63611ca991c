// Package server exposes the ledger and the journal governor over HTTPS.
//
// Records and journal messages travel as protobuf wire bytes; block
// summaries, record views and verification verdicts are JSON.
package server

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/karasz/sms/audit"
	"github.com/karasz/sms/ledger"
)

const (
	contentTypeProtobuf = "application/x-protobuf"
	contentTypeJSON     = "application/json"
	maxBodyBytes        = 8 << 20
)

// Server serves the ledger API and, when a governor is attached, the journal
// governance endpoints.
type Server struct {
	chain     *ledger.Chain
	governor  *audit.Governor
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	tlsConfig *tls.Config
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithGovernor enables the /api/v1/journals endpoints.
func WithGovernor(g *audit.Governor) Option { return func(s *Server) { s.governor = g } }

// WithGatherer enables GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithTLSConfig clones cfg for use by ListenAndServeTLS.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) {
		if cfg != nil {
			s.tlsConfig = cfg.Clone()
		}
	}
}

func New(chain *ledger.Chain, opts ...Option) *Server {
	s := &Server{chain: chain, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/records", s.handleSubmit)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Get("/records/{id}/sanitizations", s.handleSanitizations)
		r.Post("/blocks", s.handleMine)
		r.Get("/blocks", s.handleBlocks)

		if s.governor != nil {
			r.Post("/journals/register", s.handleRegister)
			r.Post("/journals/open", s.handleOpen)
			r.Post("/journals/seal", s.handleSeal)
			r.Post("/journals/{id}/verify", s.handleVerify)
		}
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, contentTypeProtobuf) || strings.HasPrefix(ct, "application/protobuf")
}

func wantsProtobuf(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), contentTypeProtobuf)
}

// readProtobuf returns the request body, rejecting other content types.
func readProtobuf(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if !isProtobuf(r) {
		writeError(w, http.StatusUnsupportedMediaType, "expected "+contentTypeProtobuf)
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSubmit handles POST /api/v1/records. A rejected record gets 422 with
// no detail about which check failed.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, ok := readProtobuf(w, r)
	if !ok {
		return
	}
	rec, err := ledger.UnmarshalRecord(s.chain.Scheme().Params(), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch err := s.chain.Submit(rec); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "record_id": rec.ID()})
	case errors.Is(err, ledger.ErrDuplicateRecord):
		writeError(w, http.StatusConflict, "record already submitted")
	default:
		writeError(w, http.StatusUnprocessableEntity, "record rejected")
	}
}

// recordView is the JSON rendering of a submitted record.
type recordView struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Payload       string `json:"payload"`
	Digest        string `json:"digest"`
	Endorsers     int    `json:"endorsers"`
	Sanitizations int    `json:"sanitizations"`
}

type sanitizationView struct {
	Operator  string    `json:"operator"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Previous  string    `json:"previous_payload"`
	New       string    `json:"new_payload"`
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*ledger.Record, bool) {
	rec, ok := s.chain.Record(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "record not found")
	}
	return rec, ok
}

// handleGetRecord handles GET /api/v1/records/{id}. Clients asking for
// protobuf get the full record encoding.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if wantsProtobuf(r) {
		data, err := ledger.MarshalRecord(rec)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "encode record")
			return
		}
		w.Header().Set("Content-Type", contentTypeProtobuf)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, recordView{
		ID:            rec.ID(),
		State:         rec.State().String(),
		Payload:       string(rec.Payload()),
		Digest:        rec.Digest(s.chain.Scheme()).String(),
		Endorsers:     len(rec.VerifyKeys()),
		Sanitizations: len(rec.SanitizationLog()),
	})
}

// handleSanitizations handles GET /api/v1/records/{id}/sanitizations.
func (s *Server) handleSanitizations(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	log := rec.SanitizationLog()
	out := make([]sanitizationView, len(log))
	for i, e := range log {
		out[i] = sanitizationView{
			Operator:  e.OperatorID,
			Timestamp: e.Timestamp,
			Action:    e.Action,
			Previous:  string(e.PrevPayload),
			New:       string(e.NewPayload),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMine handles POST /api/v1/blocks.
func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	b, err := s.chain.Mine(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, b.Summary())
	case errors.Is(err, ledger.ErrEmptyPool):
		writeError(w, http.StatusConflict, "no pending records")
	case errors.Is(err, ledger.ErrInvalidRecord):
		writeError(w, http.StatusUnprocessableEntity, "pool contains an invalid record")
	default:
		s.logger.ErrorContext(r.Context(), "mine failed", "error", err)
		writeError(w, http.StatusInternalServerError, "mine failed")
	}
}

// handleBlocks handles GET /api/v1/blocks.
func (s *Server) handleBlocks(w http.ResponseWriter, _ *http.Request) {
	blocks := s.chain.Blocks()
	out := make([]ledger.BlockSummary, len(blocks))
	for i, b := range blocks {
		out[i] = b.Summary()
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRegister handles POST /api/v1/journals/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, ok := readProtobuf(w, r)
	if !ok {
		return
	}
	var c audit.Commitment
	if err := c.UnmarshalBinary(body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid commitment: %v", err))
		return
	}
	s.governor.Register(c)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "journal_id": c.JournalID})
}

// handleOpen handles POST /api/v1/journals/open.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	body, ok := readProtobuf(w, r)
	if !ok {
		return
	}
	var o audit.Opening
	if err := o.UnmarshalBinary(body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid opening: %v", err))
		return
	}
	if err := s.governor.RegisterOpening(o); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "opened", "journal_id": o.JournalID})
}

// handleSeal handles POST /api/v1/journals/seal.
func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	body, ok := readProtobuf(w, r)
	if !ok {
		return
	}
	var seal audit.Seal
	if err := seal.UnmarshalBinary(body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid seal: %v", err))
		return
	}
	if err := s.governor.AcceptSeal(seal); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sealed", "journal_id": seal.JournalID})
}

type verdict struct {
	JournalID string `json:"journal_id"`
	Verified  bool   `json:"verified"`
	Error     string `json:"error,omitempty"`
}

// handleVerify handles POST /api/v1/journals/{id}/verify with the full entry
// list as body.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, ok := readProtobuf(w, r)
	if !ok {
		return
	}
	entries, err := audit.UnmarshalEntries(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid entries: %v", err))
		return
	}
	if err := s.governor.FinalVerify(id, entries); err != nil {
		s.logger.WarnContext(r.Context(), "journal verification failed", "journal", id, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, verdict{JournalID: id, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verdict{JournalID: id, Verified: true})
}

func (s *Server) tlsConfigWithDefaults() *tls.Config {
	if s.tlsConfig == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg := s.tlsConfig.Clone()
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

// HTTPServer returns an http.Server for addr with the routes and TLS
// defaults installed. Callers own its lifecycle.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		TLSConfig:         s.tlsConfigWithDefaults(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
