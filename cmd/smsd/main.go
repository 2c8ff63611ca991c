// Command smsd serves the sanitizable-record ledger over HTTP(S).
//
// Configuration comes from SMS_* environment variables. Every sanitization
// carried by an accepted record is written to a forward-secure journal that
// is opened at startup, sealed on shutdown and verified by the in-process
// governor.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/karasz/sms"
	"github.com/karasz/sms/audit"
	"github.com/karasz/sms/internal/config"
	"github.com/karasz/sms/ledger"
	"github.com/karasz/sms/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "smsd:", err)
		os.Exit(1)
	}
}

// openStore opens a fresh journal store for this run under cfg.AuditPath.
func openStore(cfg config.Config, journalID string) (audit.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.AuditBackend {
	case config.BackendMemory:
		return audit.NewMemoryStore(), noop, nil
	case config.BackendFile:
		st, err := audit.OpenFileStore(filepath.Join(cfg.AuditPath, journalID))
		if err != nil {
			return nil, nil, err
		}
		return st, closer(st), nil
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.AuditPath, 0o700); err != nil {
			return nil, nil, err
		}
		st, err := audit.OpenSQLiteStore(filepath.Join(cfg.AuditPath, journalID+".db"))
		if err != nil {
			return nil, nil, err
		}
		return st, closer(st), nil
	}
	return nil, nil, fmt.Errorf("unknown audit backend %q", cfg.AuditBackend)
}

func closer(st audit.Store) func() error {
	if c, ok := st.(interface{ Close() error }); ok {
		return c.Close
	}
	return func() error { return nil }
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	scheme, err := cfg.Scheme(sms.WithLogger(logger))
	if err != nil {
		return err
	}

	journalID := "smsd-" + uuid.NewString()
	store, closeStore, err := openStore(cfg, journalID)
	if err != nil {
		return fmt.Errorf("open journal store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close journal store", "error", err)
		}
	}()
	journal, err := audit.New(store, audit.WithAnchorEvery(cfg.AnchorEvery), audit.WithLogger(logger))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Only the journal half of the local transport is used here.
	gov := audit.NewGovernor()
	rj, err := server.OpenRemoteJournal(context.Background(), journal, store, server.NewLocalTransport(nil, gov), journalID)
	if err != nil {
		return err
	}
	chain := ledger.NewChain(scheme,
		ledger.WithLogger(logger),
		ledger.WithMetrics(ledger.NewMetrics(reg)),
		ledger.WithAuditSink(rj),
	)

	srv := server.New(chain,
		server.WithLogger(logger),
		server.WithGovernor(gov),
		server.WithGatherer(reg),
	).HTTPServer(cfg.Addr)

	logger.Info("starting smsd",
		"addr", cfg.Addr,
		"group", scheme.Params().Name(),
		"hash", scheme.Params().HashName(),
		"suite", scheme.Suite().Name(),
		"journal", journalID,
		"audit_backend", cfg.AuditBackend,
		"tls", cfg.TLS(),
	)

	errc := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLS() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	select {
	case <-quit:
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := rj.Close(ctx); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	logger.Info("journal sealed and verified", "journal", journalID, "entries", journal.State().Index)
	return nil
}
