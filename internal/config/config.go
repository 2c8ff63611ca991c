package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/karasz/sms"
)

// Audit journal backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config captures the daemon and demo settings.
type Config struct {
	Addr      string
	Group     string
	Hash      string
	Suite     string
	Endorsers int

	AuditBackend string
	AuditPath    string
	AnchorEvery  uint64

	LogLevel slog.Level

	TLSCert string
	TLSKey  string
}

// TLS reports whether both a certificate and a key were configured.
func (c Config) TLS() bool { return c.TLSCert != "" && c.TLSKey != "" }

// Params builds the domain parameters named by Group and Hash.
func (c Config) Params() (*sms.Params, error) { return sms.Group(c.Group, c.Hash) }

// Scheme builds the scheme for Params and Suite.
func (c Config) Scheme(opts ...sms.Option) (*sms.Scheme, error) {
	params, err := c.Params()
	if err != nil {
		return nil, err
	}
	suite, err := sms.LookupSuite(c.Suite)
	if err != nil {
		return nil, err
	}
	return sms.New(params, suite, opts...)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// FromEnv reads SMS_* variables, applying defaults for anything unset. Every
// malformed value is reported.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:         getenv("SMS_ADDR", ":8443"),
		Group:        getenv("SMS_GROUP", sms.GroupMODP1536),
		Hash:         getenv("SMS_HASH", sms.HashSHA256),
		Suite:        getenv("SMS_SUITE", sms.SuiteSecp256k1),
		AuditBackend: getenv("SMS_AUDIT_BACKEND", BackendFile),
		TLSCert:      os.Getenv("SMS_TLS_CERT"),
		TLSKey:       os.Getenv("SMS_TLS_KEY"),
	}
	var errs []error

	n, err := strconv.Atoi(getenv("SMS_ENDORSERS", "3"))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("SMS_ENDORSERS: %w", err))
	case n < 1:
		errs = append(errs, fmt.Errorf("SMS_ENDORSERS: must be at least 1, got %d", n))
	}
	cfg.Endorsers = n

	if cfg.AnchorEvery, err = strconv.ParseUint(getenv("SMS_ANCHOR_EVERY", "16"), 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("SMS_ANCHOR_EVERY: %w", err))
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("SMS_LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("SMS_LOG_LEVEL: %w", err))
	}

	switch cfg.AuditBackend {
	case BackendFile:
		cfg.AuditPath = getenv("SMS_AUDIT_PATH", "sms-journal")
	case BackendSQLite:
		cfg.AuditPath = getenv("SMS_AUDIT_PATH", "sms-journal.db")
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("SMS_AUDIT_BACKEND: unknown backend %q", cfg.AuditBackend))
	}

	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		errs = append(errs, errors.New("SMS_TLS_CERT and SMS_TLS_KEY must be set together"))
	}
	if _, err := cfg.Params(); err != nil {
		errs = append(errs, err)
	}
	if _, err := sms.LookupSuite(cfg.Suite); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}
