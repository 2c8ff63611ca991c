package sms

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// SigningKey is an endorser's private key. It signs the canonical digest
// string; implementations hash the payload before signing.
type SigningKey interface {
	Sign(payload []byte) ([]byte, error)
	Public() VerifyKey
}

// VerifyKey is an endorser's public verification key.
type VerifyKey interface {
	Verify(payload, sig []byte) bool
	Bytes() []byte
	Suite() string
}

// Suite is a per-party signature scheme over a fixed curve.
type Suite interface {
	Name() string
	GenerateKey(rnd io.Reader) (SigningKey, error)
	ParseVerifyKey(b []byte) (VerifyKey, error)
}

var (
	suitesMu sync.RWMutex
	suites   = map[string]Suite{}
)

// RegisterSuite makes a suite available to LookupSuite. Registering the same
// name twice replaces the earlier suite.
func RegisterSuite(s Suite) {
	suitesMu.Lock()
	defer suitesMu.Unlock()
	suites[s.Name()] = s
}

// LookupSuite returns the registered suite with the given name.
func LookupSuite(name string) (Suite, error) {
	suitesMu.RLock()
	defer suitesMu.RUnlock()
	s, ok := suites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSuite, name)
	}
	return s, nil
}

// Suites lists the registered suite names in sorted order.
func Suites() []string {
	suitesMu.RLock()
	defer suitesMu.RUnlock()
	names := make([]string, 0, len(suites))
	for n := range suites {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterSuite(Secp256k1())
	RegisterSuite(TinkECDSAP256())
}
