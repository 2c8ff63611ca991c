package sms

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math/big"
)

// Endorser holds one party's signing key. Only the endorser signs; verifiers
// receive its VerifyKey.
type Endorser struct {
	key SigningKey
}

// NewEndorser wraps an existing signing key.
func NewEndorser(key SigningKey) *Endorser { return &Endorser{key: key} }

// VerifyKey returns the endorser's public key.
func (e *Endorser) VerifyKey() VerifyKey { return e.key.Public() }

// VerifyKeys returns the public keys of endorsers, in order.
func VerifyKeys(endorsers []*Endorser) []VerifyKey {
	vks := make([]VerifyKey, len(endorsers))
	for i, e := range endorsers {
		vks[i] = e.VerifyKey()
	}
	return vks
}

// Sanitizer is the trapdoor holder. It is the only role able to compute
// collisions; the trapdoor scalar is not reachable from outside the package.
type Sanitizer struct {
	params *Params
	td     *TrapdoorKey
}

// HashKey returns the public hash key matching the sanitizer's trapdoor.
func (s *Sanitizer) HashKey() HashKey { return s.td.hk }

// Sanitize returns r' such that (newMsg, r') hashes to the same digest as
// (oldMsg, oldR). Existing signatures are not touched.
func (s *Sanitizer) Sanitize(oldMsg []byte, oldR *big.Int, newMsg []byte) *big.Int {
	return s.params.Adapt(s.td, oldMsg, oldR, newMsg)
}

// Scheme composes the trapdoor hash with an endorsement suite.
type Scheme struct {
	params *Params
	suite  Suite
	rand   io.Reader
	logger *slog.Logger
}

// Option configures a Scheme.
type Option func(*Scheme)

// WithRand sets the randomness source for key generation and signing
// randomness. The default is crypto/rand.
func WithRand(r io.Reader) Option { return func(s *Scheme) { s.rand = r } }

// WithLogger sets the logger used for internal diagnostics.
func WithLogger(l *slog.Logger) Option { return func(s *Scheme) { s.logger = l } }

// New returns a scheme bound to params and suite.
func New(params *Params, suite Suite, opts ...Option) (*Scheme, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: nil parameters", ErrInvalidParameters)
	}
	if suite == nil {
		return nil, fmt.Errorf("%w: nil suite", ErrUnknownSuite)
	}
	s := &Scheme{
		params: params,
		suite:  suite,
		rand:   rand.Reader,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Scheme) Params() *Params { return s.params }
func (s *Scheme) Suite() Suite    { return s.suite }

// NewSanitizer generates a fresh trapdoor key pair.
func (s *Scheme) NewSanitizer() (*Sanitizer, error) {
	td, err := s.params.GenerateTrapdoor(s.rand)
	if err != nil {
		return nil, err
	}
	return &Sanitizer{params: s.params, td: td}, nil
}

// NewEndorser generates a fresh endorser key pair.
func (s *Scheme) NewEndorser() (*Endorser, error) {
	k, err := s.suite.GenerateKey(s.rand)
	if err != nil {
		return nil, err
	}
	return &Endorser{key: k}, nil
}

// Setup is the key material produced by Scheme.Setup.
type Setup struct {
	Sanitizer *Sanitizer
	HashKey   HashKey
	Endorsers []*Endorser
}

// VerifyKeys returns the endorser public keys in order.
func (st *Setup) VerifyKeys() []VerifyKey { return VerifyKeys(st.Endorsers) }

// Setup generates one trapdoor key pair and n endorser key pairs. Bundle
// verification cost is linear in n.
func (s *Scheme) Setup(n int) (*Setup, error) {
	if n < 1 {
		return nil, ErrNoEndorsers
	}
	san, err := s.NewSanitizer()
	if err != nil {
		return nil, err
	}
	endorsers := make([]*Endorser, n)
	for i := range endorsers {
		if endorsers[i], err = s.NewEndorser(); err != nil {
			return nil, fmt.Errorf("endorser %d: %w", i, err)
		}
	}
	return &Setup{Sanitizer: san, HashKey: san.HashKey(), Endorsers: endorsers}, nil
}

// Sign draws fresh randomness r, computes h = Digest(hk, msg, r) and has
// every endorser sign the decimal form of h. The message itself is never
// signed, which is what lets a sanitizer change it later.
func (s *Scheme) Sign(msg []byte, hk HashKey, endorsers []*Endorser) (*big.Int, *SignatureBundle, error) {
	if len(endorsers) == 0 {
		return nil, nil, ErrNoEndorsers
	}
	if !s.params.inSubgroup(hk.y) {
		return nil, nil, ErrInvalidHashKey
	}
	r, err := s.params.randomExponent(s.rand)
	if err != nil {
		return nil, nil, fmt.Errorf("draw randomness: %w", err)
	}
	payload := canonical(s.params.Digest(hk, msg, r))
	sigs := make([][]byte, len(endorsers))
	for i, e := range endorsers {
		if e.key.Public().Suite() != s.suite.Name() {
			return nil, nil, fmt.Errorf("endorser %d: %w", i, ErrWrongSuite)
		}
		if sigs[i], err = e.key.Sign(payload); err != nil {
			return nil, nil, fmt.Errorf("endorser %d sign: %w", i, err)
		}
	}
	return r, Aggregate(s.suite.Name(), sigs), nil
}

// Sanitize delegates to the sanitizer's trapdoor collision.
func (s *Scheme) Sanitize(san *Sanitizer, oldMsg []byte, oldR *big.Int, newMsg []byte) *big.Int {
	return san.Sanitize(oldMsg, oldR, newMsg)
}

// Digest recomputes the chameleon digest for (msg, r) under hk.
func (s *Scheme) Digest(hk HashKey, msg []byte, r *big.Int) *big.Int {
	return s.params.Digest(hk, msg, r)
}

// Verify reports whether bundle holds valid endorsements of the digest implied
// by the current (msg, r). It holds for never-sanitized and sanitized
// messages alike. The reason for a failure is not returned.
func (s *Scheme) Verify(msg []byte, r *big.Int, hk HashKey, bundle *SignatureBundle, vks []VerifyKey) bool {
	if !s.params.inExponentRange(r) || !s.params.inSubgroup(hk.y) {
		s.logger.Debug("verify rejected inputs", "reason", "randomness or hash key out of range")
		return false
	}
	payload := canonical(s.params.Digest(hk, msg, r))
	ok, failed := verifyBundle(vks, payload, bundle)
	if !ok {
		s.logger.Debug("bundle verification failed", "index", failed, "keys", len(vks))
	}
	return ok
}
