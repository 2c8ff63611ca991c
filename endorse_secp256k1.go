package sms

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SuiteSecp256k1 names ECDSA over secp256k1 with SHA-256 and DER signatures.
const SuiteSecp256k1 = "secp256k1"

type secpSuite struct{}

// Secp256k1 returns the secp256k1 ECDSA endorsement suite. Nonces are
// derived deterministically (RFC 6979).
func Secp256k1() Suite { return secpSuite{} }

func (secpSuite) Name() string { return SuiteSecp256k1 }

func (secpSuite) GenerateKey(rnd io.Reader) (SigningKey, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	sk, err := secp256k1.GeneratePrivateKeyFromRand(rnd)
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return &secpSigningKey{sk: sk}, nil
}

func (secpSuite) ParseVerifyKey(b []byte) (VerifyKey, error) {
	pk, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 key: %w", err)
	}
	return secpVerifyKey{pk: pk}, nil
}

type secpSigningKey struct {
	sk *secp256k1.PrivateKey
}

func (k *secpSigningKey) Sign(payload []byte) ([]byte, error) {
	h := sha256.Sum256(payload)
	return ecdsa.Sign(k.sk, h[:]).Serialize(), nil
}

func (k *secpSigningKey) Public() VerifyKey { return secpVerifyKey{pk: k.sk.PubKey()} }

type secpVerifyKey struct {
	pk *secp256k1.PublicKey
}

func (k secpVerifyKey) Verify(payload, sig []byte) bool {
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	h := sha256.Sum256(payload)
	return s.Verify(h[:], k.pk)
}

func (k secpVerifyKey) Bytes() []byte { return k.pk.SerializeCompressed() }
func (secpVerifyKey) Suite() string   { return SuiteSecp256k1 }
