package sms

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/signature"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// SuiteTinkECDSAP256 names Tink's ECDSA P-256 / SHA-256 keyset signatures.
const SuiteTinkECDSAP256 = "tink-ecdsa-p256"

type tinkSuite struct{}

// TinkECDSAP256 returns an endorsement suite backed by Tink keysets. Tink
// draws its own randomness; the reader passed to GenerateKey is ignored.
func TinkECDSAP256() Suite { return tinkSuite{} }

func (tinkSuite) Name() string { return SuiteTinkECDSAP256 }

func (tinkSuite) GenerateKey(io.Reader) (SigningKey, error) {
	h, err := keyset.NewHandle(signature.ECDSAP256KeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("new tink keyset: %w", err)
	}
	s, err := signature.NewSigner(h)
	if err != nil {
		return nil, fmt.Errorf("tink signer: %w", err)
	}
	pub, err := h.Public()
	if err != nil {
		return nil, fmt.Errorf("tink public keyset: %w", err)
	}
	vk, err := newTinkVerifyKey(pub)
	if err != nil {
		return nil, err
	}
	return &tinkSigningKey{s: s, vk: vk}, nil
}

func (tinkSuite) ParseVerifyKey(b []byte) (VerifyKey, error) {
	h, err := keyset.ReadWithNoSecrets(keyset.NewBinaryReader(bytes.NewReader(b)))
	if err != nil {
		return nil, fmt.Errorf("read tink public keyset: %w", err)
	}
	return newTinkVerifyKey(h)
}

func newTinkVerifyKey(pub *keyset.Handle) (*tinkVerifyKey, error) {
	v, err := signature.NewVerifier(pub)
	if err != nil {
		return nil, fmt.Errorf("tink verifier: %w", err)
	}
	var buf bytes.Buffer
	if err := pub.WriteWithNoSecrets(keyset.NewBinaryWriter(&buf)); err != nil {
		return nil, fmt.Errorf("write tink public keyset: %w", err)
	}
	return &tinkVerifyKey{v: v, raw: buf.Bytes()}, nil
}

type tinkSigningKey struct {
	s  tink.Signer
	vk *tinkVerifyKey
}

func (k *tinkSigningKey) Sign(payload []byte) ([]byte, error) { return k.s.Sign(payload) }
func (k *tinkSigningKey) Public() VerifyKey                    { return k.vk }

type tinkVerifyKey struct {
	v   tink.Verifier
	raw []byte
}

func (k *tinkVerifyKey) Verify(payload, sig []byte) bool { return k.v.Verify(sig, payload) == nil }
func (k *tinkVerifyKey) Bytes() []byte                  { return append([]byte(nil), k.raw...) }
func (*tinkVerifyKey) Suite() string                    { return SuiteTinkECDSAP256 }
