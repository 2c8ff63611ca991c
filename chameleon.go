package sms

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// HashKey is the public value y = g^x mod p of a trapdoor key pair. It is
// shared with every verifier.
type HashKey struct {
	y *big.Int
}

// ParseHashKey decodes a big-endian hash key and checks that it lies in the
// prime-order subgroup of params.
func ParseHashKey(params *Params, b []byte) (HashKey, error) {
	y := new(big.Int).SetBytes(b)
	if !params.inSubgroup(y) {
		return HashKey{}, ErrInvalidHashKey
	}
	return HashKey{y: y}, nil
}

// Int returns a copy of y.
func (hk HashKey) Int() *big.Int {
	if hk.y == nil {
		return nil
	}
	return new(big.Int).Set(hk.y)
}

// Bytes returns y in big-endian form.
func (hk HashKey) Bytes() []byte {
	if hk.y == nil {
		return nil
	}
	return hk.y.Bytes()
}

// Equal reports whether both keys hold the same y.
func (hk HashKey) Equal(other HashKey) bool {
	if hk.y == nil || other.y == nil {
		return hk.y == other.y
	}
	return hk.y.Cmp(other.y) == 0
}

// TrapdoorKey is the sanitizer's secret scalar x together with its hash key.
// x never leaves this package.
type TrapdoorKey struct {
	x  *big.Int
	hk HashKey
}

// HashKey returns the public half of the trapdoor key.
func (td *TrapdoorKey) HashKey() HashKey { return td.hk }

// GenerateTrapdoor draws x uniformly from [1, q-1] and computes y = g^x mod p.
// A nil rnd uses crypto/rand.
func (pp *Params) GenerateTrapdoor(rnd io.Reader) (*TrapdoorKey, error) {
	x, err := pp.randomExponent(rnd)
	if err != nil {
		return nil, fmt.Errorf("generate trapdoor: %w", err)
	}
	return &TrapdoorKey{x: x, hk: HashKey{y: new(big.Int).Exp(pp.g, x, pp.p)}}, nil
}

// randomExponent returns a uniform value in [1, q-1].
func (pp *Params) randomExponent(rnd io.Reader) (*big.Int, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	k, err := rand.Int(rnd, new(big.Int).Sub(pp.q, one))
	if err != nil {
		return nil, err
	}
	return k.Add(k, one), nil
}

// Digest computes the chameleon hash h = g^H(msg) * y^r mod p.
func (pp *Params) Digest(hk HashKey, msg []byte, r *big.Int) *big.Int {
	m := pp.messageScalar(msg)
	h := new(big.Int).Exp(pp.g, m, pp.p)
	yr := new(big.Int).Exp(hk.y, r, pp.p)
	h.Mul(h, yr)
	return h.Mod(h, pp.p)
}

// Adapt finds r' such that Digest(y, newMsg, r') == Digest(y, msg, r):
//
//	r' = ((H(msg) - H(newMsg)) * x^-1 + r) mod q
//
// Adapt panics if x has no inverse modulo q, which cannot happen for
// validated parameters and a key from GenerateTrapdoor.
func (pp *Params) Adapt(td *TrapdoorKey, msg []byte, r *big.Int, newMsg []byte) *big.Int {
	xInv := new(big.Int).ModInverse(td.x, pp.q)
	if xInv == nil {
		panic("sms: trapdoor scalar is not invertible modulo q")
	}
	d := new(big.Int).Sub(pp.messageScalar(msg), pp.messageScalar(newMsg))
	d.Mul(d, xInv)
	d.Add(d, r)
	return d.Mod(d, pp.q)
}

// canonical returns the decimal representation of a digest; this is the
// exact payload endorsers sign.
func canonical(h *big.Int) []byte { return []byte(h.String()) }
