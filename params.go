package sms

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/zeebo/blake3"
)

// Group names accepted by Group.
const (
	GroupMODP1536 = "modp1536" // RFC 3526 group 5
	GroupMODP2048 = "modp2048" // RFC 3526 group 14
)

// Message hash names accepted by Group and NewParams.
const (
	HashSHA256 = "sha256"
	HashBLAKE3 = "blake3"
)

// primalityRounds is the Miller-Rabin round count used to validate p and q.
const primalityRounds = 32

var groups = map[string]string{
	GroupMODP1536: "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381" +
		"FFFFFFFFFFFFFFFF",
	GroupMODP2048: "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
		"15728E5A8AACAA68FFFFFFFFFFFFFFFF",
}

type hashFunc func([]byte) []byte

func sha256Sum(b []byte) []byte { s := sha256.Sum256(b); return s[:] }
func blake3Sum(b []byte) []byte { s := blake3.Sum256(b); return s[:] }

func lookupHash(name string) (hashFunc, error) {
	switch name {
	case HashSHA256, "":
		return sha256Sum, nil
	case HashBLAKE3:
		return blake3Sum, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHash, name)
	}
}

// Params holds the domain parameters of the trapdoor hash: a safe prime p,
// the prime subgroup order q = (p-1)/2, a generator g of that subgroup and
// the hash that maps messages into Z_q.
//
// Params is immutable once constructed and safe for concurrent use. Accessors
// return copies.
type Params struct {
	name     string
	hashName string
	p, q, g  *big.Int
	h        hashFunc
}

// Group returns validated parameters for a named RFC 3526 group, with g = 2.
func Group(name, hash string) (*Params, error) {
	hexP, ok := groups[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	p, _ := new(big.Int).SetString(hexP, 16)
	params, err := NewParams(p, big.NewInt(2), hash)
	if err != nil {
		return nil, err
	}
	params.name = strings.ToLower(name)
	return params, nil
}

// MustGroup is like Group but panics on error. Intended for program
// initialization and tests.
func MustGroup(name, hash string) *Params {
	p, err := Group(name, hash)
	if err != nil {
		panic(err)
	}
	return p
}

// NewParams validates p and g and returns the corresponding parameters.
// p must be a safe prime and g must generate the subgroup of order (p-1)/2.
func NewParams(p, g *big.Int, hash string) (*Params, error) {
	h, err := lookupHash(hash)
	if err != nil {
		return nil, err
	}
	if p == nil || g == nil {
		return nil, fmt.Errorf("%w: missing modulus or generator", ErrInvalidParameters)
	}
	if p.Sign() <= 0 || !p.ProbablyPrime(primalityRounds) {
		return nil, fmt.Errorf("%w: p is not prime", ErrInvalidParameters)
	}
	q := new(big.Int).Rsh(new(big.Int).Sub(p, one), 1)
	if !q.ProbablyPrime(primalityRounds) {
		return nil, fmt.Errorf("%w: q=(p-1)/2 is not prime", ErrInvalidParameters)
	}
	pMinusOne := new(big.Int).Sub(p, one)
	if g.Cmp(one) <= 0 || g.Cmp(pMinusOne) >= 0 {
		return nil, fmt.Errorf("%w: generator out of range", ErrInvalidParameters)
	}
	if new(big.Int).Exp(g, q, p).Cmp(one) != 0 {
		return nil, fmt.Errorf("%w: generator does not have order q", ErrInvalidParameters)
	}
	if hash == "" {
		hash = HashSHA256
	}
	return &Params{
		name:     "custom",
		hashName: hash,
		p:        new(big.Int).Set(p),
		q:        q,
		g:        new(big.Int).Set(g),
		h:        h,
	}, nil
}

var one = big.NewInt(1)

// Name returns the group name, or "custom" for NewParams parameters.
func (pp *Params) Name() string { return pp.name }

// HashName returns the name of the message hash.
func (pp *Params) HashName() string { return pp.hashName }

func (pp *Params) P() *big.Int { return new(big.Int).Set(pp.p) }
func (pp *Params) Q() *big.Int { return new(big.Int).Set(pp.q) }
func (pp *Params) G() *big.Int { return new(big.Int).Set(pp.g) }

// messageScalar maps msg to H(msg) mod q, reducing the full-width hash output.
func (pp *Params) messageScalar(msg []byte) *big.Int {
	m := new(big.Int).SetBytes(pp.h(msg))
	return m.Mod(m, pp.q)
}

// inSubgroup reports whether 1 < y < p and y^q = 1 mod p.
func (pp *Params) inSubgroup(y *big.Int) bool {
	if y == nil || y.Cmp(one) <= 0 || y.Cmp(pp.p) >= 0 {
		return false
	}
	return new(big.Int).Exp(y, pp.q, pp.p).Cmp(one) == 0
}

// inExponentRange reports whether 0 <= r < q.
func (pp *Params) inExponentRange(r *big.Int) bool {
	return r != nil && r.Sign() >= 0 && r.Cmp(pp.q) < 0
}
