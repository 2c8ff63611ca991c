package sms

import (
	"errors"
	"math/big"
	"testing"
)

func newTestScheme(t testing.TB, suite Suite) *Scheme {
	t.Helper()
	s, err := New(testParams(t), suite)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func allSuites() []Suite { return []Suite{Secp256k1(), TinkECDSAP256()} }

func TestScheme_SanitizeScenario(t *testing.T) {
	for _, suite := range allSuites() {
		t.Run(suite.Name(), func(t *testing.T) {
			s := newTestScheme(t, suite)
			st, err := s.Setup(3)
			if err != nil {
				t.Fatalf("Setup: %v", err)
			}
			vks := st.VerifyKeys()

			r, bundle, err := s.Sign([]byte("A"), st.HashKey, st.Endorsers)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if bundle.Len() != 3 || bundle.Kind() != BundleCollection {
				t.Fatalf("bundle: len=%d kind=%v", bundle.Len(), bundle.Kind())
			}
			if !s.Verify([]byte("A"), r, st.HashKey, bundle, vks) {
				t.Fatal("fresh signature does not verify")
			}

			r2 := s.Sanitize(st.Sanitizer, []byte("A"), r, []byte("B"))
			if s.Digest(st.HashKey, []byte("B"), r2).Cmp(s.Digest(st.HashKey, []byte("A"), r)) != 0 {
				t.Fatal("digest changed after sanitization")
			}
			if !s.Verify([]byte("B"), r2, st.HashKey, bundle, vks) {
				t.Error("sanitized message does not verify")
			}
			if !s.Verify([]byte("A"), r, st.HashKey, bundle, vks) {
				t.Error("original pair stopped verifying")
			}
			if s.Verify([]byte("B"), r, st.HashKey, bundle, vks) {
				t.Error("new message verified with old randomness")
			}
			if s.Verify([]byte("B"), r2, st.HashKey, bundle.Truncate(2), vks) {
				t.Error("truncated bundle verified")
			}
		})
	}
}

func TestScheme_TamperDetection(t *testing.T) {
	s := newTestScheme(t, Secp256k1())
	st, err := s.Setup(2)
	if err != nil {
		t.Fatal(err)
	}
	vks := st.VerifyKeys()
	msg := []byte("Patient: Alice, Disease: Heart Disease, Amount: 100")
	r, bundle, err := s.Sign(msg, st.HashKey, st.Endorsers)
	if err != nil {
		t.Fatal(err)
	}

	if s.Verify([]byte("Patient: Alice, Disease: Heart Disease, Amount: 999"), r, st.HashKey, bundle, vks) {
		t.Error("tampered message verified")
	}
	if s.Verify(msg, new(big.Int).Add(r, one), st.HashKey, bundle, vks) {
		t.Error("tampered randomness verified")
	}

	sigs := bundle.Signatures()
	sigs[1][len(sigs[1])-1] ^= 0x01
	if s.Verify(msg, r, st.HashKey, Aggregate(bundle.Suite(), sigs), vks) {
		t.Error("bundle with a corrupted signature verified")
	}

	reordered := []VerifyKey{vks[1], vks[0]}
	if s.Verify(msg, r, st.HashKey, bundle, reordered) {
		t.Error("bundle verified against reordered keys")
	}

	other, _ := s.NewSanitizer()
	if s.Verify(msg, r, other.HashKey(), bundle, vks) {
		t.Error("verified under a foreign hash key")
	}
}

func TestScheme_VerifyRejectsOutOfRange(t *testing.T) {
	s := newTestScheme(t, Secp256k1())
	st, _ := s.Setup(1)
	r, bundle, _ := s.Sign([]byte("m"), st.HashKey, st.Endorsers)
	vks := st.VerifyKeys()

	// r + q yields the same digest, so only the range check stops it.
	rq := new(big.Int).Add(r, s.Params().Q())
	if s.Verify([]byte("m"), rq, st.HashKey, bundle, vks) {
		t.Error("r >= q accepted")
	}
	if s.Verify([]byte("m"), big.NewInt(-1), st.HashKey, bundle, vks) {
		t.Error("negative r accepted")
	}
	if s.Verify([]byte("m"), nil, st.HashKey, bundle, vks) {
		t.Error("nil r accepted")
	}
	if s.Verify([]byte("m"), r, HashKey{}, bundle, vks) {
		t.Error("empty hash key accepted")
	}
}

func TestScheme_SanitizePreservesValidity(t *testing.T) {
	s := newTestScheme(t, Secp256k1())
	st, _ := s.Setup(4)
	vks := st.VerifyKeys()
	msg := []byte("Patient: Alice, Disease: Heart Disease, Amount: 100")
	r, bundle, err := s.Sign(msg, st.HashKey, st.Endorsers)
	if err != nil {
		t.Fatal(err)
	}
	for _, next := range []string{
		"Patient: ***, Disease: Heart Disease, Amount: 100",
		"Patient: ***, Disease: ***, Amount: 100",
		"",
	} {
		r = s.Sanitize(st.Sanitizer, msg, r, []byte(next))
		msg = []byte(next)
		if !s.Verify(msg, r, st.HashKey, bundle, vks) {
			t.Fatalf("sanitized %q does not verify", next)
		}
	}
}

func TestScheme_SetupErrors(t *testing.T) {
	s := newTestScheme(t, Secp256k1())
	for _, n := range []int{0, -1} {
		if _, err := s.Setup(n); !errors.Is(err, ErrNoEndorsers) {
			t.Errorf("Setup(%d): have %v, want ErrNoEndorsers", n, err)
		}
	}
}

func TestScheme_SignErrors(t *testing.T) {
	s := newTestScheme(t, Secp256k1())
	st, _ := s.Setup(1)
	if _, _, err := s.Sign([]byte("m"), st.HashKey, nil); !errors.Is(err, ErrNoEndorsers) {
		t.Errorf("no endorsers: have %v", err)
	}
	if _, _, err := s.Sign([]byte("m"), HashKey{y: big.NewInt(1)}, st.Endorsers); !errors.Is(err, ErrInvalidHashKey) {
		t.Errorf("bad hash key: have %v", err)
	}

	tinkScheme := newTestScheme(t, TinkECDSAP256())
	if _, _, err := tinkScheme.Sign([]byte("m"), st.HashKey, st.Endorsers); !errors.Is(err, ErrWrongSuite) {
		t.Errorf("mixed suites: have %v, want ErrWrongSuite", err)
	}
}

func TestScheme_FreshRandomness(t *testing.T) {
	s := newTestScheme(t, Secp256k1())
	st, _ := s.Setup(1)
	r1, _, _ := s.Sign([]byte("m"), st.HashKey, st.Endorsers)
	r2, _, _ := s.Sign([]byte("m"), st.HashKey, st.Endorsers)
	if r1.Cmp(r2) == 0 {
		t.Error("two signings drew the same randomness")
	}
	q := s.Params().Q()
	for _, r := range []*big.Int{r1, r2} {
		if r.Sign() <= 0 || r.Cmp(q) >= 0 {
			t.Errorf("r out of [1, q-1]: %v", r)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil, Secp256k1()); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("nil params: have %v", err)
	}
	if _, err := New(testParams(t), nil); !errors.Is(err, ErrUnknownSuite) {
		t.Errorf("nil suite: have %v", err)
	}
}

func BenchmarkSign(b *testing.B) {
	s := newTestScheme(b, Secp256k1())
	st, _ := s.Setup(3)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := s.Sign([]byte("benchmark"), st.HashKey, st.Endorsers); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerify(b *testing.B) {
	s := newTestScheme(b, Secp256k1())
	st, _ := s.Setup(3)
	r, bundle, _ := s.Sign([]byte("benchmark"), st.HashKey, st.Endorsers)
	vks := st.VerifyKeys()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Verify([]byte("benchmark"), r, st.HashKey, bundle, vks)
	}
}
