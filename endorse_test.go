package sms

import (
	"errors"
	"testing"
)

func TestLookupSuite(t *testing.T) {
	for _, name := range []string{SuiteSecp256k1, SuiteTinkECDSAP256} {
		s, err := LookupSuite(name)
		if err != nil {
			t.Fatalf("LookupSuite(%s): %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("have %s, want %s", s.Name(), name)
		}
	}
	if _, err := LookupSuite("bls12-381"); !errors.Is(err, ErrUnknownSuite) {
		t.Errorf("have %v, want ErrUnknownSuite", err)
	}
	names := Suites()
	if len(names) < 2 || names[0] > names[1] {
		t.Errorf("Suites() = %v, want sorted list with both built-ins", names)
	}
}

func TestSuites_SignVerifyRoundTrip(t *testing.T) {
	for _, suite := range allSuites() {
		t.Run(suite.Name(), func(t *testing.T) {
			k, err := suite.GenerateKey(nil)
			if err != nil {
				t.Fatalf("GenerateKey: %v", err)
			}
			payload := []byte("1234567890")
			sig, err := k.Sign(payload)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			vk := k.Public()
			if vk.Suite() != suite.Name() {
				t.Errorf("key suite %s, want %s", vk.Suite(), suite.Name())
			}
			if !vk.Verify(payload, sig) {
				t.Fatal("signature does not verify")
			}
			if vk.Verify([]byte("1234567891"), sig) {
				t.Error("signature verified over another payload")
			}
			if vk.Verify(payload, []byte("not a signature")) {
				t.Error("garbage signature verified")
			}

			parsed, err := suite.ParseVerifyKey(vk.Bytes())
			if err != nil {
				t.Fatalf("ParseVerifyKey: %v", err)
			}
			if !parsed.Verify(payload, sig) {
				t.Error("parsed key does not verify")
			}
			if _, err := suite.ParseVerifyKey([]byte{0x02, 0x01}); err == nil {
				t.Error("malformed key parsed")
			}
		})
	}
}

func TestSecp256k1_DeterministicKeyFromReader(t *testing.T) {
	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	k1, err := Secp256k1().GenerateKey(bytesReader(seed))
	if err != nil {
		t.Fatal(err)
	}
	k2, err := Secp256k1().GenerateKey(bytesReader(seed))
	if err != nil {
		t.Fatal(err)
	}
	if string(k1.Public().Bytes()) != string(k2.Public().Bytes()) {
		t.Error("same randomness produced different keys")
	}
}

type repeatReader struct {
	b   []byte
	off int
}

func bytesReader(b []byte) *repeatReader { return &repeatReader{b: b} }

func (r *repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b[r.off%len(r.b)]
		r.off++
	}
	return len(p), nil
}
