package sms

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// BundleKind tags how the signatures inside a bundle relate to each other.
type BundleKind uint8

const (
	// BundleCollection is an ordered list of independent signatures, one per
	// endorser. Its size grows linearly with the endorser count and it offers
	// none of the compactness of a cryptographic aggregate signature.
	BundleCollection BundleKind = 1
)

func (k BundleKind) String() string {
	switch k {
	case BundleCollection:
		return "collection"
	default:
		return fmt.Sprintf("BundleKind(%d)", uint8(k))
	}
}

// SignatureBundle packages the endorsement signatures over one digest.
type SignatureBundle struct {
	kind  BundleKind
	suite string
	sigs  [][]byte
}

// Aggregate packages signatures, in endorser order, into a collection bundle.
// No cryptographic reduction of the signature material takes place.
func Aggregate(suite string, sigs [][]byte) *SignatureBundle {
	cp := make([][]byte, len(sigs))
	for i, s := range sigs {
		cp[i] = append([]byte(nil), s...)
	}
	return &SignatureBundle{kind: BundleCollection, suite: suite, sigs: cp}
}

func (b *SignatureBundle) Kind() BundleKind { return b.kind }
func (b *SignatureBundle) Suite() string    { return b.suite }
func (b *SignatureBundle) Len() int         { return len(b.sigs) }

// Signatures returns a copy of the signatures in endorser order.
func (b *SignatureBundle) Signatures() [][]byte {
	out := make([][]byte, len(b.sigs))
	for i, s := range b.sigs {
		out[i] = append([]byte(nil), s...)
	}
	return out
}

// Truncate returns a copy of the bundle holding only the first n signatures.
func (b *SignatureBundle) Truncate(n int) *SignatureBundle {
	n = max(0, min(n, len(b.sigs)))
	return Aggregate(b.suite, b.sigs[:n])
}

// VerifyBundle reports whether every signature in b verifies under the key at
// the same index. A count mismatch fails before any signature is inspected.
func VerifyBundle(vks []VerifyKey, payload []byte, b *SignatureBundle) bool {
	ok, _ := verifyBundle(vks, payload, b)
	return ok
}

// verifyBundle checks every signature regardless of earlier failures and
// returns the first failing index, or -1 when the failure is structural.
func verifyBundle(vks []VerifyKey, payload []byte, b *SignatureBundle) (bool, int) {
	if b == nil || b.kind != BundleCollection || len(b.sigs) != len(vks) || len(vks) == 0 {
		return false, -1
	}
	ok, failed := true, -1
	for i, vk := range vks {
		if vk == nil || vk.Suite() != b.suite || !vk.Verify(payload, b.sigs[i]) {
			if ok {
				failed = i
			}
			ok = false
		}
	}
	return ok, failed
}

// Bundle wire format (protobuf encoding):
//
//	1: kind   (varint)
//	2: suite  (string)
//	3: sigs   (repeated bytes)
const (
	bundleKindField  protowire.Number = 1
	bundleSuiteField protowire.Number = 2
	bundleSigField   protowire.Number = 3
)

// MarshalBinary encodes the bundle in protobuf wire format.
func (b *SignatureBundle) MarshalBinary() ([]byte, error) {
	var out []byte
	out = protowire.AppendTag(out, bundleKindField, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(b.kind))
	out = protowire.AppendTag(out, bundleSuiteField, protowire.BytesType)
	out = protowire.AppendString(out, b.suite)
	for _, s := range b.sigs {
		out = protowire.AppendTag(out, bundleSigField, protowire.BytesType)
		out = protowire.AppendBytes(out, s)
	}
	return out, nil
}

// UnmarshalBinary decodes a bundle produced by MarshalBinary.
func (b *SignatureBundle) UnmarshalBinary(data []byte) error {
	var out SignatureBundle
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedBundle, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == bundleKindField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fmt.Errorf("%w: kind: %v", ErrMalformedBundle, protowire.ParseError(m))
			}
			out.kind = BundleKind(v)
			n = m
		case num == bundleSuiteField && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return fmt.Errorf("%w: suite: %v", ErrMalformedBundle, protowire.ParseError(m))
			}
			out.suite = v
			n = m
		case num == bundleSigField && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("%w: signature: %v", ErrMalformedBundle, protowire.ParseError(m))
			}
			out.sigs = append(out.sigs, append([]byte(nil), v...))
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedBundle, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}
	if out.kind != BundleCollection {
		return fmt.Errorf("%w: unsupported kind %v", ErrMalformedBundle, out.kind)
	}
	*b = out
	return nil
}
