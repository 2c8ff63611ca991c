package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/karasz/sms"
)

// ErrMalformedRecord reports a record that cannot be decoded.
var ErrMalformedRecord = errors.New("malformed record encoding")

// Record wire format (protobuf encoding):
//
//	1: id             (string)
//	2: payload        (bytes)
//	3: r              (bytes, big-endian)
//	4: hash key       (bytes, big-endian)
//	5: bundle         (bytes, sms.SignatureBundle)
//	6: verify keys    (repeated message {1: suite, 2: key})
//	7: sanitizations  (repeated message {1: operator, 2: time, 3: action, 4: prev, 5: new})
//	8: state          (varint)
const (
	fieldID protowire.Number = iota + 1
	fieldPayload
	fieldR
	fieldHashKey
	fieldBundle
	fieldVerifyKey
	fieldLogEntry
	fieldState
)

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// MarshalRecord encodes rec for transport.
func MarshalRecord(rec *Record) ([]byte, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	b := appendBytes(nil, fieldID, []byte(rec.id))
	b = appendBytes(b, fieldPayload, rec.payload)
	if rec.r != nil {
		b = appendBytes(b, fieldR, rec.r.Bytes())
	}
	b = appendBytes(b, fieldHashKey, rec.hk.Bytes())
	if rec.bundle != nil {
		raw, err := rec.bundle.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, fieldBundle, raw)
	}
	for _, vk := range rec.vks {
		var m []byte
		m = appendBytes(m, 1, []byte(vk.Suite()))
		m = appendBytes(m, 2, vk.Bytes())
		b = appendBytes(b, fieldVerifyKey, m)
	}
	for _, e := range rec.log {
		ts, err := proto.Marshal(timestamppb.New(e.Timestamp))
		if err != nil {
			return nil, fmt.Errorf("marshal timestamp: %w", err)
		}
		var m []byte
		m = appendBytes(m, 1, []byte(e.OperatorID))
		m = appendBytes(m, 2, ts)
		m = appendBytes(m, 3, []byte(e.Action))
		m = appendBytes(m, 4, e.PrevPayload)
		m = appendBytes(m, 5, e.NewPayload)
		b = appendBytes(b, fieldLogEntry, m)
	}
	b = protowire.AppendTag(b, fieldState, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(rec.state)), nil
}

// walk calls fn for each varint or length-delimited field in data and skips
// every other wire type.
func walk(data []byte, fn func(num protowire.Number, u uint64, v []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
		}
		data = data[n:]
		var u uint64
		var v []byte
		switch typ {
		case protowire.VarintType:
			u, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, num, protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(num, u, v); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalRecord decodes a record produced by MarshalRecord. The hash key is
// checked against params and verify keys are parsed by their registered
// suite.
func UnmarshalRecord(params *sms.Params, data []byte, opts ...RecordOption) (*Record, error) {
	var (
		id, payload, rb, hkb, bundleRaw []byte
		vks                             []sms.VerifyKey
		log                             []SanitizationLogEntry
		state                           uint64
	)
	err := walk(data, func(num protowire.Number, u uint64, v []byte) error {
		switch num {
		case fieldID:
			id = v
		case fieldPayload:
			payload = append([]byte(nil), v...)
		case fieldR:
			rb = v
		case fieldHashKey:
			hkb = v
		case fieldBundle:
			bundleRaw = v
		case fieldVerifyKey:
			vk, err := decodeVerifyKey(v)
			if err != nil {
				return err
			}
			vks = append(vks, vk)
		case fieldLogEntry:
			e, err := decodeLogEntry(v)
			if err != nil {
				return err
			}
			log = append(log, e)
		case fieldState:
			state = u
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(id) == 0 {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	if state > uint64(StateSubmitted) {
		return nil, fmt.Errorf("%w: unknown state %d", ErrMalformedRecord, state)
	}
	hk, err := sms.ParseHashKey(params, hkb)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	rec := NewRecord(string(id), nil, hk, opts...)
	rec.payload = payload
	rec.vks = vks
	rec.log = log
	rec.state = State(state)
	if State(state) == StateDrafted {
		return rec, nil
	}
	if rb == nil || bundleRaw == nil {
		return nil, fmt.Errorf("%w: endorsed record without randomness or bundle", ErrMalformedRecord)
	}
	rec.r = new(big.Int).SetBytes(rb)
	rec.bundle = new(sms.SignatureBundle)
	if err := rec.bundle.UnmarshalBinary(bundleRaw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return rec, nil
}

func decodeVerifyKey(data []byte) (sms.VerifyKey, error) {
	var suite string
	var key []byte
	if err := walk(data, func(num protowire.Number, _ uint64, v []byte) error {
		switch num {
		case 1:
			suite = string(v)
		case 2:
			key = v
		}
		return nil
	}); err != nil {
		return nil, err
	}
	s, err := sms.LookupSuite(suite)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	vk, err := s.ParseVerifyKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return vk, nil
}

func decodeLogEntry(data []byte) (SanitizationLogEntry, error) {
	var e SanitizationLogEntry
	err := walk(data, func(num protowire.Number, _ uint64, v []byte) error {
		switch num {
		case 1:
			e.OperatorID = string(v)
		case 2:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return fmt.Errorf("%w: timestamp: %v", ErrMalformedRecord, err)
			}
			e.Timestamp = ts.AsTime()
		case 3:
			e.Action = string(v)
		case 4:
			e.PrevPayload = append([]byte(nil), v...)
		case 5:
			e.NewPayload = append([]byte(nil), v...)
		}
		return nil
	})
	return e, err
}
