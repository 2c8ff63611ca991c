package audit

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ErrMalformed reports an undecodable wire message.
var ErrMalformed = errors.New("malformed audit message")

// field is one decoded protobuf field. Only varint and length-delimited
// values are kept; other wire types are skipped.
type field struct {
	num protowire.Number
	u   uint64
	b   []byte
}

func consumeFields(data []byte, fn func(f field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		data = data[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendTimeField(b []byte, num protowire.Number, t time.Time) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(t))
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp: %w", err)
	}
	return appendBytesField(b, num, ts), nil
}

func decodeTime(b []byte) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(b, &ts); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	return ts.AsTime(), nil
}

func copy32(dst *[32]byte, b []byte, name string) error {
	if len(b) != 32 {
		return fmt.Errorf("%w: %s: expected 32 bytes, got %d", ErrMalformed, name, len(b))
	}
	copy(dst[:], b)
	return nil
}

// Entry wire format:
//
//	1: index (varint)  2: ts (zigzag varint)  3: data  4: tagA  5: tagG
func (e Entry) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendVarintField(b, 1, e.Index)
	b = appendVarintField(b, 2, protowire.EncodeZigZag(e.TS))
	b = appendBytesField(b, 3, e.Data)
	b = appendBytesField(b, 4, e.TagA[:])
	b = appendBytesField(b, 5, e.TagG[:])
	return b, nil
}

func (e *Entry) UnmarshalBinary(data []byte) error {
	var out Entry
	err := consumeFields(data, func(f field) error {
		switch f.num {
		case 1:
			out.Index = f.u
		case 2:
			out.TS = protowire.DecodeZigZag(f.u)
		case 3:
			out.Data = append([]byte(nil), f.b...)
		case 4:
			return copy32(&out.TagA, f.b, "tagA")
		case 5:
			return copy32(&out.TagG, f.b, "tagG")
		}
		return nil
	})
	if err != nil {
		return err
	}
	*e = out
	return nil
}

// MarshalEntries encodes entries as a repeated field 1.
func MarshalEntries(entries []Entry) ([]byte, error) {
	var b []byte
	for _, e := range entries {
		raw, err := e.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = appendBytesField(b, 1, raw)
	}
	return b, nil
}

func UnmarshalEntries(data []byte) ([]Entry, error) {
	var out []Entry
	err := consumeFields(data, func(f field) error {
		if f.num != 1 {
			return nil
		}
		var e Entry
		if err := e.UnmarshalBinary(f.b); err != nil {
			return fmt.Errorf("entry %d: %w", len(out), err)
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// Commitment wire format:
//
//	1: journal id  2: start time  3: A_0  4: G_0
func (c Commitment) MarshalBinary() ([]byte, error) {
	b := appendBytesField(nil, 1, []byte(c.JournalID))
	b, err := appendTimeField(b, 2, c.StartTime)
	if err != nil {
		return nil, err
	}
	b = appendBytesField(b, 3, c.KeyA0[:])
	return appendBytesField(b, 4, c.KeyG0[:]), nil
}

func (c *Commitment) UnmarshalBinary(data []byte) error {
	var out Commitment
	err := consumeFields(data, func(f field) (err error) {
		switch f.num {
		case 1:
			out.JournalID = string(f.b)
		case 2:
			out.StartTime, err = decodeTime(f.b)
		case 3:
			err = copy32(&out.KeyA0, f.b, "A_0")
		case 4:
			err = copy32(&out.KeyG0, f.b, "G_0")
		}
		return err
	})
	if err != nil {
		return err
	}
	if out.JournalID == "" {
		return fmt.Errorf("%w: missing journal id", ErrMalformed)
	}
	*c = out
	return nil
}

// checkpoint is the shared shape of Opening and Seal on the wire:
//
//	1: journal id  2: time  3: index  4: tagA  5: tagG
type checkpoint struct {
	id         string
	t          time.Time
	idx        uint64
	tagA, tagG [32]byte
}

func (cp checkpoint) marshal() ([]byte, error) {
	b := appendBytesField(nil, 1, []byte(cp.id))
	b, err := appendTimeField(b, 2, cp.t)
	if err != nil {
		return nil, err
	}
	b = appendVarintField(b, 3, cp.idx)
	b = appendBytesField(b, 4, cp.tagA[:])
	return appendBytesField(b, 5, cp.tagG[:]), nil
}

func (cp *checkpoint) unmarshal(data []byte) error {
	err := consumeFields(data, func(f field) (err error) {
		switch f.num {
		case 1:
			cp.id = string(f.b)
		case 2:
			cp.t, err = decodeTime(f.b)
		case 3:
			cp.idx = f.u
		case 4:
			err = copy32(&cp.tagA, f.b, "tagA")
		case 5:
			err = copy32(&cp.tagG, f.b, "tagG")
		}
		return err
	})
	if err == nil && cp.id == "" {
		err = fmt.Errorf("%w: missing journal id", ErrMalformed)
	}
	return err
}

func (o Opening) MarshalBinary() ([]byte, error) {
	return checkpoint{o.JournalID, o.OpenTime, o.FirstIndex, o.FirstTagA, o.FirstTagG}.marshal()
}

func (o *Opening) UnmarshalBinary(data []byte) error {
	var cp checkpoint
	if err := cp.unmarshal(data); err != nil {
		return err
	}
	*o = Opening{JournalID: cp.id, OpenTime: cp.t, FirstIndex: cp.idx, FirstTagA: cp.tagA, FirstTagG: cp.tagG}
	return nil
}

func (s Seal) MarshalBinary() ([]byte, error) {
	return checkpoint{s.JournalID, s.SealTime, s.FinalIndex, s.FinalTagA, s.FinalTagG}.marshal()
}

func (s *Seal) UnmarshalBinary(data []byte) error {
	var cp checkpoint
	if err := cp.unmarshal(data); err != nil {
		return err
	}
	*s = Seal{JournalID: cp.id, SealTime: cp.t, FinalIndex: cp.idx, FinalTagA: cp.tagA, FinalTagG: cp.tagG}
	return nil
}
