package audit

import (
	"fmt"
	"time"
)

// ActionSanitization is the action recorded for payload replacements.
const ActionSanitization = "SANITIZATION"

// Event describes one sanitization of a ledger record.
type Event struct {
	RecordID    string
	Operator    string
	Action      string
	Time        time.Time
	PrevPayload []byte
	NewPayload  []byte
}

// Event wire format:
//
//	1: record id  2: operator  3: action  4: time  5: previous payload  6: new payload
func (ev Event) MarshalBinary() ([]byte, error) {
	action := ev.Action
	if action == "" {
		action = ActionSanitization
	}
	b := appendBytesField(nil, 1, []byte(ev.RecordID))
	b = appendBytesField(b, 2, []byte(ev.Operator))
	b = appendBytesField(b, 3, []byte(action))
	b, err := appendTimeField(b, 4, ev.Time)
	if err != nil {
		return nil, err
	}
	b = appendBytesField(b, 5, ev.PrevPayload)
	return appendBytesField(b, 6, ev.NewPayload), nil
}

func (ev *Event) UnmarshalBinary(data []byte) error {
	var out Event
	err := consumeFields(data, func(f field) (err error) {
		switch f.num {
		case 1:
			out.RecordID = string(f.b)
		case 2:
			out.Operator = string(f.b)
		case 3:
			out.Action = string(f.b)
		case 4:
			out.Time, err = decodeTime(f.b)
		case 5:
			out.PrevPayload = append([]byte(nil), f.b...)
		case 6:
			out.NewPayload = append([]byte(nil), f.b...)
		}
		return err
	})
	if err != nil {
		return err
	}
	if out.RecordID == "" {
		return fmt.Errorf("%w: event without record id", ErrMalformed)
	}
	*ev = out
	return nil
}

// Events decodes the sanitization events in entries, skipping the journal's
// own open and seal markers. Entries are filtered by record ID when recordID
// is not empty.
func Events(entries []Entry, recordID string) ([]Event, error) {
	var out []Event
	for _, e := range entries {
		if string(e.Data) == string(openMarker) || string(e.Data) == string(sealMarker) {
			continue
		}
		var ev Event
		if err := ev.UnmarshalBinary(e.Data); err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.Index, err)
		}
		if recordID == "" || ev.RecordID == recordID {
			out = append(out, ev)
		}
	}
	return out, nil
}
