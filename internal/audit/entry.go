// Package audit records completed record actions to an external log sink.
//
// Recording is best effort: loggers report failures, but orchestrators
// pass every entry through BestEffort, which logs and discards them.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Action names the record operation an entry describes.
type Action string

const (
	ActionRegister Action = "register"
	ActionTransfer Action = "transfer"
	ActionRedeem   Action = "redeem"
	ActionList     Action = "list"
)

// Entry is one audit record. It marshals flat: the action-specific Fields
// sit beside action, rfid and user in a single JSON object.
type Entry struct {
	Action Action
	RFID   string
	User   string
	Fields map[string]any
}

var reservedKeys = map[string]struct{}{"action": {}, "rfid": {}, "user": {}}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = EntryFromMap(m)
	return nil
}

// Map returns the flat representation sent to sinks.
func (e Entry) Map() map[string]any {
	m := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		m[k] = v
	}
	m["action"] = string(e.Action)
	m["rfid"] = e.RFID
	m["user"] = e.User
	return m
}

// EntryFromMap is the inverse of Map. Missing or non-string reserved keys
// become empty strings.
func EntryFromMap(m map[string]any) Entry {
	e := Entry{Fields: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "action":
			s, _ := v.(string)
			e.Action = Action(s)
		case "rfid":
			e.RFID, _ = v.(string)
		case "user":
			e.User, _ = v.(string)
		default:
			e.Fields[k] = v
		}
	}
	return e
}

// Logger delivers entries to a sink.
type Logger interface {
	Record(ctx context.Context, entry Entry) error
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(ctx context.Context, entry Entry) error

func (f LoggerFunc) Record(ctx context.Context, entry Entry) error { return f(ctx, entry) }

// ErrAudit is matched by every *Error.
var ErrAudit = errors.New("audit")

// Error reports a failed delivery.
type Error struct {
	Action Action
	Sink   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("audit %s via %s: %v", e.Action, e.Sink, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrAudit }
