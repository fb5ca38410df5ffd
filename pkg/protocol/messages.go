// Package protocol defines the JSON wire format spoken between hsschat clients
// and servers: one JSON object per websocket text frame, discriminated by "type".
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolMessage is implemented by every event and command.
type ProtocolMessage interface {
	// Type returns the wire discriminator
	Type() string
	// Encode serializes the message including its "type" field
	Encode() ([]byte, error)
}

// ServerEvent is a server → client event. The set of implementations is closed.
type ServerEvent interface {
	ProtocolMessage
	serverEvent()
}

// ClientCommand is a client → server command. The set of implementations is closed.
type ClientCommand interface {
	ProtocolMessage
	clientCommand()
}

// Wire discriminators. "message" and "history" are used in both directions.
const (
	TypeJoin     = "join"
	TypeRename   = "rename"
	TypeMessage  = "message"
	TypeHistory  = "history"
	TypeLeave    = "leave"
	TypeUserList = "user_list"
	TypeJoined   = "joined"
	TypeRenamed  = "renamed"

	// Local-only kind, never sent on the wire
	TypeDecodeFailure = "decode_failure"
)

// ID is a user id. Servers may send ids as JSON strings or numbers; both decode
// to the same decimal string.
type ID string

// UnmarshalJSON accepts a string, a number or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// ===== Server → Client =====

// MessageEvent is a chat message, public or private. It is also the element
// type of history snapshots.
type MessageEvent struct {
	User    string `json:"user"`
	UserID  ID     `json:"user_id,omitempty"`
	Text    string `json:"text"`
	TS      string `json:"ts,omitempty"`
	Private bool   `json:"private,omitempty"`
	To      ID     `json:"to,omitempty"`
	ToUser  string `json:"to_user,omitempty"`
	Avatar  string `json:"avatar,omitempty"`
}

// UserEntry is one roster row. Avatar is empty when the user has none.
type UserEntry struct {
	ID     ID     `json:"id"`
	User   string `json:"user"`
	Avatar string `json:"avatar"`
}

// UserListEvent replaces the whole roster.
type UserListEvent struct {
	Users []UserEntry `json:"users"`
}

// JoinedEvent confirms this client's identity.
type JoinedEvent struct {
	User string `json:"user"`
	ID   ID     `json:"id"`
	TS   string `json:"ts,omitempty"`
}

// RenamedEvent confirms a display-name change for this client.
type RenamedEvent struct {
	User string `json:"user"`
	Old  string `json:"old"`
	TS   string `json:"ts,omitempty"`
}

// HistoryEvent replaces one channel's log.
type HistoryEvent struct {
	Channel  ID             `json:"channel"`
	Messages []MessageEvent `json:"messages"`
}

// UnknownEvent carries a frame whose type this client does not understand.
type UnknownEvent struct {
	MessageType string
	Raw         []byte
}

// DecodeFailure is synthesized by the transport for frames that are not JSON or
// violate the schema. It never travels on the wire.
type DecodeFailure struct {
	Raw []byte
	Err error
}

func (*MessageEvent) Type() string  { return TypeMessage }
func (*UserListEvent) Type() string { return TypeUserList }
func (*JoinedEvent) Type() string   { return TypeJoined }
func (*RenamedEvent) Type() string  { return TypeRenamed }
func (*HistoryEvent) Type() string  { return TypeHistory }
func (e *UnknownEvent) Type() string {
	return e.MessageType
}
func (*DecodeFailure) Type() string { return TypeDecodeFailure }

func (m *MessageEvent) Encode() ([]byte, error)  { return encode(TypeMessage, m) }
func (m *UserListEvent) Encode() ([]byte, error) { return encode(TypeUserList, m) }
func (m *JoinedEvent) Encode() ([]byte, error)   { return encode(TypeJoined, m) }
func (m *RenamedEvent) Encode() ([]byte, error)  { return encode(TypeRenamed, m) }
func (m *HistoryEvent) Encode() ([]byte, error)  { return encode(TypeHistory, m) }

// Encode returns the original frame unchanged.
func (e *UnknownEvent) Encode() ([]byte, error) { return e.Raw, nil }

// Encode always fails: decode failures are local.
func (d *DecodeFailure) Encode() ([]byte, error) {
	return nil, errors.New("decode failure is not encodable")
}

func (d *DecodeFailure) Error() string {
	return fmt.Sprintf("decode failure: %v", d.Err)
}

func (d *DecodeFailure) Unwrap() error { return d.Err }

func (*MessageEvent) serverEvent()  {}
func (*UserListEvent) serverEvent() {}
func (*JoinedEvent) serverEvent()   {}
func (*RenamedEvent) serverEvent()  {}
func (*HistoryEvent) serverEvent()  {}
func (*UnknownEvent) serverEvent()  {}
func (*DecodeFailure) serverEvent() {}

// ===== Client → Server =====

// JoinCommand requests session start with a display name.
type JoinCommand struct {
	User string `json:"user"`
}

// RenameCommand requests a display-name change.
type RenameCommand struct {
	User string `json:"user"`
}

// SendMessageCommand posts text to "all" or a peer id.
type SendMessageCommand struct {
	Text string `json:"text"`
	To   ID     `json:"to"`
}

// HistoryCommand requests a snapshot of one channel.
type HistoryCommand struct {
	Channel ID `json:"channel"`
}

// LeaveCommand is the best-effort disconnect notice.
type LeaveCommand struct{}

func (*JoinCommand) Type() string        { return TypeJoin }
func (*RenameCommand) Type() string      { return TypeRename }
func (*SendMessageCommand) Type() string { return TypeMessage }
func (*HistoryCommand) Type() string     { return TypeHistory }
func (*LeaveCommand) Type() string       { return TypeLeave }

func (m *JoinCommand) Encode() ([]byte, error)        { return encode(TypeJoin, m) }
func (m *RenameCommand) Encode() ([]byte, error)      { return encode(TypeRename, m) }
func (m *SendMessageCommand) Encode() ([]byte, error) { return encode(TypeMessage, m) }
func (m *HistoryCommand) Encode() ([]byte, error)     { return encode(TypeHistory, m) }
func (m *LeaveCommand) Encode() ([]byte, error)       { return encode(TypeLeave, m) }

func (*JoinCommand) clientCommand()        {}
func (*RenameCommand) clientCommand()      {}
func (*SendMessageCommand) clientCommand() {}
func (*HistoryCommand) clientCommand()     {}
func (*LeaveCommand) clientCommand()       {}

// ===== Codec =====

// encode marshals body (always a JSON object) and prepends the type field.
func encode(msgType string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	typeJSON, _ := json.Marshal(msgType)

	var buf bytes.Buffer
	buf.Grow(len(raw) + len(typeJSON) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typeJSON)
	if len(raw) > 2 {
		buf.WriteByte(',')
		buf.Write(raw[1:])
	} else {
		buf.WriteByte('}')
	}

	if err := checkSize(buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// envelope splits a frame into its fields and type.
func envelope(data []byte) (map[string]json.RawMessage, string, error) {
	if err := checkSize(data); err != nil {
		return nil, "", err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, "", fmt.Errorf("invalid JSON frame: %w", err)
	}
	raw, ok := fields["type"]
	if !ok {
		return nil, "", ErrMissingType
	}
	var msgType string
	if err := json.Unmarshal(raw, &msgType); err != nil {
		return nil, "", fmt.Errorf("type must be a string: %w", err)
	}
	if msgType == "" {
		return nil, "", ErrMissingType
	}
	return fields, msgType, nil
}

// requireFields checks that every name is present and not null.
func requireFields(msgType string, fields map[string]json.RawMessage, names ...string) error {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok || string(raw) == "null" {
			return fmt.Errorf("%s: %w %q", msgType, ErrMissingField, name)
		}
	}
	return nil
}

func decodeInto(msgType string, data []byte, fields map[string]json.RawMessage, v any, required ...string) error {
	if err := requireFields(msgType, fields, required...); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	return nil
}

// DecodeServerEvent decodes one server → client frame. Unknown types decode to
// *UnknownEvent without error so newer servers stay compatible.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	fields, msgType, err := envelope(data)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case TypeMessage:
		ev := &MessageEvent{}
		if err := decodeInto(msgType, data, fields, ev, "user", "text"); err != nil {
			return nil, err
		}
		if ev.Private {
			if err := requireFields(msgType, fields, "user_id", "to"); err != nil {
				return nil, err
			}
		}
		return ev, nil

	case TypeUserList:
		ev := &UserListEvent{}
		if err := decodeInto(msgType, data, fields, ev, "users"); err != nil {
			return nil, err
		}
		for i, u := range ev.Users {
			if u.ID == "" {
				return nil, fmt.Errorf("%s: users[%d]: %w \"id\"", msgType, i, ErrMissingField)
			}
		}
		return ev, nil

	case TypeJoined:
		ev := &JoinedEvent{}
		if err := decodeInto(msgType, data, fields, ev, "user", "id"); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeRenamed:
		ev := &RenamedEvent{}
		if err := decodeInto(msgType, data, fields, ev, "user"); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeHistory:
		ev := &HistoryEvent{}
		if err := decodeInto(msgType, data, fields, ev, "messages"); err != nil {
			return nil, err
		}
		if ev.Channel == "" {
			ev.Channel = ChannelAll
		}
		return ev, nil

	default:
		return &UnknownEvent{MessageType: msgType, Raw: append([]byte(nil), data...)}, nil
	}
}

// DecodeClientCommand decodes one client → server frame.
func DecodeClientCommand(data []byte) (ClientCommand, error) {
	fields, msgType, err := envelope(data)
	if err != nil {
		return nil, err
	}

	var cmd ClientCommand
	var required []string
	switch msgType {
	case TypeJoin:
		cmd, required = &JoinCommand{}, []string{"user"}
	case TypeRename:
		cmd, required = &RenameCommand{}, []string{"user"}
	case TypeMessage:
		cmd, required = &SendMessageCommand{}, []string{"text", "to"}
	case TypeHistory:
		cmd, required = &HistoryCommand{}, []string{"channel"}
	case TypeLeave:
		cmd = &LeaveCommand{}
	default:
		return nil, fmt.Errorf("unknown command type %q", msgType)
	}

	if err := decodeInto(msgType, data, fields, cmd, required...); err != nil {
		return nil, err
	}
	return cmd, nil
}
