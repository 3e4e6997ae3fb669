// Package wire implements the binary frame protocol spoken between the
// broker and its clients.
//
// A frame is one transport message: a type byte followed by zero or more
// length-prefixed fields (one length byte, then that many payload bytes)
// and, for some frame types, trailing single-byte scalars. The websocket
// layer delimits frames, so there is no terminator.
package wire

import (
	"errors"
	"fmt"
)

// FrameType identifies one protocol frame. Codes 1-5 travel client to
// server, codes 50-56 server to client.
type FrameType byte

const (
	TypeListUsers   FrameType = 1
	TypeGetUserInfo FrameType = 2
	TypeChangeState FrameType = 3
	TypeSendChat    FrameType = 4
	TypeGetHistory  FrameType = 5

	TypeError           FrameType = 50
	TypeUsersList       FrameType = 51
	TypeUserInfo        FrameType = 52
	TypeNewUser         FrameType = 53
	TypeStateChange     FrameType = 54
	TypeChatMessage     FrameType = 55
	TypeHistoryResponse FrameType = 56
)

func (t FrameType) String() string {
	switch t {
	case TypeListUsers:
		return "list_users"
	case TypeGetUserInfo:
		return "get_user_info"
	case TypeChangeState:
		return "change_state"
	case TypeSendChat:
		return "send_chat"
	case TypeGetHistory:
		return "get_history"
	case TypeError:
		return "error"
	case TypeUsersList:
		return "users_list"
	case TypeUserInfo:
		return "user_info"
	case TypeNewUser:
		return "new_user"
	case TypeStateChange:
		return "state_change"
	case TypeChatMessage:
		return "chat_message"
	case TypeHistoryResponse:
		return "history_response"
	}
	return fmt.Sprintf("frame(%d)", byte(t))
}

// Presence is a user's availability state. StateDisconnected is set only
// by the broker when a session's transport goes away; clients may request
// transitions among the other three.
type Presence byte

const (
	StateDisconnected Presence = 0
	StateActive       Presence = 1
	StateBusy         Presence = 2
	StateInactive     Presence = 3
)

// Valid reports whether p is one of the four defined states.
func (p Presence) Valid() bool { return p <= StateInactive }

// ClientSettable reports whether a client may request a transition to p.
// StateDisconnected is reserved for the broker.
func (p Presence) ClientSettable() bool { return p >= StateActive && p <= StateInactive }

func (p Presence) String() string {
	switch p {
	case StateDisconnected:
		return "disconnected"
	case StateActive:
		return "active"
	case StateBusy:
		return "busy"
	case StateInactive:
		return "inactive"
	}
	return fmt.Sprintf("presence(%d)", byte(p))
}

// ErrorCode is the one-byte taxonomy carried by Error frames. Clients map
// the code to a human-readable string; the broker never sends text.
type ErrorCode byte

const (
	ErrCodeUnknownUser      ErrorCode = 1
	ErrCodeInvalidState     ErrorCode = 2
	ErrCodeEmptyMessage     ErrorCode = 3
	ErrCodeRecipientOffline ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknownUser:
		return "unknown_user"
	case ErrCodeInvalidState:
		return "invalid_state"
	case ErrCodeEmptyMessage:
		return "empty_message"
	case ErrCodeRecipientOffline:
		return "recipient_offline"
	}
	return fmt.Sprintf("error(%d)", byte(c))
}

const (
	// MaxFieldLen is the largest name or body the one-byte length prefix
	// can carry.
	MaxFieldLen = 255

	// MaxListEntries is the largest entry count the one-byte count prefix
	// can carry (users lists and history responses).
	MaxListEntries = 255

	// BroadcastName is the reserved pseudo-recipient addressing the shared
	// channel. It is rejected as a claimed user name.
	BroadcastName = "~"
)

// Decode failure modes.
var (
	ErrMalformed   = errors.New("wire: malformed frame")
	ErrUnknownType = errors.New("wire: unknown frame type")
)

// Frame is one decoded protocol message. Every frame can encode itself
// back to its wire form; Decode inverts Encode for all legal frames.
type Frame interface {
	FrameType() FrameType
	Encode() []byte
}

// ListUsers requests a UsersList snapshot. Empty payload.
type ListUsers struct{}

func (ListUsers) FrameType() FrameType { return TypeListUsers }
func (ListUsers) Encode() []byte       { return []byte{byte(TypeListUsers)} }

// GetUserInfo asks for one user's name and presence.
type GetUserInfo struct {
	Name string
}

func (GetUserInfo) FrameType() FrameType { return TypeGetUserInfo }
func (f GetUserInfo) Encode() []byte {
	return appendField([]byte{byte(TypeGetUserInfo)}, f.Name)
}

// ChangeState asks the broker to move Name to State.
type ChangeState struct {
	Name  string
	State Presence
}

func (ChangeState) FrameType() FrameType { return TypeChangeState }
func (f ChangeState) Encode() []byte {
	out := appendField([]byte{byte(TypeChangeState)}, f.Name)
	return append(out, byte(f.State))
}

// SendChat carries one message to a user, or to the shared channel when
// Recipient is BroadcastName.
type SendChat struct {
	Recipient string
	Body      string
}

func (SendChat) FrameType() FrameType { return TypeSendChat }
func (f SendChat) Encode() []byte {
	out := appendField([]byte{byte(TypeSendChat)}, f.Recipient)
	return appendField(out, f.Body)
}

// GetHistory requests the stored conversation with Chat: a user name, or
// BroadcastName for the shared channel.
type GetHistory struct {
	Chat string
}

func (GetHistory) FrameType() FrameType { return TypeGetHistory }
func (f GetHistory) Encode() []byte {
	return appendField([]byte{byte(TypeGetHistory)}, f.Chat)
}

// Error reports a per-request failure back to the originating client.
type Error struct {
	Code ErrorCode
}

func (Error) FrameType() FrameType { return TypeError }
func (f Error) Encode() []byte     { return []byte{byte(TypeError), byte(f.Code)} }

// UserEntry is one (name, presence) pair inside a UsersList.
type UserEntry struct {
	Name  string
	State Presence
}

// UsersList is a registry snapshot, sent in response to ListUsers and
// pushed to a client on admission.
type UsersList struct {
	Users []UserEntry
}

func (UsersList) FrameType() FrameType { return TypeUsersList }
func (f UsersList) Encode() []byte {
	out := appendCount([]byte{byte(TypeUsersList)}, len(f.Users))
	for _, u := range f.Users {
		out = appendField(out, u.Name)
		out = append(out, byte(u.State))
	}
	return out
}

// UserInfo answers GetUserInfo. Found is the leading success byte; the
// name and state fields follow only when it is set.
type UserInfo struct {
	Found bool
	Name  string
	State Presence
}

func (UserInfo) FrameType() FrameType { return TypeUserInfo }
func (f UserInfo) Encode() []byte {
	if !f.Found {
		return []byte{byte(TypeUserInfo), 0}
	}
	out := appendField([]byte{byte(TypeUserInfo), 1}, f.Name)
	return append(out, byte(f.State))
}

// NewUser announces a fresh admission. State is StateActive on the wire.
type NewUser struct {
	Name  string
	State Presence
}

func (NewUser) FrameType() FrameType { return TypeNewUser }
func (f NewUser) Encode() []byte {
	out := appendField([]byte{byte(TypeNewUser)}, f.Name)
	return append(out, byte(f.State))
}

// StateChange announces one user's new presence.
type StateChange struct {
	Name  string
	State Presence
}

func (StateChange) FrameType() FrameType { return TypeStateChange }
func (f StateChange) Encode() []byte {
	out := appendField([]byte{byte(TypeStateChange)}, f.Name)
	return append(out, byte(f.State))
}

// ChatMessage delivers one chat body. Sender is the originating user, or
// BroadcastName when the frame travels on the shared channel (in which
// case the body carries a "sender: " prefix).
type ChatMessage struct {
	Sender string
	Body   string
}

func (ChatMessage) FrameType() FrameType { return TypeChatMessage }
func (f ChatMessage) Encode() []byte {
	out := appendField([]byte{byte(TypeChatMessage)}, f.Sender)
	return appendField(out, f.Body)
}

// HistoryEntry is one stored (sender, body) pair.
type HistoryEntry struct {
	Sender string
	Body   string
}

// HistoryResponse answers GetHistory with up to MaxListEntries entries in
// insertion order.
type HistoryResponse struct {
	Entries []HistoryEntry
}

func (HistoryResponse) FrameType() FrameType { return TypeHistoryResponse }
func (f HistoryResponse) Encode() []byte {
	out := appendCount([]byte{byte(TypeHistoryResponse)}, len(f.Entries))
	for _, e := range f.Entries {
		out = appendField(out, e.Sender)
		out = appendField(out, e.Body)
	}
	return out
}

// appendField appends one length-prefixed field. Sizes are validated at
// the protocol boundary before frames are built; an oversized field here
// is a programming error, not a wire condition.
func appendField(dst []byte, field string) []byte {
	if len(field) > MaxFieldLen {
		panic(fmt.Sprintf("wire: field length %d exceeds %d", len(field), MaxFieldLen))
	}
	dst = append(dst, byte(len(field)))
	return append(dst, field...)
}

// appendCount appends a one-byte entry count, with the same caller
// contract as appendField.
func appendCount(dst []byte, n int) []byte {
	if n > MaxListEntries {
		panic(fmt.Sprintf("wire: entry count %d exceeds %d", n, MaxListEntries))
	}
	return append(dst, byte(n))
}
