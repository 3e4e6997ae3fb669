package wire

import "fmt"

// Decode parses one frame. It fails with ErrUnknownType for an
// unrecognized type byte and with ErrMalformed when a declared length or
// count runs past the end of the buffer. Bytes beyond the declared payload
// are ignored.
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrMalformed)
	}
	r := reader{buf: data[1:]}
	switch t := FrameType(data[0]); t {
	case TypeListUsers:
		return ListUsers{}, nil

	case TypeGetUserInfo:
		name, err := r.field("name")
		if err != nil {
			return nil, err
		}
		return GetUserInfo{Name: name}, nil

	case TypeChangeState:
		name, err := r.field("name")
		if err != nil {
			return nil, err
		}
		state, err := r.scalar("state")
		if err != nil {
			return nil, err
		}
		return ChangeState{Name: name, State: Presence(state)}, nil

	case TypeSendChat:
		recipient, err := r.field("recipient")
		if err != nil {
			return nil, err
		}
		body, err := r.field("body")
		if err != nil {
			return nil, err
		}
		return SendChat{Recipient: recipient, Body: body}, nil

	case TypeGetHistory:
		chat, err := r.field("chat")
		if err != nil {
			return nil, err
		}
		return GetHistory{Chat: chat}, nil

	case TypeError:
		code, err := r.scalar("code")
		if err != nil {
			return nil, err
		}
		return Error{Code: ErrorCode(code)}, nil

	case TypeUsersList:
		n, err := r.scalar("count")
		if err != nil {
			return nil, err
		}
		users := make([]UserEntry, 0, n)
		for i := 0; i < int(n); i++ {
			name, err := r.field("name")
			if err != nil {
				return nil, err
			}
			state, err := r.scalar("state")
			if err != nil {
				return nil, err
			}
			users = append(users, UserEntry{Name: name, State: Presence(state)})
		}
		return UsersList{Users: users}, nil

	case TypeUserInfo:
		found, err := r.scalar("success")
		if err != nil {
			return nil, err
		}
		if found == 0 {
			return UserInfo{}, nil
		}
		name, err := r.field("name")
		if err != nil {
			return nil, err
		}
		state, err := r.scalar("state")
		if err != nil {
			return nil, err
		}
		return UserInfo{Found: true, Name: name, State: Presence(state)}, nil

	case TypeNewUser:
		name, err := r.field("name")
		if err != nil {
			return nil, err
		}
		state, err := r.scalar("state")
		if err != nil {
			return nil, err
		}
		return NewUser{Name: name, State: Presence(state)}, nil

	case TypeStateChange:
		name, err := r.field("name")
		if err != nil {
			return nil, err
		}
		state, err := r.scalar("state")
		if err != nil {
			return nil, err
		}
		return StateChange{Name: name, State: Presence(state)}, nil

	case TypeChatMessage:
		sender, err := r.field("sender")
		if err != nil {
			return nil, err
		}
		body, err := r.field("body")
		if err != nil {
			return nil, err
		}
		return ChatMessage{Sender: sender, Body: body}, nil

	case TypeHistoryResponse:
		n, err := r.scalar("count")
		if err != nil {
			return nil, err
		}
		entries := make([]HistoryEntry, 0, n)
		for i := 0; i < int(n); i++ {
			sender, err := r.field("sender")
			if err != nil {
				return nil, err
			}
			body, err := r.field("body")
			if err != nil {
				return nil, err
			}
			entries = append(entries, HistoryEntry{Sender: sender, Body: body})
		}
		return HistoryResponse{Entries: entries}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, data[0])
	}
}

// reader walks the payload of one frame past the type byte.
type reader struct {
	buf []byte
	off int
}

func (r *reader) scalar(what string) (byte, error) {
	if r.off >= len(r.buf) {
		return 0, fmt.Errorf("%w: missing %s byte", ErrMalformed, what)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) field(what string) (string, error) {
	n, err := r.scalar(what + " length")
	if err != nil {
		return "", err
	}
	if r.off+int(n) > len(r.buf) {
		return "", fmt.Errorf("%w: %s length %d overruns frame", ErrMalformed, what, n)
	}
	field := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return field, nil
}
