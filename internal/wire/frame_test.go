package wire

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Exact wire layout
// ---------------------------------------------------------------------------

func TestEncodeListUsersLayout(t *testing.T) {
	got := ListUsers{}.Encode()
	if !bytes.Equal(got, []byte{1}) {
		t.Errorf("got % d, want [1]", got)
	}
}

func TestEncodeSendChatLayout(t *testing.T) {
	got := SendChat{Recipient: "bob", Body: "hi"}.Encode()
	want := []byte{4, 3, 'b', 'o', 'b', 2, 'h', 'i'}
	if !bytes.Equal(got, want) {
		t.Errorf("got % d, want % d", got, want)
	}
}

func TestEncodeChangeStateLayout(t *testing.T) {
	got := ChangeState{Name: "bob", State: StateBusy}.Encode()
	want := []byte{3, 3, 'b', 'o', 'b', 2}
	if !bytes.Equal(got, want) {
		t.Errorf("got % d, want % d", got, want)
	}
}

func TestEncodeErrorLayout(t *testing.T) {
	got := Error{Code: ErrCodeRecipientOffline}.Encode()
	if !bytes.Equal(got, []byte{50, 4}) {
		t.Errorf("got % d, want [50 4]", got)
	}
}

func TestEncodeUserInfoNotFoundLayout(t *testing.T) {
	got := UserInfo{}.Encode()
	if !bytes.Equal(got, []byte{52, 0}) {
		t.Errorf("got % d, want [52 0]", got)
	}
}

func TestEncodeUserInfoFoundLayout(t *testing.T) {
	got := UserInfo{Found: true, Name: "ed", State: StateInactive}.Encode()
	want := []byte{52, 1, 2, 'e', 'd', 3}
	if !bytes.Equal(got, want) {
		t.Errorf("got % d, want % d", got, want)
	}
}

func TestEncodeUsersListLayout(t *testing.T) {
	f := UsersList{Users: []UserEntry{
		{Name: "al", State: StateActive},
		{Name: "bo", State: StateBusy},
	}}
	want := []byte{51, 2, 2, 'a', 'l', 1, 2, 'b', 'o', 2}
	if got := f.Encode(); !bytes.Equal(got, want) {
		t.Errorf("got % d, want % d", got, want)
	}
}

func TestEncodeHistoryResponseLayout(t *testing.T) {
	f := HistoryResponse{Entries: []HistoryEntry{
		{Sender: "al", Body: "yo"},
	}}
	want := []byte{56, 1, 2, 'a', 'l', 2, 'y', 'o'}
	if got := f.Encode(); !bytes.Equal(got, want) {
		t.Errorf("got % d, want % d", got, want)
	}
}

func TestEncodeEmptyFieldIsLengthZero(t *testing.T) {
	got := GetUserInfo{}.Encode()
	if !bytes.Equal(got, []byte{2, 0}) {
		t.Errorf("got % d, want [2 0]", got)
	}
}

// ---------------------------------------------------------------------------
// Round trips
// ---------------------------------------------------------------------------

func TestRoundTrip(t *testing.T) {
	frames := []Frame{
		ListUsers{},
		GetUserInfo{Name: "alice"},
		ChangeState{Name: "alice", State: StateInactive},
		SendChat{Recipient: BroadcastName, Body: "hello everyone"},
		GetHistory{Chat: "bob"},
		Error{Code: ErrCodeEmptyMessage},
		UsersList{Users: []UserEntry{{Name: "alice", State: StateActive}, {Name: "bob", State: StateDisconnected}}},
		UserInfo{Found: true, Name: "bob", State: StateBusy},
		UserInfo{},
		NewUser{Name: "carol", State: StateActive},
		StateChange{Name: "carol", State: StateDisconnected},
		ChatMessage{Sender: "alice", Body: "hi bob"},
		HistoryResponse{Entries: []HistoryEntry{{Sender: "alice", Body: "one"}, {Sender: "bob", Body: "two"}}},
	}
	for _, want := range frames {
		got, err := Decode(want.Encode())
		if err != nil {
			t.Fatalf("%s: decode: %v", want.FrameType(), err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: got %#v, want %#v", want.FrameType(), got, want)
		}
	}
}

func TestRoundTripMaxLengthField(t *testing.T) {
	body := strings.Repeat("x", MaxFieldLen)
	got, err := Decode(SendChat{Recipient: "bob", Body: body}.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sc, ok := got.(SendChat)
	if !ok {
		t.Fatalf("got %T, want SendChat", got)
	}
	if sc.Body != body {
		t.Errorf("body length %d, want %d", len(sc.Body), MaxFieldLen)
	}
}

func TestRoundTripEmptyUsersList(t *testing.T) {
	got, err := Decode(UsersList{}.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ul, ok := got.(UsersList)
	if !ok {
		t.Fatalf("got %T, want UsersList", got)
	}
	if len(ul.Users) != 0 {
		t.Errorf("got %d users, want 0", len(ul.Users))
	}
}

func TestRoundTripEmptyHistoryResponse(t *testing.T) {
	got, err := Decode(HistoryResponse{}.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hr, ok := got.(HistoryResponse)
	if !ok {
		t.Fatalf("got %T, want HistoryResponse", got)
	}
	if len(hr.Entries) != 0 {
		t.Errorf("got %d entries, want 0", len(hr.Entries))
	}
}

// ---------------------------------------------------------------------------
// Decode failures
// ---------------------------------------------------------------------------

func TestDecodeEmptyBuffer(t *testing.T) {
	_, err := Decode(nil)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	for _, b := range []byte{0, 6, 49, 57, 200, 255} {
		_, err := Decode([]byte{b})
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("type %d: got %v, want ErrUnknownType", b, err)
		}
	}
}

func TestDecodeMissingLengthByte(t *testing.T) {
	_, err := Decode([]byte{byte(TypeGetUserInfo)})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestDecodeFieldOverrunsFrame(t *testing.T) {
	// Declared recipient length 10, only 3 payload bytes follow.
	_, err := Decode([]byte{byte(TypeSendChat), 10, 'b', 'o', 'b'})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestDecodeMissingSecondField(t *testing.T) {
	_, err := Decode([]byte{byte(TypeSendChat), 3, 'b', 'o', 'b'})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestDecodeMissingStateByte(t *testing.T) {
	_, err := Decode([]byte{byte(TypeChangeState), 3, 'b', 'o', 'b'})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestDecodeListCountOverrunsFrame(t *testing.T) {
	// Count says two entries, payload holds one.
	_, err := Decode([]byte{byte(TypeUsersList), 2, 2, 'a', 'l', 1})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	buf := append(GetHistory{Chat: "bob"}.Encode(), 0xde, 0xad)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gh, ok := got.(GetHistory); !ok || gh.Chat != "bob" {
		t.Errorf("got %#v, want GetHistory{Chat: bob}", got)
	}
}

func TestEncodeOversizedFieldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for field over MaxFieldLen")
		}
	}()
	SendChat{Recipient: "bob", Body: strings.Repeat("x", MaxFieldLen+1)}.Encode()
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

func TestPresenceValid(t *testing.T) {
	for p := StateDisconnected; p <= StateInactive; p++ {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if Presence(4).Valid() {
		t.Error("presence 4 should be invalid")
	}
}

func TestPresenceClientSettable(t *testing.T) {
	if StateDisconnected.ClientSettable() {
		t.Error("disconnected must not be client settable")
	}
	for _, p := range []Presence{StateActive, StateBusy, StateInactive} {
		if !p.ClientSettable() {
			t.Errorf("%s should be client settable", p)
		}
	}
	if Presence(4).ClientSettable() {
		t.Error("presence 4 must not be client settable")
	}
}

func TestFrameTypeCodes(t *testing.T) {
	if TypeListUsers != 1 || TypeGetHistory != 5 {
		t.Error("client frame codes must span 1-5")
	}
	if TypeError != 50 || TypeHistoryResponse != 56 {
		t.Error("server frame codes must span 50-56")
	}
}

func TestErrorCodeStrings(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrCodeUnknownUser, "unknown_user"},
		{ErrCodeInvalidState, "invalid_state"},
		{ErrCodeEmptyMessage, "empty_message"},
		{ErrCodeRecipientOffline, "recipient_offline"},
		{ErrorCode(9), "error(9)"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
