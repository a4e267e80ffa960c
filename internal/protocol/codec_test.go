package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/keizars/keizar-go/internal/board"
)

func TestEncodeRequest_WireShape(t *testing.T) {
	b, err := EncodeRequest(Move{From: board.MustPos("e2"), To: board.MustPos("e4")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := string(b); got != `{"type":"Move","data":{"from":"e2","to":"e4"}}` {
		t.Fatalf("unexpected frame %s", got)
	}
	b, _ = EncodeRequest(SetReady{})
	if got := string(b); got != `{"type":"SetReady"}` {
		t.Fatalf("empty messages should omit data, got %s", got)
	}
}

func TestDecodeRequest(t *testing.T) {
	cases := []struct {
		raw  string
		want Request
	}{
		{raw: `{"type":"Move","data":{"from":"a7","to":"a6"}}`, want: Move{From: board.MustPos("a7"), To: board.MustPos("a6")}},
		{raw: `{"type":"ConfirmNextRound"}`, want: ConfirmNextRound{}},
		{raw: `{"type":"SetReady","data":{}}`, want: SetReady{}},
		{raw: `{"type":"Exit"}`, want: Exit{}},
		{raw: `{"type":"ChangeBoard","data":{"boardPropertiesJson":"{}"}}`, want: ChangeBoard{BoardPropertiesJSON: "{}"}},
	}
	for _, tc := range cases {
		raw, want := tc.raw, tc.want
		got, err := DecodeRequest([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if got != want {
			t.Fatalf("decode %s = %#v, want %#v", raw, got, want)
		}
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	if _, err := DecodeRequest([]byte(`{"type":"Nope"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	for _, raw := range []string{`not json`, `{"type":"Move","data":{"from":"zz"}}`, `{"type":"Move","data":[1]}`} {
		if _, err := DecodeRequest([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestRespond_RoundTrip(t *testing.T) {
	msgs := []Respond{
		Move{From: board.MustPos("b1"), To: board.MustPos("c3")},
		ConfirmNextRound{},
		PlayerStateChange{Username: "alice", NewState: PlayerReady},
		RoomStateChange{NewState: RoomPlaying},
		RemoteSessionSetup{PlayerAllocation: board.FirstBlackPlayer, GameSnapshotJSON: `{"rounds":[]}`},
	}
	for _, m := range msgs {
		b, err := EncodeRespond(m)
		if err != nil {
			t.Fatalf("encode %#v: %v", m, err)
		}
		got, err := DecodeRespond(b)
		if err != nil {
			t.Fatalf("decode %s: %v", b, err)
		}
		if got != m {
			t.Fatalf("round trip %#v -> %#v", m, got)
		}
	}
	if _, err := DecodeRespond([]byte(`{"type":"SetReady"}`)); !errors.Is(err, ErrUnknownType) || !strings.Contains(err.Error(), "SetReady") {
		t.Fatalf("requests are not responds, got %v", err)
	}
}
