package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown message type")

// envelope is the frame layout on the socket: {"type":"Move","data":{...}}.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encode(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "{}" {
		data = nil
	}
	return json.Marshal(envelope{Type: typ, Data: data})
}

func EncodeRequest(r Request) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil request", ErrUnknownType)
	}
	return encode(r.requestType(), r)
}

func EncodeRespond(r Respond) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil respond", ErrUnknownType)
	}
	return encode(r.respondType(), r)
}

func decodeInto(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// DecodeRequest parses a client frame. Callers on the server treat any error as a frame to skip.
func DecodeRequest(b []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case typeMove:
		var m Move
		if err := decodeInto(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case typeConfirmNextRound:
		return ConfirmNextRound{}, nil
	case typeSetReady:
		return SetReady{}, nil
	case typeChangeBoard:
		var m ChangeBoard
		if err := decodeInto(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case typeExit:
		return Exit{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// DecodeRespond parses a server frame.
func DecodeRespond(b []byte) (Respond, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	var (
		out Respond
		err error
	)
	switch env.Type {
	case typeMove:
		var m Move
		err = decodeInto(env.Data, &m)
		out = m
	case typeConfirmNextRound:
		out = ConfirmNextRound{}
	case typePlayerStateChange:
		var m PlayerStateChange
		err = decodeInto(env.Data, &m)
		out = m
	case typeRoomStateChange:
		var m RoomStateChange
		err = decodeInto(env.Data, &m)
		out = m
	case typeRemoteSessionSetup:
		var m RemoteSessionSetup
		err = decodeInto(env.Data, &m)
		out = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
