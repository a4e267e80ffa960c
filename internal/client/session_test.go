package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/game"
	"github.com/keizars/keizar-go/internal/protocol"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Request
	err  error
}

func (f *fakeSender) Send(_ context.Context, req protocol.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeSender) requests() []protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Request(nil), f.sent...)
}

func pos(s string) board.BoardPos { return board.MustPos(s) }

func plainProps() *board.BoardProperties {
	props := board.StandardProperties(5)
	props.Tiles = map[board.BoardPos]board.TileType{props.KeizarTilePos: board.TileKeizar}
	return props
}

// quickProps decides a round with a1-a2: black is left without a move.
func quickProps() *board.BoardProperties {
	props := plainProps()
	props.PiecesStartingPos = map[board.Role][]board.BoardPos{
		board.White: {pos("a1")},
		board.Black: {pos("a3")},
	}
	return props
}

func setupFor(t *testing.T, props *board.BoardProperties, player board.Player) protocol.RemoteSessionSetup {
	t.Helper()
	raw, err := json.Marshal(game.NewSession(props, game.Options{}).Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return protocol.RemoteSessionSetup{PlayerAllocation: player, GameSnapshotJSON: string(raw)}
}

func newSession(out Sender) *RemoteSession {
	return NewRemoteSession(out, SessionOptions{Logger: zap.NewNop()})
}

func TestRemoteSession_MoveBeforeSetup(t *testing.T) {
	s := newSession(&fakeSender{})
	if _, err := s.Move(context.Background(), pos("e2"), pos("e3")); !errors.Is(err, ErrNoSetup) {
		t.Fatalf("err = %v, want ErrNoSetup", err)
	}
}

func TestRemoteSession_LocalThenNetwork(t *testing.T) {
	out := &fakeSender{}
	s := newSession(out)
	s.Handle(setupFor(t, plainProps(), board.FirstWhitePlayer))
	ctx := context.Background()

	if ok, err := s.Move(ctx, pos("e2"), pos("e5")); ok || err != nil {
		t.Fatalf("illegal move = %v, %v", ok, err)
	}
	if len(out.requests()) != 0 {
		t.Fatalf("illegal move was sent: %v", out.requests())
	}
	ok, err := s.Move(ctx, pos("e2"), pos("e3"))
	if !ok || err != nil {
		t.Fatalf("legal move = %v, %v", ok, err)
	}
	reqs := out.requests()
	if len(reqs) != 1 || reqs[0] != (protocol.Move{From: pos("e2"), To: pos("e3")}) {
		t.Fatalf("sent %v", reqs)
	}
	if ok, _ := s.Move(ctx, pos("d7"), pos("d6")); ok {
		t.Fatalf("white moved a black piece")
	}

	// The opponent's move arrives from the server and is applied as is.
	s.Handle(protocol.Move{From: pos("d7"), To: pos("d6")})
	if _, ok := s.Session().PieceAt(pos("d6")); !ok {
		t.Fatalf("relayed move not applied")
	}
	if got := s.Session().CurrentTurn(); got != board.FirstWhitePlayer {
		t.Fatalf("turn = %s, want FirstWhitePlayer", got)
	}
}

func TestRemoteSession_SendFailureIsNetworkError(t *testing.T) {
	out := &fakeSender{err: errors.New("broken pipe")}
	s := newSession(out)
	s.Handle(setupFor(t, plainProps(), board.FirstWhitePlayer))

	ok, err := s.Move(context.Background(), pos("e2"), pos("e3"))
	if !ok {
		t.Fatalf("local move rejected")
	}
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.Op != "move" {
		t.Fatalf("err = %v, want *NetworkError{Op: move}", err)
	}
	if err := s.SetReady(context.Background()); !errors.As(err, &ne) || ne.Op != "set ready" {
		t.Fatalf("SetReady err = %v", err)
	}
}

func TestRemoteSession_ConfirmNextRound(t *testing.T) {
	out := &fakeSender{}
	s := newSession(out)
	s.Handle(setupFor(t, quickProps(), board.FirstBlackPlayer))
	ctx := context.Background()

	if ok, _ := s.ConfirmNextRound(ctx); ok {
		t.Fatalf("confirm without a winner accepted")
	}
	s.Handle(protocol.Move{From: pos("a1"), To: pos("a2")})
	if w := s.Session().Winner(); w != board.White {
		t.Fatalf("winner = %s, want WHITE", w)
	}

	s.Handle(protocol.ConfirmNextRound{})
	if !s.Session().Confirmed(board.FirstWhitePlayer) {
		t.Fatalf("opponent confirmation not recorded")
	}
	if ok, err := s.ConfirmNextRound(ctx); !ok || err != nil {
		t.Fatalf("confirm = %v, %v", ok, err)
	}
	if n := s.Session().CurrentRoundNo(); n != 1 {
		t.Fatalf("round = %d, want 1", n)
	}
	reqs := out.requests()
	if len(reqs) != 1 || reqs[0] != (protocol.ConfirmNextRound{}) {
		t.Fatalf("sent %v", reqs)
	}
}

func TestRemoteSession_TracksRoomAndPlayers(t *testing.T) {
	s := newSession(&fakeSender{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.WaitRoomState(ctx, protocol.RoomPlaying) }()

	s.Handle(protocol.PlayerStateChange{Username: "bob", NewState: protocol.PlayerReady})
	s.Handle(protocol.RoomStateChange{NewState: protocol.RoomAllConnected})
	s.Handle(protocol.RoomStateChange{NewState: protocol.RoomPlaying})
	if err := <-done; err != nil {
		t.Fatalf("WaitRoomState: %v", err)
	}
	if st := s.PlayerState("bob"); st != protocol.PlayerReady {
		t.Fatalf("bob = %s", st)
	}
}

func TestRemoteSession_BadSetupIgnored(t *testing.T) {
	s := newSession(&fakeSender{})
	s.Handle(protocol.RemoteSessionSetup{PlayerAllocation: board.FirstWhitePlayer, GameSnapshotJSON: "{"})
	s.Handle(protocol.RemoteSessionSetup{PlayerAllocation: "nobody", GameSnapshotJSON: "{}"})
	if s.Session() != nil {
		t.Fatalf("bad setup produced a session")
	}
}
