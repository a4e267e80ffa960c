package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/game"
	"github.com/keizars/keizar-go/internal/obslog"
	"github.com/keizars/keizar-go/internal/protocol"
	"go.uber.org/zap"
)

// Sender is the outbound half of a room socket.
type Sender interface {
	Send(ctx context.Context, req protocol.Request) error
}

type SessionOptions struct {
	Game   game.Options
	Logger *zap.Logger
}

// RemoteSession mirrors the room's authoritative match. Local moves are checked against the
// mirror before they are sent; moves relayed by the server are applied without validation.
type RemoteSession struct {
	out  Sender
	opts SessionOptions
	log  *zap.Logger

	mu        sync.Mutex
	player    board.Player
	session   *game.Session
	roomState protocol.RoomState
	players   map[string]protocol.PlayerSessionState
	changed   chan struct{}
}

func NewRemoteSession(out Sender, opts SessionOptions) *RemoteSession {
	if opts.Logger == nil {
		opts.Logger = obslog.L()
	}
	return &RemoteSession{
		out:     out,
		opts:    opts,
		log:     opts.Logger,
		players: make(map[string]protocol.PlayerSessionState),
		changed: make(chan struct{}),
	}
}

// Attach builds a RemoteSession fed by c. Call it before Connect to see the first setup.
func Attach(c *Conn, opts SessionOptions) *RemoteSession {
	s := NewRemoteSession(c, opts)
	c.OnMessage(s.Handle)
	return s
}

// Handle applies one server frame to the mirror.
func (s *RemoteSession) Handle(msg protocol.Respond) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch m := msg.(type) {
	case protocol.RemoteSessionSetup:
		if err := s.setupLocked(m); err != nil {
			s.log.Warn("client_setup_error", zap.Error(err))
			return
		}
	case protocol.Move:
		if s.session == nil {
			s.log.Warn("client_move_before_setup")
			return
		}
		if !s.session.ApplyTrusted(m.From, m.To) {
			s.log.Warn("client_mirror_desync", zap.String("from", m.From.String()), zap.String("to", m.To.String()))
		}
	case protocol.ConfirmNextRound:
		if s.session != nil {
			s.session.ConfirmNextRound(s.player.Other())
		}
	case protocol.RoomStateChange:
		s.roomState = m.NewState
	case protocol.PlayerStateChange:
		s.players[m.Username] = m.NewState
	}
	s.notifyLocked()
}

func (s *RemoteSession) setupLocked(m protocol.RemoteSessionSetup) error {
	if !m.PlayerAllocation.Valid() {
		return fmt.Errorf("setup: allocation %q", m.PlayerAllocation)
	}
	var snap game.GameSnapshot
	if err := json.Unmarshal([]byte(m.GameSnapshotJSON), &snap); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	sess, err := game.RestoreSession(snap, s.opts.Game)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if s.player != board.NoPlayer && s.player != m.PlayerAllocation {
		s.log.Info("client_allocation_changed",
			zap.String("from", string(s.player)),
			zap.String("to", string(m.PlayerAllocation)),
		)
	}
	s.player = m.PlayerAllocation
	s.session = sess
	return nil
}

func (s *RemoteSession) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// WaitFor blocks until cond holds for the mirror, re-checking after every server frame.
func (s *RemoteSession) WaitFor(ctx context.Context, cond func(*RemoteSession) bool) error {
	for {
		s.mu.Lock()
		ch := s.changed
		s.mu.Unlock()
		if cond(s) {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitSetup blocks until the first RemoteSessionSetup arrived.
func (s *RemoteSession) WaitSetup(ctx context.Context) error {
	return s.WaitFor(ctx, func(s *RemoteSession) bool { return s.Session() != nil })
}

// WaitRoomState blocks until the room reports st.
func (s *RemoteSession) WaitRoomState(ctx context.Context, st protocol.RoomState) error {
	return s.WaitFor(ctx, func(s *RemoteSession) bool { return s.RoomState() == st })
}

func (s *RemoteSession) Player() board.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// Session is the local mirror, nil before the first setup. Treat it as read only; mutate
// through RemoteSession so the server sees every local change.
func (s *RemoteSession) Session() *game.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *RemoteSession) RoomState() protocol.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomState
}

func (s *RemoteSession) PlayerState(username string) protocol.PlayerSessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players[username]
}

// Move plays from-to as this player. A move the mirror rejects returns false and is never
// sent. When sending fails the mirror already holds the move; the setup sent on reconnect
// brings it back in line with the server.
func (s *RemoteSession) Move(ctx context.Context, from, to board.BoardPos) (bool, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return false, ErrNoSetup
	}
	ok := s.session.MoveAs(s.player, from, to)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, netErr("move", s.out.Send(ctx, protocol.Move{From: from, To: to}))
}

// ConfirmNextRound confirms locally first, then tells the server.
func (s *RemoteSession) ConfirmNextRound(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return false, ErrNoSetup
	}
	ok := s.session.ConfirmNextRound(s.player)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, netErr("confirm next round", s.out.Send(ctx, protocol.ConfirmNextRound{}))
}

func (s *RemoteSession) SetReady(ctx context.Context) error {
	return netErr("set ready", s.out.Send(ctx, protocol.SetReady{}))
}

// ChangeBoard asks the server to replace the board. Only the host's request takes effect.
func (s *RemoteSession) ChangeBoard(ctx context.Context, props *board.BoardProperties) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	return netErr("change board", s.out.Send(ctx, protocol.ChangeBoard{BoardPropertiesJSON: string(raw)}))
}

func (s *RemoteSession) Exit(ctx context.Context) error {
	return netErr("exit", s.out.Send(ctx, protocol.Exit{}))
}
