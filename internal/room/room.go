package room

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/game"
	"github.com/keizars/keizar-go/internal/obslog"
	"github.com/keizars/keizar-go/internal/protocol"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultDyingThreshold    = 60
	defaultWriteTimeout      = 5 * time.Second
	maxPingFailures          = 2
	storeTimeout             = 3 * time.Second
)

// Options configures a Room. Zero fields take defaults.
type Options struct {
	HeartbeatInterval time.Duration
	// DyingThreshold is how many consecutive heartbeats may pass with nobody responsive
	// before the room finishes on its own.
	DyingThreshold int
	WriteTimeout   time.Duration
	HistoryLimit   int
	Store          Store
	Logger         *zap.Logger
	// OnFinished runs once the room is finished and its record deleted.
	OnFinished func(number uint64)
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.DyingThreshold <= 0 {
		o.DyingThreshold = defaultDyingThreshold
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Logger == nil {
		o.Logger = obslog.L()
	}
	return o
}

// PlayerSession is one seat of the room. The allocation is decided on first join and never
// changes; the connection is replaced on every reconnect.
type PlayerSession struct {
	username   string
	allocation board.Player
	host       bool
	state      protocol.PlayerSessionState
	peer       *peer
}

func (ps *PlayerSession) info() PlayerInfo {
	return PlayerInfo{Username: ps.username, Allocation: ps.allocation, Host: ps.host, State: ps.state}
}

// Room coordinates two players through one match. The authoritative Session is only touched
// with mu held, so moves from both peers are applied one at a time.
type Room struct {
	number uint64
	opts   Options
	log    *zap.Logger

	mu      sync.Mutex
	state   protocol.RoomState
	props   *board.BoardProperties
	players []*PlayerSession
	session *game.Session
	dying   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	dirty  chan struct{}
	done   chan struct{}
}

// New creates a room in the Started state and starts its heartbeat.
func New(number uint64, props *board.BoardProperties, opts Options) *Room {
	r := newRoom(number, props, opts)
	r.state = protocol.RoomStarted
	r.start()
	r.mu.Lock()
	r.markDirtyLocked()
	r.mu.Unlock()
	return r
}

func newRoom(number uint64, props *board.BoardProperties, opts Options) *Room {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		number: number,
		opts:   opts,
		log:    opts.Logger.With(zap.Uint64("room", number)),
		props:  props,
		ctx:    ctx,
		cancel: cancel,
		dirty:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Restore rebuilds a room from its record. Every player starts DISCONNECTED and has to
// reconnect; the dying heartbeat still applies.
func Restore(rec *Record, opts Options) (*Room, error) {
	if rec == nil || rec.Properties == nil {
		return nil, fmt.Errorf("restore room: incomplete record")
	}
	if rec.State == protocol.RoomFinished {
		return nil, ErrRoomFinished
	}
	if stateRank(rec.State) < 0 {
		return nil, fmt.Errorf("restore room %d: unknown state %q", rec.Number, rec.State)
	}
	if err := rec.Properties.Validate(); err != nil {
		return nil, fmt.Errorf("restore room %d: %w", rec.Number, err)
	}
	r := newRoom(rec.Number, rec.Properties, opts)
	r.state = rec.State
	for _, p := range rec.Players {
		st := protocol.PlayerDisconnected
		if p.State == protocol.PlayerTerminating {
			st = p.State
		}
		r.players = append(r.players, &PlayerSession{
			username:   p.Username,
			allocation: p.Allocation,
			host:       p.Host,
			state:      st,
		})
	}
	if rec.State == protocol.RoomPlaying {
		if rec.Snapshot == nil {
			return nil, fmt.Errorf("restore room %d: playing without snapshot", rec.Number)
		}
		s, err := game.RestoreSession(*rec.Snapshot, game.Options{HistoryLimit: opts.HistoryLimit})
		if err != nil {
			return nil, fmt.Errorf("restore room %d: %w", rec.Number, err)
		}
		r.session = s
	}
	r.start()
	r.log.Info("room_restore", zap.String("state", string(r.state)), zap.Int("players", len(r.players)))
	return r, nil
}

func (r *Room) start() {
	r.wg.Add(1)
	go r.heartbeatLoop()
	go r.persistLoop()
}

func (r *Room) Number() uint64 { return r.number }

// Done is closed once the room has stopped and its final record was written or deleted.
func (r *Room) Done() <-chan struct{} { return r.done }

// Wait blocks until every goroutine of the room has returned.
func (r *Room) Wait() {
	<-r.done
	r.wg.Wait()
}

// State returns a read copy of the current state variant.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	players := r.playerInfosLocked()
	switch r.state {
	case protocol.RoomStarted:
		return Started{Players: players, Properties: r.props.Clone()}
	case protocol.RoomAllConnected:
		return AllConnected{Players: players, Properties: r.props.Clone()}
	case protocol.RoomPlaying:
		return Playing{Players: players, Properties: r.props.Clone(), Session: r.session}
	default:
		return Finished{Players: players}
	}
}

// Info summarizes the room for the HTTP surface.
func (r *Room) Info() protocol.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return protocol.RoomInfo{
		RoomNumber:  r.number,
		State:       r.state,
		PlayerCount: len(r.players),
		Properties:  r.props.Clone(),
	}
}

func (r *Room) playerInfosLocked() []PlayerInfo {
	out := make([]PlayerInfo, 0, len(r.players))
	for _, ps := range r.players {
		out = append(out, ps.info())
	}
	return out
}

func (r *Room) findLocked(user string) *PlayerSession {
	for _, ps := range r.players {
		if ps.username == user {
			return ps
		}
	}
	return nil
}

func (r *Room) otherLocked(ps *PlayerSession) *PlayerSession {
	for _, o := range r.players {
		if o != ps {
			return o
		}
	}
	return nil
}

// Join seats user on conn, or moves an already seated user onto conn. It fails before any
// state is created when the room is full or finished.
func (r *Room) Join(user string, conn Conn) (board.Player, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return board.NoPlayer, ErrInvalidUser
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == protocol.RoomFinished {
		return board.NoPlayer, ErrRoomFinished
	}
	ps := r.findLocked(user)
	if ps == nil {
		if len(r.players) >= 2 {
			r.log.Info("room_join_rejected", zap.String("user", user), zap.String("reason", "full"))
			return board.NoPlayer, ErrRoomFull
		}
		alloc := randomPlayer()
		if len(r.players) == 1 {
			alloc = r.players[0].allocation.Other()
		}
		ps = &PlayerSession{username: user, allocation: alloc, host: len(r.players) == 0, state: protocol.PlayerStarted}
		r.players = append(r.players, ps)
		r.log.Info("room_join", zap.String("user", user), zap.String("allocation", string(alloc)), zap.Bool("host", ps.host))
	} else {
		r.log.Info("room_reconnect", zap.String("user", user), zap.String("previous_state", string(ps.state)))
	}

	r.attachLocked(ps, conn)
	r.dying = 0

	next := ps.state
	switch {
	case r.state == protocol.RoomPlaying:
		next = protocol.PlayerPlaying
	case ps.state == protocol.PlayerDisconnected || ps.state == protocol.PlayerTerminating:
		next = protocol.PlayerStarted
	}
	r.setPlayerStateLocked(ps, next)

	r.sendLocked(ps, protocol.RoomStateChange{NewState: r.state})
	for _, o := range r.players {
		if o != ps {
			r.sendLocked(ps, protocol.PlayerStateChange{Username: o.username, NewState: o.state})
		}
	}
	r.sendSetupLocked(ps)

	if r.state == protocol.RoomStarted && len(r.players) == 2 {
		r.transitionLocked(protocol.RoomAllConnected)
	}
	r.markDirtyLocked()
	return ps.allocation, nil
}

func (r *Room) attachLocked(ps *PlayerSession, conn Conn) {
	if ps.peer != nil {
		ps.peer.shutdown("replaced by a newer connection")
	}
	pr := newPeer(conn)
	ps.peer = pr
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		pr.writeLoop(r.opts.WriteTimeout, func() string { return r.closeReason(pr) }, r.log)
	}()
	go r.readLoop(ps, pr)
}

func (r *Room) closeReason(pr *peer) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pr.reason != "" {
		return pr.reason
	}
	if r.state == protocol.RoomFinished {
		return "room finished"
	}
	return "closing"
}

func (r *Room) readLoop(ps *PlayerSession, pr *peer) {
	defer r.wg.Done()
	for {
		frame, err := pr.conn.Read(r.ctx)
		if err != nil {
			r.peerLost(ps, pr, err)
			return
		}
		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			r.log.Debug("room_frame_malformed", zap.String("user", ps.username), zap.Error(err))
			continue
		}
		r.dispatch(ps.username, req)
	}
}

func (r *Room) dispatch(user string, req protocol.Request) {
	switch m := req.(type) {
	case protocol.Move:
		r.Move(user, m)
	case protocol.ConfirmNextRound:
		r.ConfirmNextRound(user)
	case protocol.SetReady:
		r.Ready(user)
	case protocol.ChangeBoard:
		if err := r.ChangeBoard(user, m.BoardPropertiesJSON); err != nil {
			r.log.Info("room_change_board_rejected", zap.String("user", user), zap.Error(err))
		}
	case protocol.Exit:
		r.Exit(user)
	}
}

func (r *Room) peerLost(ps *PlayerSession, pr *peer, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps.peer != pr || r.state == protocol.RoomFinished {
		pr.shutdown("")
		return
	}
	r.log.Info("room_peer_lost", zap.String("user", ps.username), zap.Error(err))
	r.dropPeerLocked(ps, "connection lost")
}

func (r *Room) dropPeerLocked(ps *PlayerSession, reason string) {
	if ps.peer != nil {
		ps.peer.shutdown(reason)
		ps.peer = nil
	}
	if ps.state != protocol.PlayerTerminating {
		r.setPlayerStateLocked(ps, protocol.PlayerDisconnected)
	}
	r.markDirtyLocked()
}

// Ready marks user READY. The match starts once both seated players are ready.
func (r *Room) Ready(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.findLocked(user)
	if ps == nil || (r.state != protocol.RoomStarted && r.state != protocol.RoomAllConnected) {
		return false
	}
	r.setPlayerStateLocked(ps, protocol.PlayerReady)
	if r.state == protocol.RoomAllConnected && r.allInLocked(protocol.PlayerReady) {
		r.session = game.NewSession(r.props, game.Options{HistoryLimit: r.opts.HistoryLimit})
		r.transitionLocked(protocol.RoomPlaying)
		for _, o := range r.players {
			r.setPlayerStateLocked(o, protocol.PlayerPlaying)
		}
	}
	r.markDirtyLocked()
	return true
}

// ChangeBoard replaces the board before play starts. Only the host may do it; every player
// goes back to STARTED and receives a fresh setup.
func (r *Room) ChangeBoard(user, propertiesJSON string) error {
	props, err := board.ParseProperties([]byte(propertiesJSON))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.findLocked(user)
	if ps == nil {
		return ErrInvalidUser
	}
	if !ps.host {
		return ErrNotHost
	}
	if r.state != protocol.RoomStarted && r.state != protocol.RoomAllConnected {
		return ErrBoardLocked
	}
	r.props = props
	for _, o := range r.players {
		r.setPlayerStateLocked(o, protocol.PlayerStarted)
	}
	for _, o := range r.players {
		r.sendSetupLocked(o)
	}
	r.log.Info("room_change_board", zap.String("user", user), zap.Int64("seed", props.Seed))
	r.markDirtyLocked()
	return nil
}

// Move applies a move of user to the authoritative match and relays it to the opponent.
// Rejected moves are logged and dropped; the sender gets no correction.
func (r *Room) Move(user string, m protocol.Move) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.findLocked(user)
	if ps == nil || r.state != protocol.RoomPlaying {
		return false
	}
	if !r.session.MoveAs(ps.allocation, m.From, m.To) {
		r.log.Info("room_move_rejected",
			zap.String("user", user),
			zap.String("from", m.From.String()),
			zap.String("to", m.To.String()),
		)
		return false
	}
	r.log.Debug("room_move", zap.String("user", user), zap.String("from", m.From.String()), zap.String("to", m.To.String()))
	if o := r.otherLocked(ps); o != nil {
		r.sendLocked(o, m)
	}
	r.markDirtyLocked()
	return true
}

// ConfirmNextRound records user's confirmation and relays it to the opponent.
func (r *Room) ConfirmNextRound(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.findLocked(user)
	if ps == nil || r.state != protocol.RoomPlaying {
		return false
	}
	if !r.session.ConfirmNextRound(ps.allocation) {
		r.log.Info("room_confirm_rejected", zap.String("user", user))
		return false
	}
	if o := r.otherLocked(ps); o != nil {
		r.sendLocked(o, protocol.ConfirmNextRound{})
	}
	r.markDirtyLocked()
	return true
}

// Exit marks user TERMINATING. The room finishes once every player is terminating.
func (r *Room) Exit(user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.findLocked(user)
	if ps == nil || r.state == protocol.RoomFinished {
		return
	}
	r.setPlayerStateLocked(ps, protocol.PlayerTerminating)
	if r.allInLocked(protocol.PlayerTerminating) {
		r.transitionLocked(protocol.RoomFinished)
	}
	r.markDirtyLocked()
}

// Finish ends the room and deletes its record.
func (r *Room) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitionLocked(protocol.RoomFinished)
}

// Shutdown stops the room without finishing it, keeping its record for another process.
func (r *Room) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == protocol.RoomFinished {
		return
	}
	for _, ps := range r.players {
		if ps.peer != nil {
			ps.peer.shutdown("server shutting down")
			ps.peer = nil
		}
	}
	r.cancel()
}

func (r *Room) allInLocked(st protocol.PlayerSessionState) bool {
	if len(r.players) < 2 {
		return false
	}
	for _, ps := range r.players {
		if ps.state != st {
			return false
		}
	}
	return true
}

func (r *Room) setPlayerStateLocked(ps *PlayerSession, st protocol.PlayerSessionState) {
	if ps.state == st {
		return
	}
	ps.state = st
	r.broadcastLocked(protocol.PlayerStateChange{Username: ps.username, NewState: st})
}

func (r *Room) transitionLocked(to protocol.RoomState) {
	if stateRank(to) <= stateRank(r.state) {
		return
	}
	from := r.state
	r.state = to
	r.log.Info("room_state_change", zap.String("from", string(from)), zap.String("to", string(to)))
	r.broadcastLocked(protocol.RoomStateChange{NewState: to})
	if to == protocol.RoomFinished {
		for _, ps := range r.players {
			if ps.peer != nil {
				ps.peer.shutdown("room finished")
				ps.peer = nil
			}
		}
		r.cancel()
	}
}

func (r *Room) sendSetupLocked(ps *PlayerSession) {
	var snap game.GameSnapshot
	if r.session != nil {
		snap = r.session.Snapshot()
	} else {
		snap = game.NewSession(r.props, game.Options{HistoryLimit: r.opts.HistoryLimit}).Snapshot()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		r.log.Warn("room_snapshot_encode_error", zap.Error(err))
		return
	}
	r.sendLocked(ps, protocol.RemoteSessionSetup{PlayerAllocation: ps.allocation, GameSnapshotJSON: string(raw)})
}

func (r *Room) sendLocked(ps *PlayerSession, msg protocol.Respond) {
	if ps == nil || ps.peer == nil {
		return
	}
	frame, err := protocol.EncodeRespond(msg)
	if err != nil {
		r.log.Warn("room_encode_error", zap.Error(err))
		return
	}
	r.enqueueLocked(ps, frame)
}

func (r *Room) broadcastLocked(msg protocol.Respond) {
	frame, err := protocol.EncodeRespond(msg)
	if err != nil {
		r.log.Warn("room_encode_error", zap.Error(err))
		return
	}
	for _, ps := range r.players {
		if ps.peer != nil {
			r.enqueueLocked(ps, frame)
		}
	}
}

func (r *Room) enqueueLocked(ps *PlayerSession, frame []byte) {
	if ps.peer.enqueue(frame) {
		return
	}
	r.log.Warn("room_peer_slow", zap.String("user", ps.username))
	ps.peer = nil
	if ps.state != protocol.PlayerTerminating && r.state != protocol.RoomFinished {
		ps.state = protocol.PlayerDisconnected
	}
	r.markDirtyLocked()
}

func randomPlayer() board.Player {
	if n, _ := rand.Int(rand.Reader, big.NewInt(2)); n != nil && n.Int64() == 1 {
		return board.FirstBlackPlayer
	}
	return board.FirstWhitePlayer
}
