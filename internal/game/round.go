package game

import (
	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/rules"
)

// Round is one game to a win condition. It owns the piece arena for that round through its
// engine. A Round is not safe for concurrent use on its own; Session serializes access.
type Round struct {
	no     int
	engine *rules.Engine
}

func newRound(no int, props *board.BoardProperties, historyLimit int) *Round {
	return &Round{no: no, engine: rules.NewEngine(props, historyLimit)}
}

func (r *Round) No() int { return r.no }

func (r *Round) PieceAt(pos board.BoardPos) (rules.Piece, bool) { return r.engine.PieceAt(pos) }

// AvailableTargets is the set of cells the piece on from can reach.
func (r *Round) AvailableTargets(from board.BoardPos) []board.BoardPos {
	return r.engine.ShowPossibleMoves(from)
}

func (r *Round) Move(from, to board.BoardPos) bool  { return r.engine.Move(from, to) }
func (r *Round) Apply(from, to board.BoardPos) bool { return r.engine.Apply(from, to) }
func (r *Round) Undo(role board.Role) bool          { return r.engine.Undo(role) }
func (r *Round) Redo(role board.Role) bool          { return r.engine.Redo(role) }
func (r *Round) Winner() board.Role                 { return r.engine.Winner() }
func (r *Round) WinningCounter() int                { return r.engine.WinningCounter() }
func (r *Round) CurrentRole() board.Role            { return r.engine.CurrentRole() }
func (r *Round) Pieces() []rules.Piece              { return r.engine.Pieces() }

// LostPiecesCount is the number of captured pieces of role.
func (r *Round) LostPiecesCount(role board.Role) int { return r.engine.LostPieces(role) }

// Reset puts the round back at its starting position.
func (r *Round) Reset() { r.engine.Reset() }

// RoundSnapshot is the serializable state of one round.
type RoundSnapshot struct {
	RoundNo int `json:"roundNo"`
	rules.State
}

func (r *Round) Snapshot() RoundSnapshot {
	return RoundSnapshot{RoundNo: r.no, State: r.engine.Snapshot()}
}

func (r *Round) restore(s RoundSnapshot) error { return r.engine.Restore(s.State) }
