package rules

import (
	"errors"
	"fmt"

	"github.com/keizars/keizar-go/internal/board"
)

var ErrInvalidState = errors.New("invalid engine state")

// DefaultHistoryLimit bounds the undo timeline when the caller passes a non-positive limit.
const DefaultHistoryLimit = 256

// Piece is one entry of a round's piece arena. Index is stable for the whole round;
// captured pieces keep their slot so undo can bring them back.
type Piece struct {
	Index    int            `json:"index"`
	Role     board.Role     `json:"role"`
	Pos      board.BoardPos `json:"pos"`
	Captured bool           `json:"captured"`
}

// State is a serializable capture of everything Move depends on.
type State struct {
	Pieces         []Piece    `json:"pieces"`
	CurrentRole    board.Role `json:"currentRole"`
	Winner         board.Role `json:"winner,omitempty"`
	WinningCounter int        `json:"winningCounter"`
}

func (s State) clone() State {
	s.Pieces = append([]Piece(nil), s.Pieces...)
	return s
}

// Engine enforces turn order, applies moves and tracks the Keizar countdown for one round.
// It is not safe for concurrent use; owners serialize access.
type Engine struct {
	props   *board.BoardProperties
	pieces  []Piece
	grid    map[board.BoardPos]int
	current board.Role
	winner  board.Role
	counter int

	timeline timeline
}

// NewEngine sets up the starting position of props. historyLimit caps how many plies can be undone.
func NewEngine(props *board.BoardProperties, historyLimit int) *Engine {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	e := &Engine{props: props, timeline: timeline{limit: historyLimit}}
	e.load(InitialState(props))
	e.timeline.reset(e.state())
	return e
}

// InitialState is the starting position of props: white pieces first, then black, each in
// row-major order.
func InitialState(props *board.BoardProperties) State {
	st := State{CurrentRole: props.StartingRole}
	for _, role := range []board.Role{board.White, board.Black} {
		list := append([]board.BoardPos(nil), props.PiecesStartingPos[role]...)
		board.SortPositions(list)
		for _, pos := range list {
			st.Pieces = append(st.Pieces, Piece{Index: len(st.Pieces), Role: role, Pos: pos})
		}
	}
	return st
}

func (e *Engine) load(st State) {
	e.pieces = append(e.pieces[:0], st.Pieces...)
	e.grid = make(map[board.BoardPos]int, len(e.pieces))
	for _, p := range e.pieces {
		if !p.Captured {
			e.grid[p.Pos] = p.Index
		}
	}
	e.current = st.CurrentRole
	e.winner = st.Winner
	e.counter = st.WinningCounter
}

func (e *Engine) state() State {
	return State{
		Pieces:         append([]Piece(nil), e.pieces...),
		CurrentRole:    e.current,
		Winner:         e.winner,
		WinningCounter: e.counter,
	}
}

func (e *Engine) Properties() *board.BoardProperties { return e.props }
func (e *Engine) CurrentRole() board.Role            { return e.current }

// Winner is NoRole while the round is undecided.
func (e *Engine) Winner() board.Role  { return e.winner }
func (e *Engine) WinningCounter() int { return e.counter }

// Occupant returns the role of the live piece on pos.
func (e *Engine) Occupant(pos board.BoardPos) board.Role {
	if i, ok := e.grid[pos]; ok {
		return e.pieces[i].Role
	}
	return board.NoRole
}

// PieceAt returns the live piece on pos.
func (e *Engine) PieceAt(pos board.BoardPos) (Piece, bool) {
	i, ok := e.grid[pos]
	if !ok {
		return Piece{}, false
	}
	return e.pieces[i], true
}

// Pieces returns a copy of the arena, captured pieces included.
func (e *Engine) Pieces() []Piece { return append([]Piece(nil), e.pieces...) }

// LostPieces counts the captured pieces of role.
func (e *Engine) LostPieces(role board.Role) int {
	n := 0
	for _, p := range e.pieces {
		if p.Role == role && p.Captured {
			n++
		}
	}
	return n
}

// ShowPossibleMoves lists the destinations of the piece on from for its own role. It is empty
// once the round has a winner.
func (e *Engine) ShowPossibleMoves(from board.BoardPos) []board.BoardPos {
	if e.winner != board.NoRole {
		return nil
	}
	i, ok := e.grid[from]
	if !ok {
		return nil
	}
	return e.props.LegalDestinations(from, e.Occupant, e.pieces[i].Role)
}

// Move applies from->to for the role to move. It reports false without touching any state when
// the round is over, from holds no piece of the current role or to is not a legal destination.
func (e *Engine) Move(from, to board.BoardPos) bool {
	if e.winner != board.NoRole {
		return false
	}
	i, ok := e.grid[from]
	if !ok || e.pieces[i].Role != e.current {
		return false
	}
	if !board.ContainsPos(e.props.LegalDestinations(from, e.Occupant, e.current), to) {
		return false
	}
	e.apply(i, to)
	return true
}

// Apply performs from->to for the piece on from without checking turn order or legality.
// It is meant for mirrors of an authoritative engine; only a missing piece, an off-board
// destination or a decided round make it report false.
func (e *Engine) Apply(from, to board.BoardPos) bool {
	if e.winner != board.NoRole || !e.props.Contains(to) || from == to {
		return false
	}
	i, ok := e.grid[from]
	if !ok {
		return false
	}
	e.apply(i, to)
	return true
}

func (e *Engine) apply(i int, to board.BoardPos) {
	from := e.pieces[i].Pos
	mover := e.pieces[i].Role
	keizar := e.props.KeizarTilePos
	before := e.Occupant(keizar)

	if j, hit := e.grid[to]; hit {
		e.pieces[j].Captured = true
	}
	delete(e.grid, from)
	e.pieces[i].Pos = to
	e.grid[to] = i

	after := e.Occupant(keizar)
	switch {
	case after == board.NoRole || after != before:
		e.counter = 0
	case mover != after:
		e.counter++
	}
	if after != board.NoRole && e.counter >= e.props.WinningCount {
		e.winner = after
	}

	e.current = mover.Other()
	if e.winner == board.NoRole && !e.hasAnyMove(e.current) {
		e.resolveStuck(mover)
	}
	e.timeline.push(mover, e.state())
}

// resolveStuck handles the side to move having no legal move. Holding the Keizar tile skips
// its turn so the countdown goes on; otherwise the mover wins.
func (e *Engine) resolveStuck(mover board.Role) {
	stuck := e.current
	if e.Occupant(e.props.KeizarTilePos) != stuck {
		e.winner = mover
		return
	}
	e.current = mover
	if !e.hasAnyMove(mover) {
		e.winner = stuck
	}
}

func (e *Engine) hasAnyMove(role board.Role) bool {
	for _, p := range e.pieces {
		if p.Captured || p.Role != role {
			continue
		}
		if len(e.props.LegalDestinations(p.Pos, e.Occupant, role)) > 0 {
			return true
		}
	}
	return false
}

// Undo takes back the last ply of role together with every opponent ply after it, returning
// control to role. Only the role to move may undo, and not after the round is decided.
func (e *Engine) Undo(role board.Role) bool {
	if e.winner != board.NoRole || role != e.current {
		return false
	}
	st, ok := e.timeline.undo(role)
	if !ok {
		return false
	}
	e.load(st)
	return true
}

// Redo replays what the matching Undo took back.
func (e *Engine) Redo(role board.Role) bool {
	if e.winner != board.NoRole || role != e.current {
		return false
	}
	st, ok := e.timeline.redo(role)
	if !ok {
		return false
	}
	e.load(st)
	return true
}

func (e *Engine) CanUndo(role board.Role) bool {
	return e.winner == board.NoRole && role == e.current && e.timeline.canUndo(role)
}

func (e *Engine) CanRedo(role board.Role) bool {
	return e.winner == board.NoRole && role == e.current && e.timeline.canRedo(role)
}

// Snapshot captures the current position. Undo history is not part of it.
func (e *Engine) Snapshot() State { return e.state() }

// Restore replaces the position with st and clears the undo history.
func (e *Engine) Restore(st State) error {
	if err := e.validate(st); err != nil {
		return err
	}
	e.load(st.clone())
	e.timeline.reset(e.state())
	return nil
}

// Reset returns to the starting position of the board.
func (e *Engine) Reset() {
	e.load(InitialState(e.props))
	e.timeline.reset(e.state())
}

func (e *Engine) validate(st State) error {
	if !st.CurrentRole.Valid() {
		return fmt.Errorf("%w: current role %q", ErrInvalidState, st.CurrentRole)
	}
	if st.Winner != board.NoRole && !st.Winner.Valid() {
		return fmt.Errorf("%w: winner %q", ErrInvalidState, st.Winner)
	}
	if st.WinningCounter < 0 {
		return fmt.Errorf("%w: counter %d", ErrInvalidState, st.WinningCounter)
	}
	want := InitialState(e.props).Pieces
	if len(st.Pieces) != len(want) {
		return fmt.Errorf("%w: %d pieces, want %d", ErrInvalidState, len(st.Pieces), len(want))
	}
	seen := make(map[board.BoardPos]bool, len(st.Pieces))
	for i, p := range st.Pieces {
		if p.Index != i || p.Role != want[i].Role {
			return fmt.Errorf("%w: piece %d identity changed", ErrInvalidState, i)
		}
		if !e.props.Contains(p.Pos) {
			return fmt.Errorf("%w: piece %d at %s off board", ErrInvalidState, i, p.Pos)
		}
		if p.Captured {
			continue
		}
		if seen[p.Pos] {
			return fmt.Errorf("%w: two pieces on %s", ErrInvalidState, p.Pos)
		}
		seen[p.Pos] = true
	}
	return nil
}
