package game

import (
	"errors"
	"fmt"
	"sync"

	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/rules"
)

var ErrInvalidSnapshot = errors.New("invalid game snapshot")

// Options tunes a Session. The zero value is usable.
type Options struct {
	// HistoryLimit caps undo per round; non-positive means rules.DefaultHistoryLimit.
	HistoryLimit int
}

// Session is a match of a fixed number of rounds between two players. All methods are safe for
// concurrent use; moves from both peers are serialized on one mutex.
type Session struct {
	mu        sync.Mutex
	props     *board.BoardProperties
	opts      Options
	rounds    []*Round
	current   int
	confirmed map[board.Player]bool

	subs   map[int]chan Event
	nextID int
}

func NewSession(props *board.BoardProperties, opts Options) *Session {
	s := &Session{
		props:     props,
		opts:      opts,
		confirmed: make(map[board.Player]bool, 2),
		subs:      make(map[int]chan Event),
	}
	n := props.Rounds
	if n <= 0 {
		n = board.DefaultRounds
	}
	for i := 0; i < n; i++ {
		s.rounds = append(s.rounds, newRound(i, props, opts.HistoryLimit))
	}
	return s
}

func (s *Session) Properties() *board.BoardProperties { return s.props }
func (s *Session) RoundCount() int                    { return len(s.rounds) }

func (s *Session) CurrentRoundNo() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// RoleOf maps a player to its role in roundNo. Even rounds keep the starting allocation
// (FirstWhitePlayer plays White), odd rounds invert it.
func RoleOf(player board.Player, roundNo int) board.Role {
	var role board.Role
	switch player {
	case board.FirstWhitePlayer:
		role = board.White
	case board.FirstBlackPlayer:
		role = board.Black
	default:
		return board.NoRole
	}
	if roundNo%2 == 1 {
		role = role.Other()
	}
	return role
}

// PlayerOf is the inverse of RoleOf.
func PlayerOf(role board.Role, roundNo int) board.Player {
	for _, p := range board.Players() {
		if RoleOf(p, roundNo) == role {
			return p
		}
	}
	return board.NoPlayer
}

// Role is RoleOf for the current round.
func (s *Session) Role(player board.Player) board.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RoleOf(player, s.current)
}

// CurrentTurn is the player whose role is to move in the current round.
func (s *Session) CurrentTurn() board.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rounds[s.current]
	return PlayerOf(r.CurrentRole(), s.current)
}

func (s *Session) CurrentRole() board.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[s.current].CurrentRole()
}

// Move applies from->to in the current round for whichever role is to move.
func (s *Session) Move(from, to board.BoardPos) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(from, to)
}

// MoveAs is Move restricted to player: it fails when it is not player's turn.
func (s *Session) MoveAs(player board.Player, from, to board.BoardPos) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if RoleOf(player, s.current) != s.rounds[s.current].CurrentRole() {
		return false
	}
	return s.moveLocked(from, to)
}

func (s *Session) moveLocked(from, to board.BoardPos) bool {
	if !s.rounds[s.current].Move(from, to) {
		return false
	}
	s.publishLocked(EventMove)
	return true
}

// ApplyTrusted applies a move relayed by an authoritative peer without validating it.
func (s *Session) ApplyTrusted(from, to board.BoardPos) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rounds[s.current].Apply(from, to) {
		return false
	}
	s.publishLocked(EventMove)
	return true
}

func (s *Session) Undo(player board.Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rounds[s.current].Undo(RoleOf(player, s.current)) {
		return false
	}
	s.publishLocked(EventUndo)
	return true
}

func (s *Session) Redo(player board.Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rounds[s.current].Redo(RoleOf(player, s.current)) {
		return false
	}
	s.publishLocked(EventRedo)
	return true
}

func (s *Session) AvailableTargets(from board.BoardPos) []board.BoardPos {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[s.current].AvailableTargets(from)
}

// CurrentRoundPieces is a read copy of the current round's arena.
func (s *Session) CurrentRoundPieces() []rules.Piece {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[s.current].Pieces()
}

func (s *Session) PieceAt(pos board.BoardPos) (rules.Piece, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[s.current].PieceAt(pos)
}

// Winner is the winning role of the current round.
func (s *Session) Winner() board.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[s.current].Winner()
}

func (s *Session) WinningCounter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[s.current].WinningCounter()
}

func (s *Session) LostPiecesCount(role board.Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[s.current].LostPiecesCount(role)
}

// RoundWinner is the player that won roundNo, NoPlayer while it is undecided.
func (s *Session) RoundWinner(roundNo int) board.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundWinnerLocked(roundNo)
}

func (s *Session) roundWinnerLocked(roundNo int) board.Player {
	if roundNo < 0 || roundNo >= len(s.rounds) {
		return board.NoPlayer
	}
	role := s.rounds[roundNo].Winner()
	if role == board.NoRole {
		return board.NoPlayer
	}
	return PlayerOf(role, roundNo)
}

// WonRounds counts the rounds player has won so far.
func (s *Session) WonRounds(player board.Player) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.rounds {
		if s.roundWinnerLocked(i) == player {
			n++
		}
	}
	return n
}

// ConfirmNextRound records that player wants to move on. It fails before the current round is
// decided and for a player that already confirmed. The round advances once both players have
// confirmed; on the last round confirmations are only recorded.
func (s *Session) ConfirmNextRound(player board.Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !player.Valid() || s.confirmed[player] {
		return false
	}
	if s.rounds[s.current].Winner() == board.NoRole {
		return false
	}
	s.confirmed[player] = true
	if len(s.confirmed) == 2 && s.current+1 < len(s.rounds) {
		s.current++
		s.confirmed = make(map[board.Player]bool, 2)
		s.publishLocked(EventRoundAdvance)
		return true
	}
	s.publishLocked(EventConfirm)
	return true
}

func (s *Session) Confirmed(player board.Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed[player]
}

// ResultKind distinguishes the outcomes of a match.
type ResultKind string

const (
	ResultUndecided ResultKind = ""
	ResultDraw      ResultKind = "DRAW"
	ResultWinner    ResultKind = "WINNER"
)

// Result is the match outcome. Player is set only for ResultWinner.
type Result struct {
	Kind   ResultKind   `json:"kind"`
	Player board.Player `json:"player,omitempty"`
}

// FinalWinner is undecided until every round has a winner. Wins are counted per player, not
// per role.
func (s *Session) FinalWinner() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	wins := make(map[board.Player]int, 2)
	for i := range s.rounds {
		p := s.roundWinnerLocked(i)
		if p == board.NoPlayer {
			return Result{}
		}
		wins[p]++
	}
	a, b := wins[board.FirstWhitePlayer], wins[board.FirstBlackPlayer]
	switch {
	case a == b:
		return Result{Kind: ResultDraw}
	case a > b:
		return Result{Kind: ResultWinner, Player: board.FirstWhitePlayer}
	default:
		return Result{Kind: ResultWinner, Player: board.FirstBlackPlayer}
	}
}

// ReplayCurrentRound restarts the current round from its initial position.
func (s *Session) ReplayCurrentRound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[s.current].Reset()
	s.confirmed = make(map[board.Player]bool, 2)
	s.publishLocked(EventReplay)
}

// ReplayGame restarts the whole match at round 0.
func (s *Session) ReplayGame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rounds {
		r.Reset()
	}
	s.current = 0
	s.confirmed = make(map[board.Player]bool, 2)
	s.publishLocked(EventReplay)
}

// GameSnapshot is the serializable state of a Session.
type GameSnapshot struct {
	Properties     *board.BoardProperties `json:"properties"`
	Rounds         []RoundSnapshot        `json:"rounds"`
	CurrentRoundNo int                    `json:"currentRoundNo"`
	Confirmed      []board.Player         `json:"confirmed,omitempty"`
}

func (s *Session) Snapshot() GameSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := GameSnapshot{Properties: s.props.Clone(), CurrentRoundNo: s.current}
	for _, r := range s.rounds {
		snap.Rounds = append(snap.Rounds, r.Snapshot())
	}
	for _, p := range board.Players() {
		if s.confirmed[p] {
			snap.Confirmed = append(snap.Confirmed, p)
		}
	}
	return snap
}

// Restore replaces the match state with snap, which must come from a session on the same board.
// On error the session is unchanged.
func (s *Session) Restore(snap GameSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(snap.Rounds) != len(s.rounds) {
		return fmt.Errorf("%w: %d rounds, want %d", ErrInvalidSnapshot, len(snap.Rounds), len(s.rounds))
	}
	if snap.CurrentRoundNo < 0 || snap.CurrentRoundNo >= len(s.rounds) {
		return fmt.Errorf("%w: round %d", ErrInvalidSnapshot, snap.CurrentRoundNo)
	}
	staged := make([]*Round, len(s.rounds))
	for i, rs := range snap.Rounds {
		if rs.RoundNo != i {
			return fmt.Errorf("%w: round %d out of order", ErrInvalidSnapshot, rs.RoundNo)
		}
		r := newRound(i, s.props, s.opts.HistoryLimit)
		if err := r.restore(rs); err != nil {
			return fmt.Errorf("%w: round %d: %v", ErrInvalidSnapshot, i, err)
		}
		staged[i] = r
	}
	s.rounds = staged
	s.current = snap.CurrentRoundNo
	s.confirmed = make(map[board.Player]bool, 2)
	for _, p := range snap.Confirmed {
		if p.Valid() {
			s.confirmed[p] = true
		}
	}
	s.publishLocked(EventRestore)
	return nil
}

// RestoreSession builds a Session from a snapshot alone, using the board it carries.
func RestoreSession(snap GameSnapshot, opts Options) (*Session, error) {
	if snap.Properties == nil {
		return nil, fmt.Errorf("%w: missing properties", ErrInvalidSnapshot)
	}
	if err := snap.Properties.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	s := NewSession(snap.Properties.Clone(), opts)
	if err := s.Restore(snap); err != nil {
		return nil, err
	}
	return s, nil
}
