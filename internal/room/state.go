package room

import (
	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/game"
	"github.com/keizars/keizar-go/internal/protocol"
)

// PlayerInfo is a read copy of one seat.
type PlayerInfo struct {
	Username   string                      `json:"username"`
	Allocation board.Player                `json:"allocation"`
	Host       bool                        `json:"host"`
	State      protocol.PlayerSessionState `json:"state"`
}

// State is the closed set of room states. The concrete types are Started, AllConnected,
// Playing and Finished.
type State interface {
	Name() protocol.RoomState
	isState()
}

// Started waits for the second player. The board may still change.
type Started struct {
	Players    []PlayerInfo
	Properties *board.BoardProperties
}

// AllConnected has both players seated and waits for them to be ready.
type AllConnected struct {
	Players    []PlayerInfo
	Properties *board.BoardProperties
}

// Playing owns the authoritative match.
type Playing struct {
	Players    []PlayerInfo
	Properties *board.BoardProperties
	Session    *game.Session
}

// Finished is terminal.
type Finished struct {
	Players []PlayerInfo
}

func (Started) Name() protocol.RoomState      { return protocol.RoomStarted }
func (AllConnected) Name() protocol.RoomState { return protocol.RoomAllConnected }
func (Playing) Name() protocol.RoomState      { return protocol.RoomPlaying }
func (Finished) Name() protocol.RoomState     { return protocol.RoomFinished }

func (Started) isState()      {}
func (AllConnected) isState() {}
func (Playing) isState()      {}
func (Finished) isState()     {}

// stateRank orders room states; transitions only ever increase it.
func stateRank(s protocol.RoomState) int {
	switch s {
	case protocol.RoomStarted:
		return 0
	case protocol.RoomAllConnected:
		return 1
	case protocol.RoomPlaying:
		return 2
	case protocol.RoomFinished:
		return 3
	default:
		return -1
	}
}
