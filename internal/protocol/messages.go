package protocol

import (
	"github.com/keizars/keizar-go/internal/board"
)

// UserInfo is the first frame a client sends on a room socket.
type UserInfo struct {
	Username string `json:"username"`
}

// RoomState is the wire name of a room's lifecycle state.
type RoomState string

const (
	RoomStarted      RoomState = "STARTED"
	RoomAllConnected RoomState = "ALL_CONNECTED"
	RoomPlaying      RoomState = "PLAYING"
	RoomFinished     RoomState = "FINISHED"
)

// PlayerSessionState is the wire name of one player's connection state.
type PlayerSessionState string

const (
	PlayerStarted      PlayerSessionState = "STARTED"
	PlayerReady        PlayerSessionState = "READY"
	PlayerPlaying      PlayerSessionState = "PLAYING"
	PlayerDisconnected PlayerSessionState = "DISCONNECTED"
	PlayerTerminating  PlayerSessionState = "TERMINATING"
)

// Request is a client -> server message.
type Request interface{ requestType() string }

// Respond is a server -> client message.
type Respond interface{ respondType() string }

// Move travels both ways: clients send it, the room relays accepted moves verbatim.
type Move struct {
	From board.BoardPos `json:"from"`
	To   board.BoardPos `json:"to"`
}

// ConfirmNextRound travels both ways like Move.
type ConfirmNextRound struct{}

type SetReady struct{}

// ChangeBoard carries a BoardProperties JSON document. Only the host may send it.
type ChangeBoard struct {
	BoardPropertiesJSON string `json:"boardPropertiesJson"`
}

type Exit struct{}

type PlayerStateChange struct {
	Username string             `json:"username"`
	NewState PlayerSessionState `json:"newState"`
}

type RoomStateChange struct {
	NewState RoomState `json:"newState"`
}

// RemoteSessionSetup tells a (re)connecting player who it is and what the match looks like.
type RemoteSessionSetup struct {
	PlayerAllocation board.Player `json:"playerAllocation"`
	GameSnapshotJSON string       `json:"gameSnapshotJson"`
}

const (
	typeMove               = "Move"
	typeConfirmNextRound   = "ConfirmNextRound"
	typeSetReady           = "SetReady"
	typeChangeBoard        = "ChangeBoard"
	typeExit               = "Exit"
	typePlayerStateChange  = "PlayerStateChange"
	typeRoomStateChange    = "RoomStateChange"
	typeRemoteSessionSetup = "RemoteSessionSetup"
)

func (Move) requestType() string             { return typeMove }
func (ConfirmNextRound) requestType() string { return typeConfirmNextRound }
func (SetReady) requestType() string         { return typeSetReady }
func (ChangeBoard) requestType() string      { return typeChangeBoard }
func (Exit) requestType() string             { return typeExit }

func (Move) respondType() string               { return typeMove }
func (ConfirmNextRound) respondType() string   { return typeConfirmNextRound }
func (PlayerStateChange) respondType() string  { return typePlayerStateChange }
func (RoomStateChange) respondType() string    { return typeRoomStateChange }
func (RemoteSessionSetup) respondType() string { return typeRemoteSessionSetup }

// RoomInfo is the body of GET /room/{roomNo}.
type RoomInfo struct {
	RoomNumber  uint64                 `json:"roomNumber"`
	State       RoomState              `json:"state"`
	PlayerCount int                    `json:"playerCount"`
	Properties  *board.BoardProperties `json:"properties,omitempty"`
}
