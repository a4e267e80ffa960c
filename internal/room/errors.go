package room

// Errors
var (
	ErrRoomFull     = errf("room already has two players")
	ErrRoomNotFound = errf("room not found")
	ErrRoomExists   = errf("room already exists")
	ErrRoomFinished = errf("room is finished")
	ErrTooManyRooms = errf("too many rooms")
	ErrInvalidUser  = errf("invalid user")
	ErrNotHost      = errf("only the host may change the board")
	ErrBoardLocked  = errf("board can no longer change")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
