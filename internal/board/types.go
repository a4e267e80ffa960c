package board

// TileType is the movement profile of a board cell. It belongs to the cell, not to the piece
// standing on it.
type TileType string

const (
	TileKing   TileType = "KING"
	TileQueen  TileType = "QUEEN"
	TileBishop TileType = "BISHOP"
	TileKnight TileType = "KNIGHT"
	TileRook   TileType = "ROOK"
	TileKeizar TileType = "KEIZAR"
	TilePlain  TileType = "PLAIN"
)

func (t TileType) Valid() bool {
	switch t {
	case TileKing, TileQueen, TileBishop, TileKnight, TileRook, TileKeizar, TilePlain:
		return true
	default:
		return false
	}
}

// Role is the side a piece belongs to within one round.
type Role string

const (
	NoRole Role = ""
	White  Role = "WHITE"
	Black  Role = "BLACK"
)

func (r Role) Other() Role {
	switch r {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoRole
	}
}

func (r Role) Valid() bool { return r == White || r == Black }

// Player is a stable per-match identity. Its Role flips between rounds.
type Player string

const (
	NoPlayer         Player = ""
	FirstWhitePlayer Player = "FirstWhitePlayer"
	FirstBlackPlayer Player = "FirstBlackPlayer"
)

func (p Player) Other() Player {
	switch p {
	case FirstWhitePlayer:
		return FirstBlackPlayer
	case FirstBlackPlayer:
		return FirstWhitePlayer
	default:
		return NoPlayer
	}
}

func (p Player) Valid() bool { return p == FirstWhitePlayer || p == FirstBlackPlayer }

// Players lists both identities in a fixed order.
func Players() []Player { return []Player{FirstWhitePlayer, FirstBlackPlayer} }
