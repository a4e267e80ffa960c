package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidProperties = errors.New("invalid board properties")

const (
	StandardWidth       = 8
	StandardHeight      = 8
	DefaultWinningCount = 3
	DefaultRounds       = 2
	standardKeizarTile  = "d5"
	maxBoardSide        = 26
	maxRounds           = 16
	maxWinningCount     = 64
)

// BoardProperties is everything two peers need to reconstruct an identical board.
type BoardProperties struct {
	Width             int                   `json:"width"`
	Height            int                   `json:"height"`
	KeizarTilePos     BoardPos              `json:"keizarTilePos"`
	WinningCount      int                   `json:"winningCount"`
	StartingRole      Role                  `json:"startingRole"`
	Rounds            int                   `json:"rounds"`
	Seed              int64                 `json:"seed"`
	PiecesStartingPos map[Role][]BoardPos   `json:"piecesStartingPos"`
	NoDoubleMove      map[Role][]BoardPos   `json:"noDoubleMove"`
	Tiles             map[BoardPos]TileType `json:"tiles"`
}

// StandardProperties builds the 8x8 board for seed. The same seed always yields the same board.
func StandardProperties(seed int64) *BoardProperties {
	keizar := MustPos(standardKeizarTile)
	p := &BoardProperties{
		Width:         StandardWidth,
		Height:        StandardHeight,
		KeizarTilePos: keizar,
		WinningCount:  DefaultWinningCount,
		StartingRole:  White,
		Rounds:        DefaultRounds,
		Seed:          seed,
		PiecesStartingPos: map[Role][]BoardPos{
			White: rowsOf(StandardWidth, 0, 1),
			Black: rowsOf(StandardWidth, StandardHeight-2, StandardHeight-1),
		},
	}
	p.NoDoubleMove = p.deriveNoDoubleMove()
	p.Tiles = StandardTiles(seed, p.Width, p.Height, keizar)
	return p
}

func rowsOf(width int, rows ...int) []BoardPos {
	out := make([]BoardPos, 0, width*len(rows))
	for _, r := range rows {
		for c := 0; c < width; c++ {
			out = append(out, Pos(r, c))
		}
	}
	return out
}

// deriveNoDoubleMove disables the two-step plain move from the home-rank cell that would
// land on the Keizar tile.
func (p *BoardProperties) deriveNoDoubleMove() map[Role][]BoardPos {
	out := map[Role][]BoardPos{White: {}, Black: {}}
	for _, role := range []Role{White, Black} {
		from := p.KeizarTilePos.Offset(-2*p.ForwardDir(role), 0)
		if from.InBounds(p.Width, p.Height) && p.IsHomeRank(role, from.Row) {
			out[role] = append(out[role], from)
		}
	}
	return out
}

// TileAt returns the tile type of pos. Cells without an explicit entry are plain.
func (p *BoardProperties) TileAt(pos BoardPos) TileType {
	if pos == p.KeizarTilePos {
		return TileKeizar
	}
	if t, ok := p.Tiles[pos]; ok {
		return t
	}
	return TilePlain
}

// ForwardDir is the row delta of one plain step for role.
func (p *BoardProperties) ForwardDir(role Role) int {
	if role == Black {
		return -1
	}
	return 1
}

// IsHomeRank reports whether row is one of role's two home ranks.
func (p *BoardProperties) IsHomeRank(role Role, row int) bool {
	if role == Black {
		return row == p.Height-1 || row == p.Height-2
	}
	return row == 0 || row == 1
}

func (p *BoardProperties) noDoubleMoveFrom(role Role, pos BoardPos) bool {
	for _, q := range p.NoDoubleMove[role] {
		if q == pos {
			return true
		}
	}
	return false
}

// Contains reports whether pos lies on the board.
func (p *BoardProperties) Contains(pos BoardPos) bool { return pos.InBounds(p.Width, p.Height) }

// Validate checks the properties describe a playable board.
func (p *BoardProperties) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil", ErrInvalidProperties)
	}
	if p.Width <= 0 || p.Height <= 0 || p.Width > maxBoardSide || p.Height > maxBoardSide {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidProperties, p.Width, p.Height)
	}
	if !p.Contains(p.KeizarTilePos) {
		return fmt.Errorf("%w: keizar tile %s off board", ErrInvalidProperties, p.KeizarTilePos)
	}
	if p.WinningCount <= 0 || p.WinningCount > maxWinningCount {
		return fmt.Errorf("%w: winning count %d", ErrInvalidProperties, p.WinningCount)
	}
	if p.Rounds <= 0 || p.Rounds > maxRounds {
		return fmt.Errorf("%w: rounds %d", ErrInvalidProperties, p.Rounds)
	}
	if !p.StartingRole.Valid() {
		return fmt.Errorf("%w: starting role %q", ErrInvalidProperties, p.StartingRole)
	}
	seen := make(map[BoardPos]bool)
	for role, list := range p.PiecesStartingPos {
		if !role.Valid() {
			return fmt.Errorf("%w: role %q", ErrInvalidProperties, role)
		}
		for _, pos := range list {
			if !p.Contains(pos) {
				return fmt.Errorf("%w: piece %s off board", ErrInvalidProperties, pos)
			}
			if seen[pos] {
				return fmt.Errorf("%w: two pieces start on %s", ErrInvalidProperties, pos)
			}
			seen[pos] = true
		}
	}
	for pos, t := range p.Tiles {
		if !p.Contains(pos) || !t.Valid() {
			return fmt.Errorf("%w: tile %s=%s", ErrInvalidProperties, pos, t)
		}
		if t == TileKeizar && pos != p.KeizarTilePos {
			return fmt.Errorf("%w: second keizar tile at %s", ErrInvalidProperties, pos)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *BoardProperties) Clone() *BoardProperties {
	if p == nil {
		return nil
	}
	c := *p
	c.PiecesStartingPos = clonePosMap(p.PiecesStartingPos)
	c.NoDoubleMove = clonePosMap(p.NoDoubleMove)
	if p.Tiles != nil {
		c.Tiles = make(map[BoardPos]TileType, len(p.Tiles))
		for k, v := range p.Tiles {
			c.Tiles[k] = v
		}
	}
	return &c
}

func clonePosMap(m map[Role][]BoardPos) map[Role][]BoardPos {
	if m == nil {
		return nil
	}
	out := make(map[Role][]BoardPos, len(m))
	for k, v := range m {
		out[k] = append(make([]BoardPos, 0, len(v)), v...)
	}
	return out
}

// MarshalJSON always writes tiles and noDoubleMove. A nil map means "none" in process, so it
// goes out as {} and is not mistaken for an absent field by the peer.
func (p BoardProperties) MarshalJSON() ([]byte, error) {
	type alias BoardProperties
	a := alias(p)
	if a.Tiles == nil {
		a.Tiles = map[BoardPos]TileType{}
	}
	if a.NoDoubleMove == nil {
		a.NoDoubleMove = map[Role][]BoardPos{}
	}
	return json.Marshal(a)
}

// UnmarshalJSON re-derives the tile arrangement from the seed when the payload omits it or
// sends null. An explicit {} is kept: an all-plain board.
func (p *BoardProperties) UnmarshalJSON(b []byte) error {
	type alias BoardProperties
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = BoardProperties(a)
	// Deriving runs before Validate, so oversized boards are left for Validate to reject.
	sized := p.Width > 0 && p.Height > 0 && p.Width <= maxBoardSide && p.Height <= maxBoardSide
	if p.Tiles == nil && sized && p.Contains(p.KeizarTilePos) {
		p.Tiles = StandardTiles(p.Seed, p.Width, p.Height, p.KeizarTilePos)
	}
	if p.NoDoubleMove == nil && sized {
		p.NoDoubleMove = p.deriveNoDoubleMove()
	}
	return nil
}

// ParseProperties decodes and validates a BoardProperties JSON document.
func ParseProperties(data []byte) (*BoardProperties, error) {
	var p BoardProperties
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperties, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// SortPositions sorts in place, row-major.
func SortPositions(list []BoardPos) {
	sort.Slice(list, func(i, j int) bool { return list[i].Less(list[j]) })
}
