package board

import "math/rand"

// standardTileSet is the per-role set of special tiles. Each role's half of the board gets one.
var standardTileSet = []TileType{
	TileBishop, TileBishop,
	TileKing, TileQueen,
	TileKnight, TileKnight,
	TileRook, TileRook,
}

// StandardTiles places one standardTileSet on each half of the board, everything else is
// plain. The keizar tile is never overwritten. The two bishops of a half always sit on
// opposite square colours.
//
// The arrangement only depends on its arguments: math/rand with an explicit source is
// stable across Go releases, so client and server derive the same board from a seed.
func StandardTiles(seed int64, width, height int, keizar BoardPos) map[BoardPos]TileType {
	r := rand.New(rand.NewSource(seed))
	tiles := map[BoardPos]TileType{keizar: TileKeizar}
	half := height / 2
	placeHalf(r, tiles, halfCells(width, 0, half, keizar))
	placeHalf(r, tiles, halfCells(width, half, height, keizar))
	return tiles
}

func halfCells(width, fromRow, toRow int, keizar BoardPos) []BoardPos {
	cells := make([]BoardPos, 0, width*(toRow-fromRow))
	for row := fromRow; row < toRow; row++ {
		for col := 0; col < width; col++ {
			p := Pos(row, col)
			if p != keizar {
				cells = append(cells, p)
			}
		}
	}
	return cells
}

func placeHalf(r *rand.Rand, tiles map[BoardPos]TileType, cells []BoardPos) {
	if len(cells) == 0 {
		return
	}
	perm := r.Perm(len(cells))
	used := make([]bool, len(cells))
	bishopParity := -1

	// next returns the first unused cell in permutation order whose colour is not avoid.
	next := func(avoid int) (BoardPos, bool) {
		for _, i := range perm {
			if used[i] {
				continue
			}
			c := cells[i]
			if avoid >= 0 && (c.Row+c.Col)%2 == avoid {
				continue
			}
			used[i] = true
			return c, true
		}
		return BoardPos{}, false
	}

	for _, t := range standardTileSet {
		avoid := -1
		if t == TileBishop && bishopParity >= 0 {
			avoid = bishopParity
		}
		c, ok := next(avoid)
		if !ok {
			return
		}
		if t == TileBishop && bishopParity < 0 {
			bishopParity = (c.Row + c.Col) % 2
		}
		tiles[c] = t
	}
}
