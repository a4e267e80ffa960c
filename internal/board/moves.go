package board

// Occupancy reports the role of the piece standing on pos, or NoRole for an empty cell.
type Occupancy func(pos BoardPos) Role

var (
	kingSteps   = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	rookDirs    = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopDirs  = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	knightSteps = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
)

// LegalDestinations returns the cells a piece of role standing on from may move to, sorted
// row-major. The movement profile is taken from the tile under the piece. It never fails:
// off-board origins and stuck pieces yield an empty result.
func (p *BoardProperties) LegalDestinations(from BoardPos, occ Occupancy, role Role) []BoardPos {
	if !p.Contains(from) || !role.Valid() {
		return nil
	}
	var out []BoardPos
	add := func(to BoardPos) { out = append(out, to) }

	switch p.TileAt(from) {
	case TileKing:
		p.steps(from, kingSteps, occ, role, add)
	case TileKnight:
		p.steps(from, knightSteps, occ, role, add)
	case TileRook:
		p.slide(from, rookDirs, occ, role, add)
	case TileBishop:
		p.slide(from, bishopDirs, occ, role, add)
	case TileQueen:
		p.slide(from, rookDirs, occ, role, add)
		p.slide(from, bishopDirs, occ, role, add)
	case TilePlain:
		p.plain(from, occ, role, add)
	case TileKeizar:
		// destination only
	}
	SortPositions(out)
	return out
}

func (p *BoardProperties) steps(from BoardPos, deltas [][2]int, occ Occupancy, role Role, add func(BoardPos)) {
	for _, d := range deltas {
		to := from.Offset(d[0], d[1])
		if p.Contains(to) && occ(to) != role {
			add(to)
		}
	}
}

// slide walks each direction until the edge or the first occupied cell, which is reachable
// only as a capture.
func (p *BoardProperties) slide(from BoardPos, dirs [][2]int, occ Occupancy, role Role, add func(BoardPos)) {
	for _, d := range dirs {
		for to := from.Offset(d[0], d[1]); p.Contains(to); to = to.Offset(d[0], d[1]) {
			o := occ(to)
			if o == NoRole {
				add(to)
				continue
			}
			if o != role {
				add(to)
			}
			break
		}
	}
}

func (p *BoardProperties) plain(from BoardPos, occ Occupancy, role Role, add func(BoardPos)) {
	dir := p.ForwardDir(role)
	one := from.Offset(dir, 0)
	if p.Contains(one) && occ(one) == NoRole {
		add(one)
		if p.IsHomeRank(role, from.Row) && !p.noDoubleMoveFrom(role, from) {
			two := from.Offset(2*dir, 0)
			if p.Contains(two) && occ(two) == NoRole &&
				p.TileAt(one) == TilePlain && p.TileAt(two) == TilePlain {
				add(two)
			}
		}
	}
	for _, dc := range []int{-1, 1} {
		to := from.Offset(dir, dc)
		if p.Contains(to) && occ(to) == role.Other() {
			add(to)
		}
	}
}

// ContainsPos reports whether list holds pos.
func ContainsPos(list []BoardPos, pos BoardPos) bool {
	for _, q := range list {
		if q == pos {
			return true
		}
	}
	return false
}
