package board

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidPos = errors.New("invalid board position")

// BoardPos is a cell on the board. Row 0 is rank 1, column 0 is file "a".
type BoardPos struct {
	Row int
	Col int
}

func Pos(row, col int) BoardPos { return BoardPos{Row: row, Col: col} }

// ParsePos parses the "<file><rank>" form, e.g. "d5".
func ParsePos(s string) (BoardPos, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 {
		return BoardPos{}, fmt.Errorf("%w: %q", ErrInvalidPos, s)
	}
	file := s[0]
	if file < 'a' || file > 'z' {
		return BoardPos{}, fmt.Errorf("%w: %q", ErrInvalidPos, s)
	}
	rank, err := strconv.Atoi(s[1:])
	if err != nil || rank < 1 {
		return BoardPos{}, fmt.Errorf("%w: %q", ErrInvalidPos, s)
	}
	return BoardPos{Row: rank - 1, Col: int(file - 'a')}, nil
}

// MustPos is ParsePos for literals known to be valid.
func MustPos(s string) BoardPos {
	p, err := ParsePos(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p BoardPos) String() string {
	if p.Col < 0 || p.Col > 25 || p.Row < 0 {
		return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
	}
	return string(rune('a'+p.Col)) + strconv.Itoa(p.Row+1)
}

// Index is the row-major flat index of p on a board of the given width.
func (p BoardPos) Index(width int) int { return p.Row*width + p.Col }

// Less orders positions row-major.
func (p BoardPos) Less(o BoardPos) bool {
	if p.Row != o.Row {
		return p.Row < o.Row
	}
	return p.Col < o.Col
}

func (p BoardPos) Offset(dRow, dCol int) BoardPos {
	return BoardPos{Row: p.Row + dRow, Col: p.Col + dCol}
}

func (p BoardPos) InBounds(width, height int) bool {
	return p.Row >= 0 && p.Row < height && p.Col >= 0 && p.Col < width
}

func (p BoardPos) MarshalText() ([]byte, error) {
	if p.Col < 0 || p.Col > 25 || p.Row < 0 {
		return nil, fmt.Errorf("%w: %d,%d", ErrInvalidPos, p.Row, p.Col)
	}
	return []byte(p.String()), nil
}

func (p *BoardPos) UnmarshalText(b []byte) error {
	v, err := ParsePos(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
