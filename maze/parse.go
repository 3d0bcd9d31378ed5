package maze

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrBadLayout = errors.New("bad layout")

// Start is one agent spawn point from a layout.
type Start struct {
	Cell Cell
	Red  bool
}

// Layout is everything a match needs from a layout file.
type Layout struct {
	Name     string
	Maze     *Maze
	Food     []Cell
	Capsules []Cell
	Starts   []Start

	// Text is the layout as read, top row first. Kept for replays.
	Text []string
}

// TotalFood is the number of food cells the layout starts with.
func (l *Layout) TotalFood() int { return len(l.Food) }

// Parse reads layout text. Each character is one cell:
//
//	% wall   . food   o capsule   P G 1-4 agent starts
//
// Anything else is open floor. The first text row is the top of the board
// (maximum y). Starts are ordered by their agent number ('P' is 0, 'G' is 1)
// and then by position.
func Parse(name, text string) (*Layout, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		rows = append(rows, l)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrBadLayout, name)
	}

	width, height := len(rows[0]), len(rows)
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("%w: %s row %d has width %d want %d", ErrBadLayout, name, i, len(r), width)
		}
	}

	type numbered struct {
		n    int
		cell Cell
	}
	var (
		walls    []Cell
		food     []Cell
		capsules []Cell
		starts   []numbered
	)
	maxY := height - 1
	for y := 0; y < height; y++ {
		row := rows[maxY-y]
		for x := 0; x < width; x++ {
			c := Cell{X: x, Y: y}
			switch ch := row[x]; ch {
			case '%':
				walls = append(walls, c)
			case '.':
				food = append(food, c)
			case 'o':
				capsules = append(capsules, c)
			case 'P':
				starts = append(starts, numbered{n: 0, cell: c})
			case 'G':
				starts = append(starts, numbered{n: 1, cell: c})
			case '1', '2', '3', '4':
				starts = append(starts, numbered{n: int(ch - '0'), cell: c})
			}
		}
	}

	sort.Slice(starts, func(i, j int) bool {
		a, b := starts[i], starts[j]
		if a.n != b.n {
			return a.n < b.n
		}
		if a.cell.X != b.cell.X {
			return a.cell.X < b.cell.X
		}
		return a.cell.Y < b.cell.Y
	})

	m := New(width, height, walls)
	l := &Layout{
		Name:     name,
		Maze:     m,
		Food:     food,
		Capsules: capsules,
		Text:     rows,
	}
	for _, s := range starts {
		l.Starts = append(l.Starts, Start{Cell: s.cell, Red: m.IsRedSide(float64(s.cell.X))})
	}
	return l, nil
}

// String renders the layout text back, top row first.
func (l *Layout) String() string { return strings.Join(l.Text, "\n") }
