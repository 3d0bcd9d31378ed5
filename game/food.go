package game

import "github.com/brensch/capture/maze"

// Grid is an immutable boolean board. With returns a new grid that shares
// every column except the one it changed.
type Grid struct {
	width  int
	height int
	cols   [][]bool
	count  int
}

func NewGrid(width, height int, set []maze.Cell) *Grid {
	g := &Grid{width: width, height: height, cols: make([][]bool, width)}
	for x := range g.cols {
		g.cols[x] = make([]bool, height)
	}
	for _, c := range set {
		if g.inBounds(c) && !g.cols[c.X][c.Y] {
			g.cols[c.X][c.Y] = true
			g.count++
		}
	}
	return g
}

func (g *Grid) inBounds(c maze.Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.width && c.Y < g.height
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }
func (g *Grid) Count() int  { return g.count }

// Get reports whether c is set. Off-board cells are never set.
func (g *Grid) Get(c maze.Cell) bool {
	return g.inBounds(c) && g.cols[c.X][c.Y]
}

// With returns g with c set to v.
func (g *Grid) With(c maze.Cell, v bool) *Grid {
	if !g.inBounds(c) || g.cols[c.X][c.Y] == v {
		return g
	}
	next := &Grid{width: g.width, height: g.height, cols: append([][]bool(nil), g.cols...), count: g.count}
	col := append([]bool(nil), g.cols[c.X]...)
	col[c.Y] = v
	next.cols[c.X] = col
	if v {
		next.count++
	} else {
		next.count--
	}
	return next
}

// Cells lists the set cells, column by column.
func (g *Grid) Cells() []maze.Cell {
	out := make([]maze.Cell, 0, g.count)
	for x, col := range g.cols {
		for y, v := range col {
			if v {
				out = append(out, maze.Cell{X: x, Y: y})
			}
		}
	}
	return out
}

