// Package maze holds the static board: the wall grid, its content key and the
// layout text format that produces it.
//
// A Maze is immutable once built and is safe to share between matches and
// goroutines.
package maze

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

type Maze struct {
	Width  int
	Height int

	walls []bool // indexed x*Height + y
	key   uint64
}

// New builds a maze of the given size with walls at the listed cells.
// Cells outside the board are ignored.
func New(width, height int, walls []Cell) *Maze {
	m := &Maze{
		Width:  width,
		Height: height,
		walls:  make([]bool, width*height),
	}
	for _, c := range walls {
		if m.InBounds(c) {
			m.walls[m.index(c)] = true
		}
	}
	m.key = m.computeKey()
	return m
}

func (m *Maze) index(c Cell) int { return c.X*m.Height + c.Y }

func (m *Maze) InBounds(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < m.Width && c.Y < m.Height
}

// IsWall reports whether c is a wall. Cells off the board count as walls.
func (m *Maze) IsWall(c Cell) bool {
	if !m.InBounds(c) {
		return true
	}
	return m.walls[m.index(c)]
}

// Key identifies the wall layout. Two mazes with the same dimensions and
// walls share a key.
func (m *Maze) Key() uint64 { return m.key }

// OpenCells lists the non-wall cells, column by column.
func (m *Maze) OpenCells() []Cell {
	out := make([]Cell, 0, len(m.walls))
	for x := 0; x < m.Width; x++ {
		for y := 0; y < m.Height; y++ {
			if !m.walls[x*m.Height+y] {
				out = append(out, Cell{X: x, Y: y})
			}
		}
	}
	return out
}

// IsRedSide reports whether an x coordinate lies on the red (left) half.
func (m *Maze) IsRedSide(x float64) bool {
	return x < float64(m.Width/2)
}

func (m *Maze) computeKey() uint64 {
	buf := make([]byte, 16+(len(m.walls)+7)/8)
	binary.LittleEndian.PutUint64(buf[0:], uint64(m.Width))
	binary.LittleEndian.PutUint64(buf[8:], uint64(m.Height))
	for i, w := range m.walls {
		if w {
			buf[16+i/8] |= 1 << (i % 8)
		}
	}
	return xxh3.Hash(buf)
}
