package maze

import "math"

// Point is a continuous board coordinate. (0,0) is bottom-left.
type Point struct {
	X float64
	Y float64
}

// Cell is an integral board coordinate.
type Cell struct {
	X int
	Y int
}

func (c Cell) Point() Point { return Point{X: float64(c.X), Y: float64(c.Y)} }

// Add translates p by (dx, dy).
func (p Point) Add(dx, dy float64) Point { return Point{X: p.X + dx, Y: p.Y + dy} }

// IsGridAligned reports whether both coordinates are integral.
func (p Point) IsGridAligned() bool {
	return p.X == math.Trunc(p.X) && p.Y == math.Trunc(p.Y)
}

// Nearest rounds p to the closest cell, halves rounding up.
func (p Point) Nearest() Cell {
	return Cell{X: int(math.Floor(p.X + 0.5)), Y: int(math.Floor(p.Y + 0.5))}
}

// Truncate drops the fractional part of each coordinate.
func (p Point) Truncate() Cell {
	return Cell{X: int(p.X), Y: int(p.Y)}
}

func (p Point) Manhattan(q Point) float64 {
	return math.Abs(p.X-q.X) + math.Abs(p.Y-q.Y)
}

func (c Cell) Manhattan(o Cell) int {
	return absInt(c.X-o.X) + absInt(c.Y-o.Y)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
