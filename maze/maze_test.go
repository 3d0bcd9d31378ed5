package maze

import "testing"

const smallLayout = `
%%%%%%
%1. 2%
%o%%.%
%%%%%%
`

func TestParse_FlipsRowsAndOrdersStarts(t *testing.T) {
	l, err := Parse("small", smallLayout)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if l.Maze.Width != 6 || l.Maze.Height != 4 {
		t.Fatalf("size=%dx%d want=6x4", l.Maze.Width, l.Maze.Height)
	}
	// Row "%1. 2%" is the second text row, so y=2.
	if len(l.Starts) != 2 {
		t.Fatalf("starts=%d want=2", len(l.Starts))
	}
	if got := l.Starts[0]; got.Cell != (Cell{X: 1, Y: 2}) || !got.Red {
		t.Fatalf("start[0]=%+v want red at (1,2)", got)
	}
	if got := l.Starts[1]; got.Cell != (Cell{X: 4, Y: 2}) || got.Red {
		t.Fatalf("start[1]=%+v want blue at (4,2)", got)
	}
	if l.TotalFood() != 2 {
		t.Fatalf("food=%d want=2", l.TotalFood())
	}
	if len(l.Capsules) != 1 || l.Capsules[0] != (Cell{X: 1, Y: 1}) {
		t.Fatalf("capsules=%v want=[(1,1)]", l.Capsules)
	}
	if !l.Maze.IsWall(Cell{X: 2, Y: 1}) || l.Maze.IsWall(Cell{X: 3, Y: 2}) {
		t.Fatalf("wall lookup wrong")
	}
	if !l.Maze.IsWall(Cell{X: -1, Y: 0}) || !l.Maze.IsWall(Cell{X: 6, Y: 0}) {
		t.Fatalf("off-board cells must be walls")
	}
}

func TestParse_RejectsRaggedRows(t *testing.T) {
	if _, err := Parse("ragged", "%%%\n%%\n"); err == nil {
		t.Fatalf("expected error for ragged layout")
	}
	if _, err := Parse("empty", "\n\n"); err == nil {
		t.Fatalf("expected error for empty layout")
	}
}

func TestKey_DependsOnWallsOnly(t *testing.T) {
	a, _ := Parse("a", "%%%%\n%1.%\n%%%%")
	b, _ := Parse("b", "%%%%\n%.2%\n%%%%")
	c, _ := Parse("c", "%%%%\n%%.%\n%%%%")
	if a.Maze.Key() != b.Maze.Key() {
		t.Fatalf("same walls should share a key")
	}
	if a.Maze.Key() == c.Maze.Key() {
		t.Fatalf("different walls should not share a key")
	}
}

func TestPoint_NearestAndAlignment(t *testing.T) {
	p := Point{X: 2.5, Y: 3.2}
	if p.IsGridAligned() {
		t.Fatalf("%v should not be aligned", p)
	}
	if got := p.Nearest(); got != (Cell{X: 3, Y: 3}) {
		t.Fatalf("nearest=%v want=(3,3)", got)
	}
	if !(Point{X: 4, Y: 1}).IsGridAligned() {
		t.Fatalf("(4,1) should be aligned")
	}
	if d := (Point{X: 1, Y: 1}).Manhattan(Point{X: 2.5, Y: 0}); d != 2.5 {
		t.Fatalf("manhattan=%v want=2.5", d)
	}
}
