package game

import (
	"strings"
	"testing"

	"github.com/brensch/capture/maze"
)

const openLayout = `
%%%%%%%
%1 . 2%
%  o  %
%.3 4 %
%%%%%%%
`

func mustState(t *testing.T, text string, agents int) *State {
	t.Helper()
	l, err := maze.Parse("test", text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err := NewState(l, agents)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return s
}

// dumpState renders the board top row first: agents as their index digit,
// food as '*', capsules as 'o'.
func dumpState(s *State) string {
	var sb strings.Builder
	for y := s.Maze.Height - 1; y >= 0; y-- {
		for x := 0; x < s.Maze.Width; x++ {
			c := maze.Cell{X: x, Y: y}
			ch := byte('.')
			switch {
			case s.Maze.IsWall(c):
				ch = '%'
			case s.Food.Get(c):
				ch = '*'
			}
			for _, cp := range s.Capsules {
				if cp == c {
					ch = 'o'
				}
			}
			for i, a := range s.Agents {
				if p, ok := a.Position(); ok && p.Nearest() == c {
					ch = byte('0' + i)
				}
			}
			sb.WriteByte(ch)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func sharesColumn(a, b *Grid, x int) bool {
	return &a.cols[x][0] == &b.cols[x][0]
}

func TestNewState_TeamsAndRoles(t *testing.T) {
	s := mustState(t, openLayout, 4)
	t.Logf("initial:\n%s", dumpState(s))

	if got := s.RedTeam(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("red=%v want=[0 2]", got)
	}
	if got := s.BlueTeam(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("blue=%v want=[1 3]", got)
	}
	for i, a := range s.Agents {
		if a.Role != Chaser {
			t.Fatalf("agent %d role=%v want Chaser at home", i, a.Role)
		}
	}
	if s.TotalFood != 2 || s.FoodInPlay() != 2 {
		t.Fatalf("total=%d inPlay=%d want 2", s.TotalFood, s.FoodInPlay())
	}
	if len(s.RedFood()) != 1 || len(s.BlueFood()) != 1 {
		t.Fatalf("red food=%v blue food=%v", s.RedFood(), s.BlueFood())
	}
	if len(s.BlueCapsules()) != 1 || len(s.RedCapsules()) != 0 {
		t.Fatalf("capsule halves wrong: red=%v blue=%v", s.RedCapsules(), s.BlueCapsules())
	}
}

func TestNewState_TooManyAgents(t *testing.T) {
	l, _ := maze.Parse("test", openLayout)
	if _, err := NewState(l, 5); err == nil {
		t.Fatalf("expected error seating 5 agents on 4 starts")
	}
}

func TestSuccessor_LeavesPredecessorUntouched(t *testing.T) {
	s := mustState(t, openLayout, 2)
	next := s.Successor()

	cfg := next.Agents[0].Config.Successor(East)
	next.Agents[0].Config = &cfg
	next.Agents[0].Carrying = 3
	next.Food = next.Food.With(maze.Cell{X: 3, Y: 3}, false)

	if p, _ := s.Position(0); p != (maze.Point{X: 1, Y: 3}) {
		t.Fatalf("predecessor position changed to %v", p)
	}
	if s.Agents[0].Carrying != 0 {
		t.Fatalf("predecessor carrying changed")
	}
	if !s.Food.Get(maze.Cell{X: 3, Y: 3}) {
		t.Fatalf("predecessor food changed")
	}
	if next.Food.Count() != s.Food.Count()-1 {
		t.Fatalf("count=%d want=%d", next.Food.Count(), s.Food.Count()-1)
	}
}

func TestGrid_WithSharesUnchangedColumns(t *testing.T) {
	g := NewGrid(4, 3, []maze.Cell{{X: 1, Y: 1}, {X: 2, Y: 2}})
	h := g.With(maze.Cell{X: 1, Y: 1}, false)

	if sharesColumn(g, h, 1) {
		t.Fatalf("changed column must be copied")
	}
	for _, x := range []int{0, 2, 3} {
		if !sharesColumn(g, h, x) {
			t.Fatalf("column %d should be shared", x)
		}
	}
	if g.With(maze.Cell{X: 2, Y: 2}, true) != g {
		t.Fatalf("no-op With should return the same grid")
	}
	if g.With(maze.Cell{X: 9, Y: 9}, true) != g {
		t.Fatalf("off-board With should return the same grid")
	}
	if got := h.Cells(); len(got) != 1 || got[0] != (maze.Cell{X: 2, Y: 2}) {
		t.Fatalf("cells=%v", got)
	}
}

func TestClone_IsIndependent(t *testing.T) {
	s := mustState(t, openLayout, 4)
	s.Distances = []int{1, 2, 3, 4}
	c := s.Clone()

	c.Agents[1].Config = nil
	c.Agents[0].Config.Pos = maze.Point{X: 5, Y: 5}
	c.Distances[0] = 99
	c.Capsules[0] = maze.Cell{}

	if s.Agents[1].Config == nil {
		t.Fatalf("hiding in clone hid the original")
	}
	if p, _ := s.Position(0); p != (maze.Point{X: 1, Y: 3}) {
		t.Fatalf("original position changed to %v", p)
	}
	if s.Distances[0] != 1 || s.Capsules[0] != (maze.Cell{X: 3, Y: 2}) {
		t.Fatalf("original slices changed")
	}
}

func TestConfig_StopKeepsFacing(t *testing.T) {
	c := Config{Pos: maze.Point{X: 2, Y: 2}, Dir: West}
	if got := c.Successor(Stop); got.Dir != West || got.Pos != c.Pos {
		t.Fatalf("stop successor=%+v", got)
	}
	if got := c.Successor(North); got.Dir != North || got.Pos != (maze.Point{X: 2, Y: 3}) {
		t.Fatalf("north successor=%+v", got)
	}
}

func TestParseDirection_RoundTrip(t *testing.T) {
	for _, d := range Directions {
		got, err := ParseDirection(d.String())
		if err != nil || got != d {
			t.Fatalf("ParseDirection(%q)=%v,%v", d.String(), got, err)
		}
	}
	if _, err := ParseDirection("Up"); err == nil {
		t.Fatalf("expected error for unknown direction")
	}
}
