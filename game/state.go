// Package game defines the world snapshot for capture matches.
//
// A State is never modified after it has been handed out: transitions build a
// successor that shares every sub-structure it did not change (maze, food grid
// columns, capsule list, team table) with its predecessor. This keeps
// snapshots cheap enough to keep as per-agent history.
package game

import (
	"fmt"

	"github.com/brensch/capture/maze"
)

type Direction int8

const (
	Stop Direction = iota
	North
	South
	East
	West
)

// Directions lists every action in the order legal actions are reported.
var Directions = []Direction{North, South, East, West, Stop}

var directionNames = [...]string{"Stop", "North", "South", "East", "West"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("Direction(%d)", int8(d))
	}
	return directionNames[d]
}

func ParseDirection(s string) (Direction, error) {
	for i, n := range directionNames {
		if n == s {
			return Direction(i), nil
		}
	}
	return Stop, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Vector is the unit displacement for d.
func (d Direction) Vector() (dx, dy float64) {
	switch d {
	case North:
		return 0, 1
	case South:
		return 0, -1
	case East:
		return 1, 0
	case West:
		return -1, 0
	}
	return 0, 0
}

// Config is an agent's position and facing.
type Config struct {
	Pos maze.Point
	Dir Direction
}

// Successor moves c by one step in d. Stopping keeps the old facing.
func (c Config) Successor(d Direction) Config {
	dx, dy := d.Vector()
	next := Config{Pos: c.Pos.Add(dx, dy), Dir: d}
	if d == Stop {
		next.Dir = c.Dir
	}
	return next
}

type Team int8

const (
	Red Team = iota
	Blue
)

func (t Team) String() string {
	if t == Red {
		return "Red"
	}
	return "Blue"
}

// Sign is the direction in which t moves the score.
func (t Team) Sign() int {
	if t == Red {
		return 1
	}
	return -1
}

func (t Team) Opponent() Team { return 1 - t }

// Role is what an agent currently does: defend its home half as a chaser, or
// raid the other half as a forager.
type Role int8

const (
	Chaser Role = iota
	Forager
)

func (r Role) String() string {
	if r == Forager {
		return "Forager"
	}
	return "Chaser"
}

// RoleFor is the role of a team member standing at pos.
func RoleFor(m *maze.Maze, team Team, pos maze.Point) Role {
	if m.IsRedSide(pos.X) == (team == Red) {
		return Chaser
	}
	return Forager
}

type AgentState struct {
	Start Config
	// Config is nil when the agent is hidden from an observer.
	Config      *Config
	Role        Role
	ScaredTimer int
	Carrying    int
	Returned    int
}

// Position returns the agent's position and whether it is visible.
func (a AgentState) Position() (maze.Point, bool) {
	if a.Config == nil {
		return maze.Point{}, false
	}
	return a.Config.Pos, true
}

type State struct {
	Maze      *maze.Maze
	Food      *Grid
	Capsules  []maze.Cell
	Agents    []AgentState
	Teams     []Team
	Score     int
	TimeLeft  int
	Win       bool
	TotalFood int

	// Distances holds one noisy distance per agent, measured from the
	// observing agent. Only set on observations.
	Distances []int

	// Per-transition diffs for renderers and recorders.
	FoodEaten    *maze.Cell
	CapsuleEaten *maze.Cell
	FoodAdded    []maze.Cell
	AgentMoved   int
}

// NewState builds the opening snapshot for a layout with numAgents agents.
// Each agent's team is fixed by the half of the board it starts on.
func NewState(l *maze.Layout, numAgents int) (*State, error) {
	if numAgents < 1 || numAgents > len(l.Starts) {
		return nil, fmt.Errorf("layout %s has %d starts, cannot seat %d agents", l.Name, len(l.Starts), numAgents)
	}
	s := &State{
		Maze:       l.Maze,
		Food:       NewGrid(l.Maze.Width, l.Maze.Height, l.Food),
		Capsules:   append([]maze.Cell(nil), l.Capsules...),
		Agents:     make([]AgentState, numAgents),
		Teams:      make([]Team, numAgents),
		TotalFood:  l.TotalFood(),
		AgentMoved: -1,
	}
	for i := 0; i < numAgents; i++ {
		start := Config{Pos: l.Starts[i].Cell.Point(), Dir: Stop}
		cfg := start
		team := Blue
		if l.Starts[i].Red {
			team = Red
		}
		s.Teams[i] = team
		s.Agents[i] = AgentState{
			Start:  start,
			Config: &cfg,
			Role:   RoleFor(l.Maze, team, start.Pos),
		}
	}
	return s, nil
}

// Successor starts the next snapshot. Agents are copied; everything else is
// shared until the caller replaces it. Diffs are cleared.
func (s *State) Successor() *State {
	next := *s
	next.Agents = append([]AgentState(nil), s.Agents...)
	next.FoodEaten = nil
	next.CapsuleEaten = nil
	next.FoodAdded = nil
	next.AgentMoved = -1
	return &next
}

// Clone returns a copy that shares nothing mutable with s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Capsules = append([]maze.Cell(nil), s.Capsules...)
	out.Teams = append([]Team(nil), s.Teams...)
	out.Distances = append([]int(nil), s.Distances...)
	out.FoodAdded = append([]maze.Cell(nil), s.FoodAdded...)
	out.Agents = make([]AgentState, len(s.Agents))
	for i, a := range s.Agents {
		if a.Config != nil {
			cfg := *a.Config
			a.Config = &cfg
		}
		out.Agents[i] = a
	}
	if s.FoodEaten != nil {
		c := *s.FoodEaten
		out.FoodEaten = &c
	}
	if s.CapsuleEaten != nil {
		c := *s.CapsuleEaten
		out.CapsuleEaten = &c
	}
	return &out
}

func (s *State) NumAgents() int { return len(s.Agents) }

func (s *State) IsOver() bool { return s.Win }

func (s *State) TeamOf(i int) Team { return s.Teams[i] }

func (s *State) IsRed(i int) bool { return s.Teams[i] == Red }

// Members lists the agent indices on team t.
func (s *State) Members(t Team) []int {
	var out []int
	for i, team := range s.Teams {
		if team == t {
			out = append(out, i)
		}
	}
	return out
}

func (s *State) RedTeam() []int  { return s.Members(Red) }
func (s *State) BlueTeam() []int { return s.Members(Blue) }

// Position returns agent i's position and whether it is visible.
func (s *State) Position(i int) (maze.Point, bool) { return s.Agents[i].Position() }

func (s *State) InitialPosition(i int) maze.Point { return s.Agents[i].Start.Pos }

// Defends reports whether c lies on the half that team t defends.
func (s *State) Defends(t Team, c maze.Cell) bool {
	return s.Maze.IsRedSide(float64(c.X)) == (t == Red)
}

// FoodDefendedBy lists the food on team t's half.
func (s *State) FoodDefendedBy(t Team) []maze.Cell {
	var out []maze.Cell
	for _, c := range s.Food.Cells() {
		if s.Defends(t, c) {
			out = append(out, c)
		}
	}
	return out
}

func (s *State) RedFood() []maze.Cell  { return s.FoodDefendedBy(Red) }
func (s *State) BlueFood() []maze.Cell { return s.FoodDefendedBy(Blue) }

// CapsulesDefendedBy lists the capsules on team t's half.
func (s *State) CapsulesDefendedBy(t Team) []maze.Cell {
	var out []maze.Cell
	for _, c := range s.Capsules {
		if s.Defends(t, c) {
			out = append(out, c)
		}
	}
	return out
}

func (s *State) RedCapsules() []maze.Cell  { return s.CapsulesDefendedBy(Red) }
func (s *State) BlueCapsules() []maze.Cell { return s.CapsulesDefendedBy(Blue) }

// Returned sums the food team t has brought home.
func (s *State) Returned(t Team) int {
	n := 0
	for i, a := range s.Agents {
		if s.Teams[i] == t {
			n += a.Returned
		}
	}
	return n
}

// FoodInPlay is the food on the board plus everything carried or returned.
// Transitions keep it equal to TotalFood.
func (s *State) FoodInPlay() int {
	n := s.Food.Count()
	for _, a := range s.Agents {
		n += a.Carrying + a.Returned
	}
	return n
}
