// Package rules implements the capture transition function: given a snapshot
// and one agent's action it produces the next snapshot.
//
// Apply never modifies its input. Errors are returned for actions outside the
// legal set; choosing a fallback action is the caller's business.
package rules

import (
	"errors"
	"fmt"
	"slices"

	"github.com/brensch/capture/game"
	"github.com/brensch/capture/maze"
)

var (
	ErrIllegalAction     = errors.New("illegal action")
	ErrMatchOver         = errors.New("match is over")
	ErrFoodDumpExhausted = errors.New("no room left to dump food")
)

// Settings are the tunable rule constants.
type Settings struct {
	ScaredTime         int     // turns a chaser stays scared after a capsule
	KillPoints         int     // score credited to the catching team
	MinFood            int     // food a team may leave behind and still win on returns
	CollisionTolerance float64 // Manhattan distance at which agents collide
}

// DefaultSettings are the standard contest rules.
var DefaultSettings = Settings{
	ScaredTime:         40,
	KillPoints:         0,
	MinFood:            2,
	CollisionTolerance: 0.7,
}

const (
	// How close a forager must be to a cell center to eat what is there.
	eatTolerance = 0.9
	// How far from a cell center still counts as standing on it.
	alignTolerance = 0.001
)

type IllegalActionError struct {
	Agent  int
	Action game.Direction
	Legal  []game.Direction
}

func (e *IllegalActionError) Error() string {
	return fmt.Sprintf("agent %d: %s not in %v", e.Agent, e.Action, e.Legal)
}

func (e *IllegalActionError) Unwrap() error { return ErrIllegalAction }

// LegalActions returns the actions open to agent. An agent between cells can
// only keep going the way it faces. A hidden agent has none.
func LegalActions(s *game.State, agent int) []game.Direction {
	if agent < 0 || agent >= len(s.Agents) || s.Agents[agent].Config == nil {
		return nil
	}
	cfg := s.Agents[agent].Config
	cell := cfg.Pos.Nearest()
	if cell.Point().Manhattan(cfg.Pos) > alignTolerance {
		return []game.Direction{cfg.Dir}
	}

	out := make([]game.Direction, 0, len(game.Directions))
	for _, d := range game.Directions {
		dx, dy := d.Vector()
		next := maze.Cell{X: cell.X + int(dx), Y: cell.Y + int(dy)}
		if !s.Maze.IsWall(next) {
			out = append(out, d)
		}
	}
	return out
}

// Apply advances s by agent taking action under DefaultSettings.
func Apply(s *game.State, agent int, action game.Direction) (*game.State, error) {
	return ApplyWithSettings(s, agent, action, DefaultSettings)
}

// ApplyWithSettings advances s by agent taking action. The order is fixed:
// move, switch role and bank carried food on reaching a cell, eat, resolve
// collisions, tick the mover's scared timer, then book score and time.
func ApplyWithSettings(s *game.State, agent int, action game.Direction, set Settings) (*game.State, error) {
	if s.Win {
		return nil, ErrMatchOver
	}
	legal := LegalActions(s, agent)
	if !slices.Contains(legal, action) {
		return nil, &IllegalActionError{Agent: agent, Action: action, Legal: legal}
	}

	next := s.Successor()
	team := next.Teams[agent]
	delta := 0

	a := &next.Agents[agent]
	cfg := a.Config.Successor(action)
	a.Config = &cfg
	nearest := cfg.Pos.Nearest()

	if cfg.Pos.IsGridAligned() {
		a.Role = game.RoleFor(next.Maze, team, cfg.Pos)
		if a.Carrying > 0 && a.Role == game.Chaser {
			delta += team.Sign() * a.Carrying
			a.Returned += a.Carrying
			a.Carrying = 0
			if ReturnTargetMet(next, set) {
				next.Win = true
			}
		}
	}

	if a.Role == game.Forager && nearest.Point().Manhattan(cfg.Pos) <= eatTolerance {
		consume(next, agent, nearest, set)
	}

	d, err := resolveCollisions(next, agent, set)
	if err != nil {
		return nil, err
	}
	delta += d

	decrementTimer(&next.Agents[agent])

	next.AgentMoved = agent
	next.Score += delta
	next.TimeLeft--
	return next, nil
}

// FoodToWin is how much food a team must return to end the match early.
func FoodToWin(totalFood int, set Settings) float64 {
	return float64(totalFood)/2 - float64(set.MinFood)
}

// ReturnTargetMet reports whether either team has returned enough food.
// A team that has returned nothing never meets the target, even when the
// layout holds so little food that the target is zero or below.
func ReturnTargetMet(s *game.State, set Settings) bool {
	target := FoodToWin(s.TotalFood, set)
	met := func(t game.Team) bool {
		n := s.Returned(t)
		return n > 0 && float64(n) >= target
	}
	return met(game.Red) || met(game.Blue)
}

func consume(s *game.State, agent int, cell maze.Cell, set Settings) {
	team := s.Teams[agent]
	if s.Food.Get(cell) {
		s.Agents[agent].Carrying++
		s.Food = s.Food.With(cell, false)
		eaten := cell
		s.FoodEaten = &eaten
	}

	if s.Defends(team, cell) {
		return
	}
	i := slices.Index(s.Capsules, cell)
	if i < 0 {
		return
	}
	s.Capsules = slices.Delete(slices.Clone(s.Capsules), i, i+1)
	eaten := cell
	s.CapsuleEaten = &eaten
	for _, o := range s.Members(team.Opponent()) {
		if s.Agents[o].Role == game.Chaser {
			s.Agents[o].ScaredTimer = set.ScaredTime
		}
	}
}

func decrementTimer(a *game.AgentState) {
	if a.ScaredTimer == 1 && a.Config != nil {
		snapped := game.Config{Pos: a.Config.Pos.Nearest().Point(), Dir: a.Config.Dir}
		a.Config = &snapped
	}
	a.ScaredTimer = max(0, a.ScaredTimer-1)
}
