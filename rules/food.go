package rules

import (
	"fmt"
	"slices"

	"github.com/brensch/capture/game"
	"github.com/brensch/capture/maze"
)

// dumpFood drops everything agent carries back onto its home half, spreading
// outwards from where it was caught one cell at a time (8-neighborhood,
// breadth first). A cell takes food only if it is open, empty and unoccupied.
func dumpFood(s *game.State, agent int) error {
	a := s.Agents[agent]
	pos, ok := a.Position()
	if !ok || a.Carrying == 0 {
		return nil
	}
	home := s.Teams[agent]

	occupied := make(map[maze.Cell]bool, len(s.Agents))
	for _, other := range s.Agents {
		if p, ok := other.Position(); ok {
			occupied[p.Truncate()] = true
		}
	}
	placeable := func(c maze.Cell) bool {
		return s.Maze.InBounds(c) &&
			!s.Maze.IsWall(c) &&
			!s.Food.Get(c) &&
			s.Defends(home, c) &&
			!slices.Contains(s.Capsules, c) &&
			!occupied[c]
	}

	origin := pos.Truncate()
	remaining := a.Carrying
	queue := []maze.Cell{origin}
	seen := map[maze.Cell]bool{}
	var added []maze.Cell
	for remaining > 0 {
		if len(queue) == 0 {
			return fmt.Errorf("%w: agent %d still holds %d near (%d,%d)", ErrFoodDumpExhausted, agent, remaining, origin.X, origin.Y)
		}
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		seen[c] = true

		if placeable(c) {
			s.Food = s.Food.With(c, true)
			added = append(added, c)
			remaining--
		}

		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				nb := maze.Cell{X: c.X + dx, Y: c.Y + dy}
				if s.Maze.InBounds(nb) && !seen[nb] {
					queue = append(queue, nb)
				}
			}
		}
	}

	s.FoodAdded = append(s.FoodAdded, added...)
	s.Agents[agent].Carrying = 0
	return nil
}
