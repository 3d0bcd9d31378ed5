package rules

import (
	"slices"

	"github.com/brensch/capture/game"
)

type catch struct {
	victim  int
	catcher int
}

// resolveCollisions settles every forager/chaser meeting involving the mover.
// All catches are decided from the positions after the move, so the outcome
// does not depend on the order opponents are visited in. Returns the score
// delta.
func resolveCollisions(s *game.State, mover int, set Settings) (int, error) {
	actor := s.Agents[mover]
	apos, ok := actor.Position()
	if !ok {
		return 0, nil
	}

	var catches []catch
	caught := make(map[int]bool)
	for _, o := range s.Members(s.Teams[mover].Opponent()) {
		other := s.Agents[o]
		opos, ok := other.Position()
		if !ok || other.Role == actor.Role {
			continue
		}
		if opos.Manhattan(apos) > set.CollisionTolerance {
			continue
		}

		forager, chaser := mover, o
		if actor.Role == game.Chaser {
			forager, chaser = o, mover
		}
		c := catch{victim: forager, catcher: chaser}
		if s.Agents[chaser].ScaredTimer > 0 {
			c = catch{victim: chaser, catcher: forager}
		}
		if caught[c.victim] {
			continue
		}
		caught[c.victim] = true
		catches = append(catches, c)
	}
	slices.SortFunc(catches, func(a, b catch) int { return a.victim - b.victim })

	for _, c := range catches {
		if s.Agents[c.victim].Carrying > 0 {
			if err := dumpFood(s, c.victim); err != nil {
				return 0, err
			}
		}
	}

	delta := 0
	for _, c := range catches {
		v := &s.Agents[c.victim]
		start := v.Start
		v.Config = &start
		v.Role = game.Chaser
		v.ScaredTimer = 0
		delta += s.Teams[c.catcher].Sign() * set.KillPoints
	}
	return delta, nil
}
