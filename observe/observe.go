// Package observe turns a full snapshot into what a single agent is allowed
// to see.
package observe

import (
	"math/rand"

	"github.com/brensch/capture/distance"
	"github.com/brensch/capture/game"
)

// DefaultSightRange is the Manhattan distance at which opponents are spotted.
const DefaultSightRange = 5

// Observe returns agent's view of s. The result shares nothing mutable with
// s. Every agent gets a noisy distance reading measured from the observer,
// its own entry included, and opponents that no member of the observer's team
// can see have their Config removed.
func Observe(s *game.State, agent int, rng *rand.Rand, sonar distance.Sonar, sightRange int) *game.State {
	out := s.Clone()
	me, _ := s.Position(agent)

	out.Distances = make([]int, len(s.Agents))
	for i := range s.Agents {
		p, ok := s.Position(i)
		if !ok {
			continue
		}
		out.Distances[i] = sonar.Noisy(rng, me, p)
	}

	team := s.TeamOf(agent)
	mates := s.Members(team)
	for _, o := range s.Members(team.Opponent()) {
		if !spotted(s, mates, o, float64(sightRange)) {
			out.Agents[o].Config = nil
		}
	}
	return out
}

func spotted(s *game.State, mates []int, target int, sight float64) bool {
	tp, ok := s.Position(target)
	if !ok {
		return false
	}
	for _, m := range mates {
		mp, ok := s.Position(m)
		if ok && mp.Manhattan(tp) <= sight {
			return true
		}
	}
	return false
}
