package observe

import (
	"math/rand"
	"testing"

	"github.com/brensch/capture/distance"
	"github.com/brensch/capture/game"
	"github.com/brensch/capture/maze"
)

// fourAgents seats red 0 and 2 on the left and blue 1 and 3 on the right of
// an open 12x5 board.
func fourAgents(t *testing.T) *game.State {
	t.Helper()
	m := maze.New(12, 5, nil)
	l := &maze.Layout{
		Name: "open",
		Maze: m,
		Starts: []maze.Start{
			{Cell: maze.Cell{X: 0, Y: 0}, Red: true},
			{Cell: maze.Cell{X: 11, Y: 0}},
			{Cell: maze.Cell{X: 3, Y: 4}, Red: true},
			{Cell: maze.Cell{X: 6, Y: 4}},
		},
	}
	s, err := game.NewState(l, 4)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return s
}

func TestObserveHidesDistantOpponents(t *testing.T) {
	s := fourAgents(t)
	rng := rand.New(rand.NewSource(1))

	view := Observe(s, 0, rng, distance.Sonar{Range: 1}, DefaultSightRange)

	if view.Agents[1].Config != nil {
		t.Fatalf("agent 1 should be hidden, got %v", *view.Agents[1].Config)
	}
	if view.Agents[3].Config == nil {
		t.Fatalf("agent 3 is within sight of teammate 2 and should be visible")
	}
	if view.Agents[2].Config == nil || view.Agents[0].Config == nil {
		t.Fatalf("teammates must stay visible")
	}
	if s.Agents[1].Config == nil {
		t.Fatalf("Observe modified the full state")
	}

	want := []int{0, 11, 7, 10}
	for i, d := range view.Distances {
		if d != want[i] {
			t.Fatalf("distance[%d]=%d want=%d", i, d, want[i])
		}
	}
	if s.Distances != nil {
		t.Fatalf("full state gained distances %v", s.Distances)
	}
}

func TestObserveFromBlueSide(t *testing.T) {
	s := fourAgents(t)
	rng := rand.New(rand.NewSource(1))

	view := Observe(s, 1, rng, distance.DefaultSonar, DefaultSightRange)

	if view.Agents[0].Config != nil {
		t.Fatalf("agent 0 is 11 from agent 1 and 10 from agent 3, should be hidden")
	}
	if view.Agents[2].Config == nil {
		t.Fatalf("agent 2 is 3 from agent 3, should be visible")
	}
}

func TestObserveNoiseStaysInRange(t *testing.T) {
	s := fourAgents(t)
	rng := rand.New(rand.NewSource(2))
	sonar := distance.DefaultSonar
	truth := []int{0, 11, 7, 10}

	for n := 0; n < 500; n++ {
		view := Observe(s, 0, rng, sonar, DefaultSightRange)
		for i, d := range view.Distances {
			if sonar.Probability(truth[i], d) == 0 {
				t.Fatalf("reading %d for agent %d is outside the sonar range around %d", d, i, truth[i])
			}
		}
	}
}

func TestObserveCopyIsIndependent(t *testing.T) {
	s := fourAgents(t)
	view := Observe(s, 0, rand.New(rand.NewSource(3)), distance.DefaultSonar, DefaultSightRange)

	view.Agents[0].Config.Pos = maze.Point{X: 5, Y: 5}
	view.Capsules = append(view.Capsules, maze.Cell{X: 1, Y: 1})
	if got := s.Agents[0].Config.Pos; got != (maze.Point{X: 0, Y: 0}) {
		t.Fatalf("original position changed to %v", got)
	}
	if len(s.Capsules) != 0 {
		t.Fatalf("original capsules changed to %v", s.Capsules)
	}
}
