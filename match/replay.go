package match

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brensch/capture/game"
	"github.com/brensch/capture/maze"
	"github.com/brensch/capture/rules"
)

var ErrReplayMismatch = errors.New("replay does not match recorded turn order")

// Record is a finished (or crashed) match reduced to its inputs.
type Record struct {
	MatchID    string   `json:"match_id"`
	LayoutName string   `json:"layout_name"`
	LayoutText []string `json:"layout_text"`
	Agents     int      `json:"agents"`
	Length     int      `json:"length"`
	Starter    int      `json:"starter"`
	Moves      []Move   `json:"moves"`
}

// Layout parses the recorded layout text.
func (r Record) Layout() (*maze.Layout, error) {
	return maze.Parse(r.LayoutName, strings.Join(r.LayoutText, "\n"))
}

// Replay re-applies every recorded move and returns each snapshot, starting
// with the opening one. Transitions are deterministic so the last snapshot is
// the one the match ended on (before any crash penalty).
func Replay(r Record, set rules.Settings) ([]*game.State, error) {
	l, err := r.Layout()
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", r.MatchID, err)
	}
	s, err := game.NewState(l, r.Agents)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", r.MatchID, err)
	}
	s.TimeLeft = r.Length

	states := make([]*game.State, 0, len(r.Moves)+1)
	states = append(states, s)
	agent := r.Starter
	for i, mv := range r.Moves {
		if mv.Agent != agent {
			return states, fmt.Errorf("%w: move %d is agent %d, expected %d", ErrReplayMismatch, i, mv.Agent, agent)
		}
		s, err = rules.ApplyWithSettings(s, mv.Agent, mv.Action, set)
		if err != nil {
			return states, fmt.Errorf("replay %s move %d: %w", r.MatchID, i, err)
		}
		states = append(states, s)
		agent = (agent + 1) % r.Agents
	}
	return states, nil
}
