// Package spectate streams live matches to websocket viewers and follows
// such streams as a client.
//
// Every websocket message is one msgpack-encoded Event. A stream is a
// "game_info" event, one "frame" per move and a final "game_end".
package spectate

import (
	"github.com/brensch/capture/match"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	EventGameInfo = "game_info"
	EventFrame    = "frame"
	EventGameEnd  = "game_end"
)

// Event is the envelope for everything sent to spectators.
type Event struct {
	Type string             `msgpack:"type"`
	Data msgpack.RawMessage `msgpack:"data"`
}

type Cell struct {
	X int `msgpack:"x"`
	Y int `msgpack:"y"`
}

type MatchInfo struct {
	MatchID string   `msgpack:"match_id"`
	Layout  string   `msgpack:"layout"`
	Text    []string `msgpack:"text"`
	Width   int      `msgpack:"width"`
	Height  int      `msgpack:"height"`
	Teams   []string `msgpack:"teams"`
	Length  int      `msgpack:"length"`
	Starter int      `msgpack:"starter"`
}

type AgentView struct {
	X        float64 `msgpack:"x"`
	Y        float64 `msgpack:"y"`
	Dir      string  `msgpack:"dir"`
	Role     string  `msgpack:"role"`
	Scared   int     `msgpack:"scared"`
	Carrying int     `msgpack:"carrying"`
}

type Frame struct {
	MatchID      string      `msgpack:"match_id"`
	Turn         int         `msgpack:"turn"`
	Agent        int         `msgpack:"agent"`
	Action       string      `msgpack:"action"`
	Score        int         `msgpack:"score"`
	TimeLeft     int         `msgpack:"time_left"`
	Win          bool        `msgpack:"win"`
	Agents       []AgentView `msgpack:"agents"`
	FoodEaten    *Cell       `msgpack:"food_eaten,omitempty"`
	CapsuleEaten *Cell       `msgpack:"capsule_eaten,omitempty"`
	FoodAdded    []Cell      `msgpack:"food_added,omitempty"`
}

type MatchEnd struct {
	MatchID string `msgpack:"match_id"`
	Winner  string `msgpack:"winner"`
	Score   int    `msgpack:"score"`
	Reason  string `msgpack:"reason"`
	Turns   int    `msgpack:"turns"`
}

func encodeEvent(typ string, v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(&Event{Type: typ, Data: data})
}

// NewMatchInfo describes a match that is about to start.
func NewMatchInfo(m *match.Match) MatchInfo {
	s := m.State()
	info := MatchInfo{
		MatchID: m.ID,
		Layout:  m.Layout.Name,
		Text:    m.Layout.Text,
		Width:   s.Maze.Width,
		Height:  s.Maze.Height,
		Length:  m.Settings().Length,
		Starter: m.Starter(),
	}
	for i := range s.Agents {
		info.Teams = append(info.Teams, s.TeamOf(i).String())
	}
	return info
}

// NewFrame flattens a turn event.
func NewFrame(ev match.TurnEvent) Frame {
	f := Frame{
		MatchID:  ev.MatchID,
		Turn:     ev.Turn,
		Agent:    ev.Agent,
		Action:   ev.Action.String(),
		Score:    ev.Score,
		TimeLeft: ev.TimeLeft,
		Win:      ev.Win,
	}
	if ev.FoodEaten != nil {
		f.FoodEaten = &Cell{X: ev.FoodEaten.X, Y: ev.FoodEaten.Y}
	}
	if ev.CapsuleEaten != nil {
		f.CapsuleEaten = &Cell{X: ev.CapsuleEaten.X, Y: ev.CapsuleEaten.Y}
	}
	for _, c := range ev.FoodAdded {
		f.FoodAdded = append(f.FoodAdded, Cell{X: c.X, Y: c.Y})
	}
	if ev.State != nil {
		for _, a := range ev.State.Agents {
			v := AgentView{Role: a.Role.String(), Scared: a.ScaredTimer, Carrying: a.Carrying}
			if a.Config != nil {
				v.X, v.Y = a.Config.Pos.X, a.Config.Pos.Y
				v.Dir = a.Config.Dir.String()
			}
			f.Agents = append(f.Agents, v)
		}
	}
	return f
}

func NewMatchEnd(out match.Outcome) MatchEnd {
	return MatchEnd{
		MatchID: out.MatchID,
		Winner:  string(out.Winner),
		Score:   out.Score,
		Reason:  string(out.Reason),
		Turns:   out.Turns,
	}
}
