package viewer

import (
	"time"

	"github.com/brensch/capture/game"
	"github.com/brensch/capture/maze"
	"github.com/brensch/capture/store"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type GameSummary struct {
	ID          string    `json:"id"`
	Layout      string    `json:"layout"`
	RedTeam     string    `json:"red_team"`
	BlueTeam    string    `json:"blue_team"`
	Winner      string    `json:"winner"`
	Score       int       `json:"score"`
	Reason      string    `json:"reason"`
	Turns       int       `json:"turns"`
	CrashedTeam string    `json:"crashed_team,omitempty"`
	PlayedAt    time.Time `json:"played_at"`
}

type GamesResponse struct {
	Total int           `json:"total"`
	Games []GameSummary `json:"games"`
}

type Agent struct {
	Index    int      `json:"index"`
	Team     string   `json:"team"`
	Role     string   `json:"role"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Dir      string   `json:"dir,omitempty"`
	Scared   int      `json:"scared"`
	Carrying int      `json:"carrying"`
	Returned int      `json:"returned"`
}

// Turn is the board after one move; turn 0 is the opening position.
type Turn struct {
	Turn     int     `json:"turn"`
	Agent    int     `json:"agent"`
	Action   string  `json:"action,omitempty"`
	Score    int     `json:"score"`
	TimeLeft int     `json:"time_left"`
	Win      bool    `json:"win"`
	Food     []Point `json:"food"`
	Capsules []Point `json:"capsules"`
	Agents   []Agent `json:"agents"`
}

type TurnsResponse struct {
	ID     string   `json:"id"`
	Layout []string `json:"layout"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Turns  []Turn   `json:"turns"`
}

func summarize(r store.Result) GameSummary {
	return GameSummary{
		ID:          r.MatchID,
		Layout:      r.Layout,
		RedTeam:     r.RedTeam,
		BlueTeam:    r.BlueTeam,
		Winner:      string(r.Winner),
		Score:       r.Score,
		Reason:      string(r.Reason),
		Turns:       r.Turns,
		CrashedTeam: r.CrashedTeam,
		PlayedAt:    r.PlayedAt,
	}
}

func points(cells []maze.Cell) []Point {
	out := make([]Point, 0, len(cells))
	for _, c := range cells {
		out = append(out, Point{X: c.X, Y: c.Y})
	}
	return out
}

func newTurn(turn, agent int, action string, s *game.State) Turn {
	t := Turn{
		Turn:     turn,
		Agent:    agent,
		Action:   action,
		Score:    s.Score,
		TimeLeft: s.TimeLeft,
		Win:      s.Win,
		Food:     points(s.Food.Cells()),
		Capsules: points(s.Capsules),
		Agents:   make([]Agent, 0, len(s.Agents)),
	}
	for i, a := range s.Agents {
		ag := Agent{
			Index:    i,
			Team:     s.TeamOf(i).String(),
			Role:     a.Role.String(),
			Scared:   a.ScaredTimer,
			Carrying: a.Carrying,
			Returned: a.Returned,
		}
		if a.Config != nil {
			x, y := a.Config.Pos.X, a.Config.Pos.Y
			ag.X, ag.Y = &x, &y
			ag.Dir = a.Config.Dir.String()
		}
		t.Agents = append(t.Agents, ag)
	}
	return t
}
