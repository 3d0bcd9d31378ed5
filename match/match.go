// Package match runs the lifecycle of a single capture match: setup, turn
// order, termination, crashes and the final outcome.
//
// A Match only ever advances through rules.ApplyWithSettings. Agents are not
// called from here; Runner does that and reports crashes back.
package match

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/brensch/capture/distance"
	"github.com/brensch/capture/game"
	"github.com/brensch/capture/logging"
	"github.com/brensch/capture/maze"
	"github.com/brensch/capture/observe"
	"github.com/brensch/capture/rules"
	"github.com/google/uuid"
)

var (
	ErrNotRunning     = errors.New("match is not running")
	ErrAlreadyStarted = errors.New("match already started")
)

type Phase int8

const (
	NotStarted Phase = iota
	Running
	Over
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Over:
		return "over"
	}
	return "not_started"
}

// Reason is why a match ended.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonFoodReturned Reason = "food_returned"
	ReasonTimeUp       Reason = "time_up"
	ReasonCrash        Reason = "crash"
)

// Winner names the winning team of a finished match.
type Winner string

const (
	WinnerRed  Winner = "red"
	WinnerBlue Winner = "blue"
	WinnerTie  Winner = "tie"
)

// WinnerFromScore maps a final score to the team it favors.
func WinnerFromScore(score int) Winner {
	switch {
	case score > 0:
		return WinnerRed
	case score < 0:
		return WinnerBlue
	}
	return WinnerTie
}

// Settings configure one match.
type Settings struct {
	Length       int // total number of moves across all agents
	CrashPenalty int
	SightRange   int
	Sonar        distance.Sonar
	Rules        rules.Settings
}

var DefaultSettings = Settings{
	Length:       1200,
	CrashPenalty: 1,
	SightRange:   observe.DefaultSightRange,
	Sonar:        distance.DefaultSonar,
	Rules:        rules.DefaultSettings,
}

// Move is one entry of the move history.
type Move struct {
	Agent  int            `json:"agent"`
	Action game.Direction `json:"action"`
}

// TurnEvent describes one applied move for renderers and recorders.
type TurnEvent struct {
	MatchID      string
	Turn         int
	Agent        int
	Action       game.Direction
	Score        int
	TimeLeft     int
	Win          bool
	FoodEaten    *maze.Cell
	CapsuleEaten *maze.Cell
	FoodAdded    []maze.Cell
	Positions    []maze.Point
	State        *game.State
}

// Outcome summarises a finished match.
type Outcome struct {
	MatchID string
	Winner  Winner
	Margin  int
	Score   int
	Reason  Reason
	Turns   int
	// Crashed is the offending agent for ReasonCrash, otherwise -1.
	Crashed     int
	CrashedTeam string
	CrashReason string
}

type Option func(*Match)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(m *Match) {
		if l != nil {
			m.log = l
		}
	}
}

// WithCache shares distance tables with other matches.
func WithCache(c *distance.Cache) Option {
	return func(m *Match) { m.cache = c }
}

// WithID overrides the generated match id.
func WithID(id string) Option {
	return func(m *Match) { m.ID = id }
}

// WithObserver registers fn to be called after every applied move.
func WithObserver(fn func(TurnEvent)) Option {
	return func(m *Match) { m.observers = append(m.observers, fn) }
}

type Match struct {
	ID     string
	Layout *maze.Layout

	settings  Settings
	log       *slog.Logger
	cache     *distance.Cache
	distancer *distance.Distancer
	observers []func(TurnEvent)

	state   *game.State
	phase   Phase
	reason  Reason
	crashed int
	why     string
	starter int
	toMove  int
	history []Move

	initRedFood  int
	initBlueFood int
}

// New sets up a match on l for numAgents agents. Distance tables are computed
// (or fetched from the shared cache) before New returns.
func New(l *maze.Layout, numAgents int, set Settings, opts ...Option) (*Match, error) {
	s, err := game.NewState(l, numAgents)
	if err != nil {
		return nil, fmt.Errorf("new match: %w", err)
	}
	m := &Match{
		ID:       uuid.NewString(),
		Layout:   l,
		settings: set,
		log:      logging.Discard(),
		state:    s,
		crashed:  -1,
	}
	for _, o := range opts {
		o(m)
	}
	m.distancer = distance.NewDistancer(l.Maze)
	m.distancer.Compute(m.cache)
	m.initRedFood = len(s.RedFood())
	m.initBlueFood = len(s.BlueFood())
	return m, nil
}

// Start picks the starting team at random and opens the clock.
func (m *Match) Start(rng *rand.Rand) error {
	return m.StartWith(rng.Intn(2))
}

// StartWith starts the match with agent starter to move first.
func (m *Match) StartWith(starter int) error {
	if m.phase != NotStarted {
		return ErrAlreadyStarted
	}
	if starter < 0 || starter >= m.state.NumAgents() {
		return fmt.Errorf("starting agent %d out of range", starter)
	}
	next := m.state.Successor()
	next.TimeLeft = m.settings.Length
	m.state = next
	m.starter = starter
	m.toMove = starter
	m.phase = Running
	m.log.Info("match started",
		"match", m.ID,
		"layout", m.Layout.Name,
		"agents", m.state.NumAgents(),
		"starter", m.state.TeamOf(starter).String(),
		"length", m.settings.Length,
	)
	return nil
}

// Step applies action for the agent whose turn it is. An illegal action
// leaves the match untouched.
func (m *Match) Step(action game.Direction) (*game.State, error) {
	if m.phase != Running {
		return nil, ErrNotRunning
	}
	agent := m.toMove
	next, err := rules.ApplyWithSettings(m.state, agent, action, m.settings.Rules)
	if err != nil {
		return nil, err
	}
	if !next.Win && rules.ReturnTargetMet(next, m.settings.Rules) {
		next.Win = true
	}
	m.state = next
	m.history = append(m.history, Move{Agent: agent, Action: action})
	m.toMove = (agent + 1) % next.NumAgents()

	switch {
	case next.Win:
		m.finish(ReasonFoodReturned)
	case len(m.history) >= m.settings.Length || next.TimeLeft <= 0:
		m.finish(ReasonTimeUp)
	}

	m.emit(agent, action)
	return next, nil
}

// Crash ends the match with agent at fault. The offender's team loses by
// the crash penalty.
func (m *Match) Crash(agent int, reason string) error {
	if m.phase != Running {
		return ErrNotRunning
	}
	if agent < 0 || agent >= m.state.NumAgents() {
		return fmt.Errorf("crash: agent %d out of range", agent)
	}
	next := m.state.Successor()
	next.Score = -m.state.TeamOf(agent).Sign() * m.settings.CrashPenalty
	m.state = next
	m.crashed = agent
	m.why = reason
	m.log.Warn("agent crashed",
		"match", m.ID,
		"agent", agent,
		"team", m.state.TeamOf(agent).String(),
		"reason", reason,
	)
	m.finish(ReasonCrash)
	return nil
}

func (m *Match) finish(r Reason) {
	m.phase = Over
	m.reason = r
	out, _ := m.Outcome()
	m.log.Info("match over",
		"match", m.ID,
		"reason", string(r),
		"winner", string(out.Winner),
		"score", out.Score,
		"turns", out.Turns,
	)
}

func (m *Match) emit(agent int, action game.Direction) {
	if len(m.observers) == 0 {
		return
	}
	s := m.state
	ev := TurnEvent{
		MatchID:      m.ID,
		Turn:         len(m.history) - 1,
		Agent:        agent,
		Action:       action,
		Score:        s.Score,
		TimeLeft:     s.TimeLeft,
		Win:          s.Win,
		FoodEaten:    s.FoodEaten,
		CapsuleEaten: s.CapsuleEaten,
		FoodAdded:    s.FoodAdded,
		Positions:    make([]maze.Point, s.NumAgents()),
		State:        s,
	}
	for i := range s.Agents {
		ev.Positions[i], _ = s.Position(i)
	}
	for _, fn := range m.observers {
		fn(ev)
	}
}

// Observation is agent's filtered view of the current state.
func (m *Match) Observation(agent int, rng *rand.Rand) *game.State {
	return observe.Observe(m.state, agent, rng, m.settings.Sonar, m.settings.SightRange)
}

func (m *Match) State() *game.State { return m.state }
func (m *Match) Phase() Phase { return m.phase }
func (m *Match) ToMove() int { return m.toMove }
func (m *Match) Starter() int { return m.starter }
func (m *Match) Settings() Settings { return m.settings }
func (m *Match) Distancer() *distance.Distancer { return m.distancer }
func (m *Match) History() []Move { return append([]Move(nil), m.history...) }

// Progress estimates how far along the match is, in [0, 1]. It leans on the
// food eaten from whichever side has lost more and adds elapsed turns.
func (m *Match) Progress() float64 {
	eaten := func(initial, remaining int) float64 {
		if initial == 0 {
			return 0
		}
		return 1 - float64(remaining)/float64(initial)
	}
	red := eaten(m.initRedFood, len(m.state.RedFood()))
	blue := eaten(m.initBlueFood, len(m.state.BlueFood()))
	moves := 0.0
	if m.settings.Length > 0 {
		moves = float64(len(m.history)) / float64(m.settings.Length)
	}
	p := 0.75*max(red, blue) + 0.25*moves
	return min(max(p, 0), 1)
}

// Outcome reports the result. ok is false until the match is over.
func (m *Match) Outcome() (out Outcome, ok bool) {
	if m.phase != Over {
		return Outcome{MatchID: m.ID, Crashed: -1}, false
	}
	score := m.state.Score
	out = Outcome{
		MatchID:     m.ID,
		Winner:      WinnerFromScore(score),
		Margin:      max(score, -score),
		Score:       score,
		Reason:      m.reason,
		Turns:       len(m.history),
		Crashed:     m.crashed,
		CrashReason: m.why,
	}
	if m.crashed >= 0 {
		out.CrashedTeam = m.state.TeamOf(m.crashed).String()
	}
	return out, true
}

// Record captures everything needed to replay the match.
func (m *Match) Record() Record {
	return Record{
		MatchID:    m.ID,
		LayoutName: m.Layout.Name,
		LayoutText: append([]string(nil), m.Layout.Text...),
		Agents:     m.state.NumAgents(),
		Length:     m.settings.Length,
		Starter:    m.starter,
		Moves:      m.History(),
	}
}
