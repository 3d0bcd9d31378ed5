package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/brensch/capture/game"
	"github.com/brensch/capture/logging"
	"github.com/brensch/capture/rules"
)

// Agent chooses an action from a filtered observation. agent is the index
// the observation was made for.
type Agent interface {
	Act(ctx context.Context, obs *game.State, agent int) (game.Direction, error)
}

// AgentFunc adapts a plain function to Agent.
type AgentFunc func(ctx context.Context, obs *game.State, agent int) (game.Direction, error)

func (f AgentFunc) Act(ctx context.Context, obs *game.State, agent int) (game.Direction, error) {
	return f(ctx, obs, agent)
}

// IllegalPolicy decides what happens when an agent returns an illegal action.
type IllegalPolicy string

const (
	IllegalCrash  IllegalPolicy = "crash"
	IllegalRandom IllegalPolicy = "random"
)

func ParseIllegalPolicy(s string) (IllegalPolicy, error) {
	switch p := IllegalPolicy(s); p {
	case IllegalCrash, IllegalRandom:
		return p, nil
	}
	return "", fmt.Errorf("unknown illegal action policy %q", s)
}

// Timing bounds how long agents may think.
type Timing struct {
	MoveWarning time.Duration // slower moves earn a warning
	MoveTimeout time.Duration // slower moves crash the agent outright
	MaxWarnings int           // one more warning than this crashes the agent
	Illegal     IllegalPolicy
}

var DefaultTiming = Timing{
	MoveWarning: time.Second,
	MoveTimeout: 3 * time.Second,
	MaxWarnings: 2,
	Illegal:     IllegalCrash,
}

// Runner drives a match by asking agents for actions in turn order.
type Runner struct {
	Timing Timing
	Rng    *rand.Rand
	Logger *slog.Logger
	// OnStep is called after every applied move.
	OnStep func(m *Match)
}

type actResult struct {
	action game.Direction
	err    error
}

// Run starts m if needed and plays it to the end. It returns early with the
// context error if ctx is cancelled; the match is left running.
func (r *Runner) Run(ctx context.Context, m *Match, agents []Agent) (Outcome, error) {
	if len(agents) != m.State().NumAgents() {
		return Outcome{}, fmt.Errorf("run: %d agents for %d seats", len(agents), m.State().NumAgents())
	}
	log := r.Logger
	if log == nil {
		log = logging.Discard()
	}
	rng := r.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	timing := r.Timing
	if timing == (Timing{}) {
		timing = DefaultTiming
	}

	if m.Phase() == NotStarted {
		if err := m.Start(rng); err != nil {
			return Outcome{}, err
		}
	}

	warnings := make([]int, len(agents))
	warn := func(agent int, why string) bool {
		warnings[agent]++
		log.Warn("agent warning",
			"match", m.ID,
			"agent", agent,
			"warnings", warnings[agent],
			"reason", why,
		)
		return warnings[agent] > timing.MaxWarnings
	}

	for m.Phase() == Running {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		default:
		}

		agent := m.ToMove()
		obs := m.Observation(agent, rng)

		start := time.Now()
		res, err := r.ask(ctx, agents[agent], obs, agent, timing.MoveTimeout)
		elapsed := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				m.Crash(agent, fmt.Sprintf("move timed out after %s", timing.MoveTimeout))
			} else {
				m.Crash(agent, err.Error())
			}
			break
		}

		if elapsed > timing.MoveWarning {
			if warn(agent, fmt.Sprintf("move took %s", elapsed.Round(time.Millisecond))) {
				m.Crash(agent, "too many slow moves")
				break
			}
		}

		action := res
		legal := rules.LegalActions(m.State(), agent)
		if !slices.Contains(legal, action) {
			if timing.Illegal != IllegalRandom {
				m.Crash(agent, fmt.Sprintf("illegal action %s", action))
				break
			}
			if warn(agent, fmt.Sprintf("illegal action %s", action)) {
				m.Crash(agent, "too many illegal actions")
				break
			}
			action = legal[rng.Intn(len(legal))]
		}

		if _, err := m.Step(action); err != nil {
			return Outcome{}, err
		}
		if r.OnStep != nil {
			r.OnStep(m)
		}
	}

	out, _ := m.Outcome()
	return out, nil
}

// ask runs one Act call under a deadline. A slow agent is abandoned; its
// goroutine finishes into a buffered channel nobody reads.
func (r *Runner) ask(ctx context.Context, a Agent, obs *game.State, agent int, timeout time.Duration) (game.Direction, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan actResult, 1)
	go func() {
		d, err := a.Act(ctx, obs, agent)
		done <- actResult{action: d, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return game.Stop, fmt.Errorf("agent %d: %w", agent, res.err)
		}
		return res.action, nil
	case <-ctx.Done():
		return game.Stop, ctx.Err()
	}
}

// RandomAgent plays a uniformly random legal action.
type RandomAgent struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomAgent(seed int64) *RandomAgent {
	return &RandomAgent{rng: rand.New(rand.NewSource(seed))}
}

func (a *RandomAgent) Act(_ context.Context, obs *game.State, agent int) (game.Direction, error) {
	legal := rules.LegalActions(obs, agent)
	if len(legal) == 0 {
		return game.Stop, fmt.Errorf("agent %d has no legal actions", agent)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return legal[a.rng.Intn(len(legal))], nil
}
