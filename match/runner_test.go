package match

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/brensch/capture/game"
	"github.com/brensch/capture/rules"
)

const playoutLayout = `
%%%%%%%%%%%%%%%%%%%%
%1..o.%.....%...o.2%
%.%%%.%.%%.%%.%%%.4%
%3....  ..  ......%%
%.%%%.%%.%%.%.%%%..%
%..o....%...%.....o%
%%%%%%%%%%%%%%%%%%%%
`

func randomAgents(n int, seed int64) []Agent {
	out := make([]Agent, n)
	for i := range out {
		out[i] = NewRandomAgent(seed + int64(i))
	}
	return out
}

func TestRunRandomMatchAndReplay(t *testing.T) {
	set := DefaultSettings
	set.Length = 400
	m := mustMatch(t, mustLayout(t, playoutLayout), 4, set)
	r := &Runner{Rng: rand.New(rand.NewSource(5))}

	steps := 0
	r.OnStep = func(*Match) { steps++ }
	out, err := r.Run(context.Background(), m, randomAgents(4, 11))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Reason == ReasonCrash {
		t.Fatalf("random agents should not crash: %+v", out)
	}
	if steps != out.Turns || out.Turns == 0 {
		t.Fatalf("steps=%d turns=%d", steps, out.Turns)
	}

	rec := m.Record()
	states, err := Replay(rec, set.Rules)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(states) != len(rec.Moves)+1 {
		t.Fatalf("replay states=%d want=%d", len(states), len(rec.Moves)+1)
	}
	final := states[len(states)-1]
	live := m.State()
	if final.Score != live.Score || final.TimeLeft != live.TimeLeft || final.Food.Count() != live.Food.Count() {
		t.Fatalf("replay final score=%d time=%d food=%d, live %d %d %d",
			final.Score, final.TimeLeft, final.Food.Count(), live.Score, live.TimeLeft, live.Food.Count())
	}
	for i := range final.Agents {
		if *final.Agents[i].Config != *live.Agents[i].Config {
			t.Fatalf("agent %d replayed to %v, live %v", i, *final.Agents[i].Config, *live.Agents[i].Config)
		}
	}
}

func TestReplayRejectsOutOfTurnMove(t *testing.T) {
	m := mustMatch(t, mustLayout(t, foodCorridor), 2, DefaultSettings)
	rec := m.Record()
	rec.Starter = 0
	rec.Moves = []Move{{Agent: 1, Action: game.Stop}}
	if _, err := Replay(rec, rules.DefaultSettings); !errors.Is(err, ErrReplayMismatch) {
		t.Fatalf("err=%v want ErrReplayMismatch", err)
	}
}

func TestRunCrashesOnTimeout(t *testing.T) {
	m := mustMatch(t, mustLayout(t, foodCorridor), 2, DefaultSettings)
	if err := m.StartWith(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	stuck := AgentFunc(func(ctx context.Context, _ *game.State, _ int) (game.Direction, error) {
		<-ctx.Done()
		return game.Stop, ctx.Err()
	})
	r := &Runner{
		Rng:    rand.New(rand.NewSource(1)),
		Timing: Timing{MoveWarning: 10 * time.Millisecond, MoveTimeout: 30 * time.Millisecond, MaxWarnings: 2, Illegal: IllegalCrash},
	}

	out, err := r.Run(context.Background(), m, []Agent{stuck, NewRandomAgent(1)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Reason != ReasonCrash || out.Crashed != 0 || out.Score != -1 {
		t.Fatalf("outcome=%+v want red crash", out)
	}
	if !strings.Contains(out.CrashReason, "timed out") {
		t.Fatalf("crash reason=%q", out.CrashReason)
	}
}

func TestRunCrashesAfterTooManySlowMoves(t *testing.T) {
	m := mustMatch(t, mustLayout(t, foodCorridor), 2, DefaultSettings)
	if err := m.StartWith(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	slow := AgentFunc(func(context.Context, *game.State, int) (game.Direction, error) {
		time.Sleep(15 * time.Millisecond)
		return game.Stop, nil
	})
	r := &Runner{
		Rng:    rand.New(rand.NewSource(1)),
		Timing: Timing{MoveWarning: 5 * time.Millisecond, MoveTimeout: time.Second, MaxWarnings: 1, Illegal: IllegalCrash},
	}

	out, err := r.Run(context.Background(), m, []Agent{slow, NewRandomAgent(1)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Reason != ReasonCrash || out.Crashed != 0 {
		t.Fatalf("outcome=%+v want red crash", out)
	}
	if out.Turns != 2 {
		t.Fatalf("turns=%d want=2, the first slow move still counts", out.Turns)
	}
}

func TestRunIllegalPolicies(t *testing.T) {
	intoWall := AgentFunc(func(context.Context, *game.State, int) (game.Direction, error) {
		return game.North, nil
	})

	t.Run("crash", func(t *testing.T) {
		m := mustMatch(t, mustLayout(t, foodCorridor), 2, DefaultSettings)
		if err := m.StartWith(0); err != nil {
			t.Fatalf("start: %v", err)
		}
		r := &Runner{Rng: rand.New(rand.NewSource(1))}
		out, err := r.Run(context.Background(), m, []Agent{intoWall, NewRandomAgent(1)})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if out.Reason != ReasonCrash || out.Turns != 0 {
			t.Fatalf("outcome=%+v want immediate crash", out)
		}
	})

	t.Run("random", func(t *testing.T) {
		set := DefaultSettings
		set.Rules.MinFood = 0
		m := mustMatch(t, mustLayout(t, foodCorridor), 2, set)
		if err := m.StartWith(0); err != nil {
			t.Fatalf("start: %v", err)
		}
		timing := DefaultTiming
		timing.Illegal = IllegalRandom
		r := &Runner{Rng: rand.New(rand.NewSource(1)), Timing: timing}
		out, err := r.Run(context.Background(), m, []Agent{intoWall, NewRandomAgent(1)})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		// Two substituted moves are tolerated, the third illegal action crashes.
		if out.Reason != ReasonCrash || out.Crashed != 0 || out.Turns != 4 {
			t.Fatalf("outcome=%+v want crash of agent 0 after 4 moves", out)
		}
		for _, mv := range m.History() {
			if mv.Agent == 0 && mv.Action == game.North {
				t.Fatalf("illegal action made it into the history")
			}
		}
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	m := mustMatch(t, mustLayout(t, foodCorridor), 2, DefaultSettings)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Runner{Rng: rand.New(rand.NewSource(1))}
	if _, err := r.Run(ctx, m, randomAgents(2, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if m.Phase() != Running {
		t.Fatalf("phase=%s want=running", m.Phase())
	}
}
