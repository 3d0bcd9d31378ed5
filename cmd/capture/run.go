package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/capture/config"
	"github.com/brensch/capture/distance"
	"github.com/brensch/capture/match"
	"github.com/brensch/capture/maze"
	"github.com/brensch/capture/spectate"
	"github.com/brensch/capture/store"
	"golang.org/x/sync/errgroup"
)

var totalMoves atomic.Int64
var totalMatches atomic.Int64

// matchUpdate is sent to the dashboard after every finished match.
type matchUpdate struct {
	Index   int
	Outcome match.Outcome
	Board   string
	Elapsed time.Duration
}

type runOptions struct {
	cfg           config.File
	layout        *maze.Layout
	log           *slog.Logger
	hub           *spectate.Hub
	gamesPerFlush int
	// updates may be nil. Sends never block.
	updates chan<- matchUpdate
}

type runSummary struct {
	Played   int
	Moves    int64
	Archives []string
	Stats    []store.TeamStats
}

// runMatches plays cfg.Run.Matches matches on up to cfg.Run.Workers
// goroutines and persists every finished one.
func runMatches(ctx context.Context, o runOptions) (runSummary, error) {
	cfg := o.cfg
	log := o.log

	results, err := store.OpenResults(ctx, cfg.Output.ResultsDB)
	if err != nil {
		return runSummary{}, fmt.Errorf("open results: %w", err)
	}
	defer results.Close()

	replays, err := store.OpenReplayWriter(cfg.Output.ReplayLog)
	if err != nil {
		return runSummary{}, err
	}
	defer replays.Close()

	archive, err := store.OpenArchive(cfg.Output.ArchiveDir, o.gamesPerFlush)
	if err != nil {
		return runSummary{}, err
	}

	sink := &matchSink{
		log:     log,
		archive: archive,
		replays: replays,
		results: results,
		red:     cfg.Run.RedTeam,
		blue:    cfg.Run.BlueTeam,
	}

	// One distance table per maze, shared by every match.
	cache := distance.NewCache()
	set := cfg.MatchSettings()
	timing := cfg.Timing()
	var streaming atomic.Bool

	start := time.Now()
	movesBefore := totalMoves.Load()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Run.Workers)
	for i := 0; i < cfg.Run.Matches; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			seed := cfg.Run.Seed + int64(i)
			rng := rand.New(rand.NewSource(seed))

			var rec *store.Recorder
			opts := []match.Option{
				match.WithLogger(log),
				match.WithCache(cache),
				match.WithObserver(func(ev match.TurnEvent) { rec.Observe(ev) }),
			}
			// Spectators follow one match at a time.
			streamed := o.hub != nil && streaming.CompareAndSwap(false, true)
			if streamed {
				defer streaming.Store(false)
				opts = append(opts, match.WithObserver(o.hub.Frame))
			}

			m, err := match.New(o.layout, cfg.Run.Agents, set, opts...)
			if err != nil {
				return err
			}
			rec = store.NewRecorder(m.ID, o.layout.Name, "capture")
			if err := m.Start(rng); err != nil {
				return err
			}
			rec.Opening(m.State())
			if streamed {
				o.hub.GameInfo(m)
			}

			agents := make([]match.Agent, cfg.Run.Agents)
			for j := range agents {
				agents[j] = match.NewRandomAgent(seed*int64(len(agents)) + int64(j))
			}
			runner := match.Runner{
				Timing: timing,
				Rng:    rng,
				Logger: log,
				OnStep: func(*match.Match) { totalMoves.Add(1) },
			}
			began := time.Now()
			out, err := runner.Run(gctx, m, agents)
			if err != nil {
				return err
			}
			if streamed {
				o.hub.GameEnd(out)
			}
			if err := sink.save(gctx, m, rec, out); err != nil {
				return err
			}
			total := totalMatches.Add(1)
			log.Info("match finished",
				"n", total,
				"match", out.MatchID,
				"winner", out.Winner,
				"score", out.Score,
				"reason", out.Reason,
				"turns", out.Turns,
			)

			if o.updates != nil {
				select {
				case o.updates <- matchUpdate{Index: i, Outcome: out, Board: renderBoard(m.State()), Elapsed: time.Since(began)}:
				default:
				}
			}
			return nil
		})
	}
	runErr := g.Wait()
	if err := sink.close(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	sum := runSummary{
		Played: sink.played,
		Moves:  totalMoves.Load() - movesBefore,
	}
	for _, seg := range archive.Segments() {
		sum.Archives = append(sum.Archives, seg.Path)
	}
	// Stats use a fresh context so a cancelled run still reports.
	statsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats, err := results.TeamStats(statsCtx)
	if err != nil {
		return sum, errors.Join(runErr, err)
	}
	sum.Stats = stats
	log.Info("run finished", "matches", sum.Played, "moves", sum.Moves, "took", time.Since(start).Round(time.Millisecond))
	return sum, runErr
}

// matchSink serialises persistence of finished matches.
type matchSink struct {
	log     *slog.Logger
	archive *store.Archive
	replays *store.ReplayWriter
	results *store.ResultsDB
	red     string
	blue    string

	mu     sync.Mutex
	played int
}

func (s *matchSink) save(ctx context.Context, m *match.Match, rec *store.Recorder, out match.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, sealed, err := s.archive.Add(rec.Rows())
	if err != nil {
		s.log.Error("parquet flush failed", "dir", s.archive.Dir(), "error", err)
		return fmt.Errorf("archive %s: %w", out.MatchID, err)
	}
	if sealed {
		s.log.Info("parquet flush ok", "path", seg.Path, "matches", seg.Matches, "rows", seg.Rows)
	}
	if err := s.replays.Write(m.Record()); err != nil {
		return fmt.Errorf("replay %s: %w", out.MatchID, err)
	}
	if err := s.results.Record(ctx, store.NewResult(out, m.Layout.Name, s.red, s.blue)); err != nil {
		return err
	}
	s.played++
	return nil
}

func (s *matchSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, sealed, err := s.archive.Flush()
	if err != nil {
		s.log.Error("parquet flush failed", "dir", s.archive.Dir(), "error", err)
		return err
	}
	if sealed {
		s.log.Info("parquet flush ok", "path", seg.Path, "matches", seg.Matches, "rows", seg.Rows)
	}
	return s.archive.Close()
}

// serveSpectators runs the spectator endpoint until ctx is done.
func serveSpectators(ctx context.Context, addr string, hub *spectate.Hub, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info("spectator server listening", "addr", addr, "path", "/ws")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
