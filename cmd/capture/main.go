// Command capture runs capture-the-flag matches between random agents,
// records them and inspects the recordings.
//
//	capture run      play matches (default)
//	capture replay   re-simulate a recorded match
//	capture stats    print team standings from the results database
//	capture layouts  download layouts from an HTML index
//	capture serve    serve recorded matches as a JSON API
//	capture watch    follow a live match over websocket
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/brensch/capture/config"
	"github.com/brensch/capture/layouts"
	"github.com/brensch/capture/logging"
	"github.com/brensch/capture/match"
	"github.com/brensch/capture/spectate"
	"github.com/brensch/capture/store"
	"github.com/brensch/capture/viewer"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

func main() {
	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "run":
		err = cmdRun(sigCtx, args)
	case "replay":
		err = cmdReplay(args)
	case "stats":
		err = cmdStats(sigCtx, args)
	case "layouts":
		err = cmdLayouts(sigCtx, args)
	case "serve":
		err = cmdServe(sigCtx, args)
	case "watch":
		err = cmdWatch(sigCtx, args)
	default:
		err = fmt.Errorf("unknown command %q (want run, replay, stats, layouts, serve or watch)", cmd)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("capture %s: %v", cmd, err)
	}
}

// loadConfig reads the config file if one is given and then applies the
// flags that were set explicitly on the command line. Without a file every
// flag applies, so environment defaults take effect.
func loadConfig(fs *flag.FlagSet, path string, apply func(f *config.File, name string)) (config.File, error) {
	cfg := config.Default()
	visit := fs.VisitAll
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
		visit = fs.Visit
	}
	visit(func(f *flag.Flag) { apply(&cfg, f.Name) })
	return cfg, cfg.Validate()
}

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", getEnvOrDefault("CAPTURE_CONFIG", ""), "YAML config file")
	matches := fs.Int("matches", getEnvIntOrDefault("MATCHES", 1), "Number of matches to play")
	workers := fs.Int("workers", getEnvIntOrDefault("WORKERS", 1), "Matches played in parallel")
	agents := fs.Int("agents", 4, "Agents per match")
	seed := fs.Int64("seed", time.Now().UnixNano(), "Seed for match and agent randomness")
	layoutName := fs.String("layout", getEnvOrDefault("LAYOUT", layouts.DefaultName), "Layout name or path")
	length := fs.Int("length", match.DefaultSettings.Length, "Total moves per match")
	moveTimeout := fs.Duration("move-timeout", getEnvDurationOrDefault("MOVE_TIMEOUT", match.DefaultTiming.MoveTimeout), "Hard limit for one move")
	illegal := fs.String("illegal", string(match.IllegalCrash), "Illegal action policy: crash or random")
	outDir := fs.String("out-dir", getEnvOrDefault("OUT_DIR", ""), "Directory for archive, replays and results (overrides the output section)")
	gamesPerFlush := fs.Int("games-per-flush", getEnvIntOrDefault("FLUSH_GAMES", 50), "Matches per parquet archive segment")
	spectateAddr := fs.String("spectate", getEnvOrDefault("SPECTATE_ADDR", ""), "Serve live matches on this address, e.g. :8080")
	useTUI := fs.Bool("tui", getEnvBoolOrDefault("TUI", false), "Show a live dashboard")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")
	logFormat := fs.String("log-format", logging.FormatText, "text, json or pretty")
	logFile := fs.String("log-file", "", "Write logs here instead of stderr (default capture.log with -tui)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(fs, *configPath, func(f *config.File, name string) {
		switch name {
		case "matches":
			f.Run.Matches = *matches
		case "workers":
			f.Run.Workers = *workers
		case "agents":
			f.Run.Agents = *agents
		case "seed":
			f.Run.Seed = *seed
		case "layout":
			f.Layouts.Name = *layoutName
		case "length":
			f.Match.Length = *length
		case "move-timeout":
			f.Match.MoveTimeout = *moveTimeout
		case "illegal":
			f.Match.IllegalPolicy = *illegal
		case "out-dir":
			if *outDir == "" {
				return
			}
			f.Output.ArchiveDir = filepath.Join(*outDir, "archive")
			f.Output.ReplayLog = filepath.Join(*outDir, "replays.jsonl.zst")
			f.Output.ResultsDB = filepath.Join(*outDir, "results.db")
		case "spectate":
			f.Spectate.Addr = *spectateAddr
		case "log-level":
			f.Log.Level = *logLevel
		case "log-format":
			f.Log.Format = *logFormat
		}
	})
	if err != nil {
		return err
	}

	var logOut io.Writer = os.Stderr
	if *useTUI && *logFile == "" {
		*logFile = "capture.log"
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger, err := cfg.Logger(logOut)
	if err != nil {
		return err
	}

	l, err := layouts.Load(cfg.Layouts.Name, cfg.Layouts.Dirs...)
	if err != nil {
		return err
	}
	logger.Info("starting run",
		"layout", l.Name,
		"matches", cfg.Run.Matches,
		"workers", cfg.Run.Workers,
		"agents", cfg.Run.Agents,
		"seed", cfg.Run.Seed,
		"length", cfg.Match.Length,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var hub *spectate.Hub
	serverDone := make(chan error, 1)
	if cfg.Spectate.Addr != "" {
		hub = spectate.NewHub(logger)
		go func() { serverDone <- serveSpectators(ctx, cfg.Spectate.Addr, hub, logger) }()
	} else {
		serverDone <- nil
	}

	opts := runOptions{cfg: cfg, layout: l, log: logger, hub: hub, gamesPerFlush: *gamesPerFlush}

	var sum runSummary
	if *useTUI {
		updates := make(chan matchUpdate, cfg.Run.Workers)
		opts.updates = updates
		p := tea.NewProgram(initialModel(updates, cfg.Run.Matches), tea.WithAltScreen(), tea.WithContext(ctx))
		runDone := make(chan error, 1)
		go func() {
			var err error
			sum, err = runMatches(ctx, opts)
			p.Send(runDoneMsg{err: err})
			runDone <- err
		}()
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logger.Error("dashboard failed", "error", err)
		}
		// Leaving the dashboard stops the run.
		cancel()
		err = <-runDone
	} else {
		sum, err = runMatches(ctx, opts)
	}
	cancel()
	if serr := <-serverDone; serr != nil && !errors.Is(serr, context.Canceled) {
		logger.Warn("spectator server", "error", serr)
	}

	fmt.Printf("played %d matches, %d moves\n", sum.Played, sum.Moves)
	for _, a := range sum.Archives {
		fmt.Printf("archive: %s\n", a)
	}
	if len(sum.Stats) > 0 {
		fmt.Println(statsTable(sum.Stats))
	}
	return err
}

func statsTable(stats []store.TeamStats) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Team", "Played", "W", "D", "L", "Points", "%", "Score", "Crashes")
	for _, s := range stats {
		t.Row(s.Team,
			fmt.Sprint(s.Played),
			fmt.Sprint(s.Wins),
			fmt.Sprint(s.Draws),
			fmt.Sprint(s.Losses),
			fmt.Sprint(s.Points),
			fmt.Sprintf("%.1f", s.Percent),
			fmt.Sprint(s.Score),
			fmt.Sprint(s.Crashes),
		)
	}
	return t.String()
}

func cmdReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	logPath := fs.String("log", getEnvOrDefault("REPLAY_LOG", config.Default().Output.ReplayLog), "Replay log to read")
	id := fs.String("id", "", "Match to replay; lists recorded matches when empty")
	configPath := fs.String("config", getEnvOrDefault("CAPTURE_CONFIG", ""), "YAML config file with the rules the match was played under")
	every := fs.Bool("every", false, "Print every snapshot, not just the last")
	_ = fs.Parse(args)

	if *id == "" {
		recs, err := store.ReadReplays(*logPath)
		if err != nil {
			return err
		}
		for _, r := range recs {
			fmt.Printf("%s  %-12s agents=%d moves=%d\n", r.MatchID, r.LayoutName, r.Agents, len(r.Moves))
		}
		return nil
	}

	cfg, err := loadConfig(fs, *configPath, func(*config.File, string) {})
	if err != nil {
		return err
	}
	rec, err := store.FindReplay(*logPath, *id)
	if err != nil {
		return err
	}
	states, err := match.Replay(rec, cfg.RuleSettings())
	if err != nil {
		return err
	}

	show := states[len(states)-1:]
	if *every {
		show = states
	}
	first := len(states) - len(show)
	for i, s := range show {
		turn := first + i
		if turn == 0 {
			fmt.Printf("opening (agent %d moves first)\n", rec.Starter)
		} else {
			mv := rec.Moves[turn-1]
			fmt.Printf("turn %d: agent %d %s\n", turn, mv.Agent, mv.Action)
		}
		fmt.Print(renderBoard(s))
		fmt.Print(describeAgents(s))
		fmt.Printf("score=%d timeLeft=%d win=%v\n\n", s.Score, s.TimeLeft, s.Win)
	}
	final := states[len(states)-1]
	fmt.Printf("%s: %s by %d\n", rec.MatchID, match.WinnerFromScore(final.Score), max(final.Score, -final.Score))
	return nil
}

func cmdStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dbPath := fs.String("db", getEnvOrDefault("RESULTS_DB", config.Default().Output.ResultsDB), "Results database")
	_ = fs.Parse(args)

	db, err := store.OpenResults(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	stats, err := db.TeamStats(ctx)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Println("no results recorded")
		return nil
	}
	fmt.Println(statsTable(stats))
	return nil
}

func cmdLayouts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("layouts", flag.ExitOnError)
	index := fs.String("index", getEnvOrDefault("LAYOUT_INDEX", ""), "Comma separated index page URLs")
	outDir := fs.String("out", "layouts", "Directory to save layouts in")
	maxLayouts := fs.Int("max", 0, "Maximum layouts per index (0 = unlimited)")
	delay := fs.Duration("delay", getEnvDurationOrDefault("DELAY", layouts.DefaultConfig().RequestDelay), "Delay between HTTP requests")
	_ = fs.Parse(args)

	logger := slog.New(logging.NewPrettyJSONHandler(os.Stderr, nil))

	var urls []string
	for _, u := range strings.Split(*index, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return errors.New("no -index given")
	}

	existing, err := layouts.LoadDir(*outDir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(existing))
	for _, l := range existing {
		names = append(names, l.Name)
	}

	cfg := layouts.DefaultConfig()
	cfg.IndexURLs = urls
	cfg.MaxLayouts = *maxLayouts
	cfg.RequestDelay = *delay
	found, err := layouts.NewWorker(cfg, logger, names).Discover(ctx)
	for _, l := range found {
		p, serr := layouts.Save(*outDir, l)
		if serr != nil {
			return serr
		}
		logger.Info("layout saved", "path", p, "agents", len(l.Starts), "food", l.TotalFood())
	}
	fmt.Printf("saved %d new layouts to %s\n", len(found), *outDir)
	return err
}

func cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	url := fs.String("url", getEnvOrDefault("SPECTATE_URL", "ws://localhost:8080/ws"), "Spectator websocket URL")
	readTimeout := fs.Duration("read-timeout", 30*time.Second, "Give up after this long without a message")
	_ = fs.Parse(args)

	cfg := spectate.DefaultFollowConfig()
	cfg.ReadTimeout = *readTimeout
	tr, err := spectate.Follow(ctx, *url, cfg, func(f spectate.Frame) {
		fmt.Printf("turn %4d  agent %d %-5s  score %+d  left %d\n", f.Turn, f.Agent, f.Action, f.Score, f.TimeLeft)
	})
	if tr.Info.MatchID != "" {
		fmt.Printf("match %s on %s (%dx%d, %d agents)\n", tr.Info.MatchID, tr.Info.Layout, tr.Info.Width, tr.Info.Height, len(tr.Info.Teams))
	}
	if tr.End != nil {
		fmt.Printf("%s wins by %d (%s, %d turns)\n", tr.End.Winner, max(tr.End.Score, -tr.End.Score), tr.End.Reason, tr.End.Turns)
	}
	return err
}

func cmdServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", getEnvOrDefault("VIEWER_ADDR", ":8081"), "Listen address")
	configPath := fs.String("config", getEnvOrDefault("CAPTURE_CONFIG", ""), "YAML config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(fs, *configPath, func(*config.File, string) {})
	if err != nil {
		return err
	}
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	db, err := store.OpenResults(ctx, cfg.Output.ResultsDB)
	if err != nil {
		return err
	}
	defer db.Close()

	mux := http.NewServeMux()
	viewer.NewServer(db, cfg.Output.ReplayLog, cfg.RuleSettings(), nil).RegisterRoutes(mux)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info("viewer listening", "addr", *addr, "results", cfg.Output.ResultsDB, "replays", cfg.Output.ReplayLog)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
