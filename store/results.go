package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/brensch/capture/game"
	"github.com/brensch/capture/match"

	_ "modernc.org/sqlite"
)

// ResultsDB indexes finished matches in SQLite.
type ResultsDB struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Result is one finished match.
type Result struct {
	MatchID      string
	Layout       string
	RedTeam      string
	BlueTeam     string
	Winner       match.Winner
	Score        int
	Reason       match.Reason
	Turns        int
	CrashedAgent int
	CrashedTeam  string
	PlayedAt     time.Time
}

// NewResult combines an outcome with the team names that played it.
func NewResult(out match.Outcome, layout, red, blue string) Result {
	return Result{
		MatchID:      out.MatchID,
		Layout:       layout,
		RedTeam:      red,
		BlueTeam:     blue,
		Winner:       out.Winner,
		Score:        out.Score,
		Reason:       out.Reason,
		Turns:        out.Turns,
		CrashedAgent: out.Crashed,
		CrashedTeam:  out.CrashedTeam,
		PlayedAt:     time.Now().UTC(),
	}
}

// TeamStats aggregates every result a team took part in. Points are three per
// win and one per draw; Percent is points over the maximum available.
type TeamStats struct {
	Team    string  `json:"team"`
	Played  int     `json:"played"`
	Wins    int     `json:"wins"`
	Draws   int     `json:"draws"`
	Losses  int     `json:"losses"`
	Crashes int     `json:"crashes"`
	Points  int     `json:"points"`
	Percent float64 `json:"percent"`
	// Score sums the winning margins.
	Score int `json:"score"`
}

// OpenResults opens (creating if needed) the results database at path.
func OpenResults(ctx context.Context, path string) (*ResultsDB, error) {
	if path == "" {
		return nil, errors.New("results db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create results dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1) // SQLite only supports one writer
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &ResultsDB{conn: conn}
	if err := db.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *ResultsDB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		match_id TEXT PRIMARY KEY,
		layout TEXT NOT NULL,
		red_team TEXT NOT NULL,
		blue_team TEXT NOT NULL,
		winner TEXT NOT NULL,          -- red, blue or tie
		score INTEGER NOT NULL,        -- positive favors red
		reason TEXT NOT NULL,
		turns INTEGER NOT NULL,
		crashed_agent INTEGER NOT NULL, -- -1 when nobody crashed
		crashed_team TEXT NOT NULL,
		played_at INTEGER NOT NULL     -- unix millis
	);

	CREATE INDEX IF NOT EXISTS idx_results_red ON results(red_team);
	CREATE INDEX IF NOT EXISTS idx_results_blue ON results(blue_team);
	`

	db.mu.Lock()
	defer db.mu.Unlock()

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.conn.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (db *ResultsDB) Close() error { return db.conn.Close() }

// Record stores r. Recording the same match twice keeps the first result.
func (db *ResultsDB) Record(ctx context.Context, r Result) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO results
			(match_id, layout, red_team, blue_team, winner, score, reason, turns, crashed_agent, crashed_team, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MatchID, r.Layout, r.RedTeam, r.BlueTeam, string(r.Winner), r.Score, string(r.Reason),
		r.Turns, r.CrashedAgent, r.CrashedTeam, r.PlayedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert result %s: %w", r.MatchID, err)
	}
	return nil
}

// Get returns the result for matchID and whether it exists.
func (db *ResultsDB) Get(ctx context.Context, matchID string) (Result, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var r Result
	var winner, reason string
	var playedAt int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT match_id, layout, red_team, blue_team, winner, score, reason, turns, crashed_agent, crashed_team, played_at
		FROM results WHERE match_id = ?`, matchID,
	).Scan(&r.MatchID, &r.Layout, &r.RedTeam, &r.BlueTeam, &winner, &r.Score, &reason, &r.Turns, &r.CrashedAgent, &r.CrashedTeam, &playedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	r.Winner = match.Winner(winner)
	r.Reason = match.Reason(reason)
	r.PlayedAt = time.UnixMilli(playedAt).UTC()
	return r, true, nil
}

// List returns results newest first, plus the total number recorded.
func (db *ResultsDB) List(ctx context.Context, limit, offset int) ([]Result, int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var total int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM results").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count results: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT match_id, layout, red_team, blue_team, winner, score, reason, turns, crashed_agent, crashed_team, played_at
		FROM results ORDER BY played_at DESC, match_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	out := make([]Result, 0, min(limit, total))
	for rows.Next() {
		var r Result
		var winner, reason string
		var playedAt int64
		if err := rows.Scan(&r.MatchID, &r.Layout, &r.RedTeam, &r.BlueTeam, &winner, &r.Score, &reason, &r.Turns, &r.CrashedAgent, &r.CrashedTeam, &playedAt); err != nil {
			return nil, 0, err
		}
		r.Winner = match.Winner(winner)
		r.Reason = match.Reason(reason)
		r.PlayedAt = time.UnixMilli(playedAt).UTC()
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// TeamStats aggregates all recorded results per team, best percentage first.
func (db *ResultsDB) TeamStats(ctx context.Context) ([]TeamStats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT red_team, blue_team, winner, score, crashed_team FROM results")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byTeam := make(map[string]*TeamStats)
	get := func(name string) *TeamStats {
		st, ok := byTeam[name]
		if !ok {
			st = &TeamStats{Team: name}
			byTeam[name] = st
		}
		return st
	}

	for rows.Next() {
		var red, blue, winner, crashed string
		var score int
		if err := rows.Scan(&red, &blue, &winner, &score, &crashed); err != nil {
			return nil, err
		}
		rs, bs := get(red), get(blue)
		rs.Played++
		bs.Played++
		switch match.Winner(winner) {
		case match.WinnerRed:
			rs.Wins++
			rs.Score += score
			bs.Losses++
		case match.WinnerBlue:
			bs.Wins++
			bs.Score += -score
			rs.Losses++
		default:
			rs.Draws++
			bs.Draws++
		}
		switch crashed {
		case game.Red.String():
			rs.Crashes++
		case game.Blue.String():
			bs.Crashes++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TeamStats, 0, len(byTeam))
	for _, st := range byTeam {
		st.Points = 3*st.Wins + st.Draws
		if st.Played > 0 {
			st.Percent = float64(st.Points) * 100 / float64(3*st.Played)
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Percent != out[j].Percent {
			return out[i].Percent > out[j].Percent
		}
		return out[i].Team < out[j].Team
	})
	return out, nil
}
