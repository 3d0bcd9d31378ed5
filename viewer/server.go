// Package viewer serves recorded matches, results and team standings as a
// JSON API, with an optional live spectator stream.
package viewer

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brensch/capture/match"
	"github.com/brensch/capture/rules"
	"github.com/brensch/capture/spectate"
	"github.com/brensch/capture/store"
)

// Server holds shared state for HTTP handlers.
type Server struct {
	results *store.ResultsDB
	replays *replayCache
	rules   rules.Settings
	hub     *spectate.Hub
}

// NewServer serves results from db and replays from the log at replayLog.
// rules must be the settings the matches were played under. hub may be nil.
func NewServer(db *store.ResultsDB, replayLog string, set rules.Settings, hub *spectate.Hub) *Server {
	return &Server{
		results: db,
		replays: &replayCache{path: replayLog},
		rules:   set,
		hub:     hub,
	}
}

// RegisterRoutes sets up all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/games", s.handleGames)
	mux.HandleFunc("/api/games/", s.handleGame)
	mux.HandleFunc("/api/stats", s.handleStats)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	limit := parseIntQuery(r, "limit", 100)
	offset := parseIntQuery(r, "offset", 0)
	results, total, err := s.results.List(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	games := make([]GameSummary, 0, len(results))
	for _, res := range results {
		games = append(games, summarize(res))
	}
	writeJSON(w, GamesResponse{Total: total, Games: games})
}

// handleGame serves /api/games/{id} and /api/games/{id}/turns.
func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/games/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "turns") {
		http.NotFound(w, r)
		return
	}
	id, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "bad game id", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		res, ok, err := s.results.Get(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, summarize(res))
		return
	}

	rec, ok, err := s.replays.find(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	states, err := match.Replay(rec, s.rules)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := TurnsResponse{
		ID:     rec.MatchID,
		Layout: rec.LayoutText,
		Width:  states[0].Maze.Width,
		Height: states[0].Maze.Height,
		Turns:  make([]Turn, 0, len(states)),
	}
	resp.Turns = append(resp.Turns, newTurn(0, -1, "", states[0]))
	for i, mv := range rec.Moves {
		resp.Turns = append(resp.Turns, newTurn(i+1, mv.Agent, mv.Action.String(), states[i+1]))
	}
	writeJSON(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	stats, err := s.results.TeamStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// replayCache re-reads the replay log only when the file has changed.
type replayCache struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	byID    map[string]match.Record
}

func (c *replayCache) find(id string) (match.Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fi, err := os.Stat(c.path)
	if os.IsNotExist(err) {
		return match.Record{}, false, nil
	}
	if err != nil {
		return match.Record{}, false, err
	}
	if c.byID == nil || !fi.ModTime().Equal(c.modTime) || fi.Size() != c.size {
		recs, err := store.ReadReplays(c.path)
		if err != nil {
			return match.Record{}, false, err
		}
		c.byID = make(map[string]match.Record, len(recs))
		for _, rec := range recs {
			c.byID[rec.MatchID] = rec
		}
		c.modTime, c.size = fi.ModTime(), fi.Size()
	}
	rec, ok := c.byID[id]
	return rec, ok, nil
}
