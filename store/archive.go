// Package store persists matches: a parquet turn archive, a compressed replay
// log and a SQLite results index.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brensch/capture/game"
	"github.com/brensch/capture/match"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const archiveSchema = "capture_turn_v1"

// ArchiveTurnRow is a single (match, turn) snapshot intended for long-term
// storage. Turn -1 holds the opening position; every other row is the state
// right after Agent played Action.
type ArchiveTurnRow struct {
	MatchID string `parquet:"match_id,dict"`
	Turn    int32  `parquet:"turn"`
	Layout  string `parquet:"layout,dict"`
	Width   int32  `parquet:"width"`
	Height  int32  `parquet:"height"`

	Agent  int32  `parquet:"agent"`
	Action string `parquet:"action,dict"`

	Score    int32 `parquet:"score"`
	TimeLeft int32 `parquet:"time_left"`
	Win      bool  `parquet:"win"`

	FoodX []int32 `parquet:"food_x"`
	FoodY []int32 `parquet:"food_y"`

	CapsuleX []int32 `parquet:"capsule_x"`
	CapsuleY []int32 `parquet:"capsule_y"`

	Agents []ArchiveAgent `parquet:"agents"`

	Source string `parquet:"source,dict"`
}

type ArchiveAgent struct {
	Index       int32   `parquet:"index"`
	Team        string  `parquet:"team,dict"`
	Role        string  `parquet:"role,dict"`
	X           float32 `parquet:"x"`
	Y           float32 `parquet:"y"`
	Dir         string  `parquet:"dir,dict"`
	ScaredTimer int32   `parquet:"scared_timer"`
	Carrying    int32   `parquet:"carrying"`
	Returned    int32   `parquet:"returned"`
}

// NewTurnRow flattens s. agent is -1 for the opening position.
func NewTurnRow(matchID, layout, source string, turn, agent int, action game.Direction, s *game.State) ArchiveTurnRow {
	row := ArchiveTurnRow{
		MatchID:  matchID,
		Turn:     int32(turn),
		Layout:   layout,
		Width:    int32(s.Maze.Width),
		Height:   int32(s.Maze.Height),
		Agent:    int32(agent),
		Score:    int32(s.Score),
		TimeLeft: int32(s.TimeLeft),
		Win:      s.Win,
		Source:   source,
	}
	if agent >= 0 {
		row.Action = action.String()
	}

	food := s.Food.Cells()
	if len(food) > 0 {
		row.FoodX = make([]int32, 0, len(food))
		row.FoodY = make([]int32, 0, len(food))
		for _, c := range food {
			row.FoodX = append(row.FoodX, int32(c.X))
			row.FoodY = append(row.FoodY, int32(c.Y))
		}
	}
	for _, c := range s.Capsules {
		row.CapsuleX = append(row.CapsuleX, int32(c.X))
		row.CapsuleY = append(row.CapsuleY, int32(c.Y))
	}

	row.Agents = make([]ArchiveAgent, 0, len(s.Agents))
	for i, a := range s.Agents {
		ar := ArchiveAgent{
			Index:       int32(i),
			Team:        s.TeamOf(i).String(),
			Role:        a.Role.String(),
			ScaredTimer: int32(a.ScaredTimer),
			Carrying:    int32(a.Carrying),
			Returned:    int32(a.Returned),
		}
		if a.Config != nil {
			ar.X = float32(a.Config.Pos.X)
			ar.Y = float32(a.Config.Pos.Y)
			ar.Dir = a.Config.Dir.String()
		}
		row.Agents = append(row.Agents, ar)
	}
	return row
}

// Recorder collects archive rows for one match. Attach Observe with
// match.WithObserver and call Opening once before the first move.
type Recorder struct {
	MatchID string
	Layout  string
	Source  string

	rows []ArchiveTurnRow
}

func NewRecorder(matchID, layout, source string) *Recorder {
	return &Recorder{MatchID: matchID, Layout: layout, Source: source, rows: make([]ArchiveTurnRow, 0, 256)}
}

func (r *Recorder) Opening(s *game.State) {
	r.rows = append(r.rows, NewTurnRow(r.MatchID, r.Layout, r.Source, -1, -1, game.Stop, s))
}

func (r *Recorder) Observe(ev match.TurnEvent) {
	r.rows = append(r.rows, NewTurnRow(r.MatchID, r.Layout, r.Source, ev.Turn, ev.Agent, ev.Action, ev.State))
}

func (r *Recorder) Rows() []ArchiveTurnRow { return r.rows }

func WriteArchiveParquet(outPath string, rows []ArchiveTurnRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// Write to a temp file and rename atomically.
	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", archiveSchema),
	); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

func ReadArchiveParquet(path string) ([]ArchiveTurnRow, error) {
	rows, err := parquet.ReadFile[ArchiveTurnRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// Segment describes one sealed archive file.
type Segment struct {
	Path    string
	Matches int
	Rows    int
}

// openSegment is the file currently taking rows. It lives under dir/tmp until
// sealed, so readers of dir only ever see complete files.
type openSegment struct {
	tmpPath string
	outPath string
	file    *os.File
	writer  *parquet.GenericWriter[ArchiveTurnRow]
	matches int
	rows    int
}

// Archive appends finished matches to parquet segments in dir. A segment is
// sealed once it holds MatchesPerSegment matches, or on Flush and Close.
type Archive struct {
	dir               string
	matchesPerSegment int

	mu     sync.Mutex
	seq    int
	cur    *openSegment
	sealed []Segment
	closed bool
}

func OpenArchive(dir string, matchesPerSegment int) (*Archive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	if err := os.MkdirAll(filepath.Join(abs, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{dir: abs, matchesPerSegment: max(matchesPerSegment, 1)}, nil
}

func (a *Archive) Dir() string { return a.dir }

// Segments lists the files sealed so far, oldest first.
func (a *Archive) Segments() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Segment(nil), a.sealed...)
}

// Pending is the number of matches written to the open segment.
func (a *Archive) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil {
		return 0
	}
	return a.cur.matches
}

// Add writes one match. When this fills the open segment, the segment is
// sealed and returned with ok set.
func (a *Archive) Add(rows []ArchiveTurnRow) (seg Segment, ok bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Segment{}, false, fmt.Errorf("archive is closed")
	}
	if len(rows) == 0 {
		return Segment{}, false, nil
	}
	if a.cur == nil {
		if a.cur, err = a.startSegment(); err != nil {
			return Segment{}, false, err
		}
	}
	if _, err := a.cur.writer.Write(rows); err != nil {
		return Segment{}, false, fmt.Errorf("write %s: %w", rows[0].MatchID, err)
	}
	a.cur.rows += len(rows)
	a.cur.matches++
	if a.cur.matches < a.matchesPerSegment {
		return Segment{}, false, nil
	}
	seg, err = a.sealLocked()
	return seg, err == nil, err
}

// Flush seals the open segment, if it holds anything.
func (a *Archive) Flush() (seg Segment, ok bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil {
		return Segment{}, false, nil
	}
	seg, err = a.sealLocked()
	return seg, err == nil, err
}

// Close flushes and refuses further writes.
func (a *Archive) Close() error {
	_, _, err := a.Flush()
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return err
}

func (a *Archive) startSegment() (*openSegment, error) {
	a.seq++
	name := fmt.Sprintf("capture_%d_%04d.parquet", time.Now().UnixNano(), a.seq)
	seg := &openSegment{
		tmpPath: filepath.Join(a.dir, "tmp", name),
		outPath: filepath.Join(a.dir, name),
	}
	f, err := os.OpenFile(seg.tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	seg.file = f
	seg.writer = parquet.NewGenericWriter[ArchiveTurnRow](f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	seg.writer.SetKeyValueMetadata("schema", archiveSchema)
	return seg, nil
}

// sealLocked closes the open segment and moves it out of tmp/. A segment
// with no rows is discarded.
func (a *Archive) sealLocked() (Segment, error) {
	cur := a.cur
	a.cur = nil

	werr := cur.writer.Close()
	_ = cur.file.Sync()
	ferr := cur.file.Close()
	if err := errors.Join(werr, ferr); err != nil {
		_ = os.Remove(cur.tmpPath)
		return Segment{}, fmt.Errorf("close segment: %w", err)
	}
	if cur.rows == 0 {
		_ = os.Remove(cur.tmpPath)
		return Segment{}, nil
	}
	if err := os.Rename(cur.tmpPath, cur.outPath); err != nil {
		return Segment{}, fmt.Errorf("seal segment: %w", err)
	}
	seg := Segment{Path: cur.outPath, Matches: cur.matches, Rows: cur.rows}
	a.sealed = append(a.sealed, seg)
	return seg, nil
}
