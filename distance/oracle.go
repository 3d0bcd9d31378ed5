// Package distance computes and caches maze distances: shortest path lengths
// over the open cells of a maze, moving between 4-neighbors at unit cost.
//
// Tables are expensive (one breadth-first search per open cell) so they are
// shared through a Cache keyed by the maze's wall layout. A Distancer answers
// queries for one maze and falls back to Manhattan distance until its table
// has been computed.
package distance

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/brensch/capture/maze"
	"golang.org/x/sync/singleflight"
)

var ErrPositionNotFound = errors.New("position not found in distance table")

// Unreachable is stored for pairs of open cells with no path between them.
const Unreachable = math.MaxInt32

// Table holds the distance between every ordered pair of open cells.
type Table struct {
	width  int
	height int
	node   []int32 // cell index -> node id, -1 for walls
	n      int
	dist   []int32 // n*n, row = source
}

// Compute builds the table for m.
func Compute(m *maze.Maze) *Table {
	t := &Table{
		width:  m.Width,
		height: m.Height,
		node:   make([]int32, m.Width*m.Height),
	}
	for i := range t.node {
		t.node[i] = -1
	}
	cells := m.OpenCells()
	for i, c := range cells {
		t.node[c.X*m.Height+c.Y] = int32(i)
	}
	t.n = len(cells)
	t.dist = make([]int32, t.n*t.n)

	queue := make([]int32, 0, t.n)
	for src := range cells {
		row := t.dist[src*t.n : (src+1)*t.n]
		for i := range row {
			row[i] = Unreachable
		}
		row[src] = 0
		queue = append(queue[:0], int32(src))
		for head := 0; head < len(queue); head++ {
			cur := cells[queue[head]]
			d := row[queue[head]] + 1
			for _, nb := range [4]maze.Cell{
				{X: cur.X, Y: cur.Y + 1},
				{X: cur.X, Y: cur.Y - 1},
				{X: cur.X + 1, Y: cur.Y},
				{X: cur.X - 1, Y: cur.Y},
			} {
				id := t.lookup(nb)
				if id < 0 || row[id] != Unreachable {
					continue
				}
				row[id] = d
				queue = append(queue, id)
			}
		}
	}
	return t
}

func (t *Table) lookup(c maze.Cell) int32 {
	if c.X < 0 || c.Y < 0 || c.X >= t.width || c.Y >= t.height {
		return -1
	}
	return t.node[c.X*t.height+c.Y]
}

// Nodes is the number of open cells covered by the table.
func (t *Table) Nodes() int { return t.n }

// Grid returns the distance between two cells. Walls and open cells with no
// path between them are ErrPositionNotFound.
func (t *Table) Grid(a, b maze.Cell) (int, error) {
	ia, ib := t.lookup(a), t.lookup(b)
	if ia < 0 || ib < 0 {
		return 0, fmt.Errorf("%w: (%d,%d)->(%d,%d)", ErrPositionNotFound, a.X, a.Y, b.X, b.Y)
	}
	d := t.dist[int(ia)*t.n+int(ib)]
	if d == Unreachable {
		return 0, fmt.Errorf("%w: no path (%d,%d)->(%d,%d)", ErrPositionNotFound, a.X, a.Y, b.X, b.Y)
	}
	return int(d), nil
}

type CacheStats struct {
	Hits   int64
	Misses int64
	Mazes  int
}

// Cache shares distance tables between matches on the same maze. Each maze
// key is computed at most once; afterwards lookups only take a read lock.
type Cache struct {
	mu     sync.RWMutex
	tables map[uint64]*Table
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCache() *Cache {
	return &Cache{tables: make(map[uint64]*Table)}
}

// Table returns the table for m, computing it on first use.
func (c *Cache) Table(m *maze.Maze) *Table {
	key := m.Key()
	c.mu.RLock()
	t, ok := c.tables[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return t
	}

	computed := false
	v, _, _ := c.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		c.mu.RLock()
		t, ok := c.tables[key]
		c.mu.RUnlock()
		if ok {
			return t, nil
		}
		t = Compute(m)
		c.mu.Lock()
		c.tables[key] = t
		c.mu.Unlock()
		computed = true
		return t, nil
	})
	if computed {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return v.(*Table)
}

func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.tables)
	c.mu.RUnlock()
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Mazes: n}
}

// Distancer answers distance queries for a single maze.
type Distancer struct {
	maze  *maze.Maze
	table *Table
}

func NewDistancer(m *maze.Maze) *Distancer {
	return &Distancer{maze: m}
}

// Compute attaches the maze's table, taken from cache when one is given.
func (d *Distancer) Compute(cache *Cache) {
	if cache == nil {
		d.table = Compute(d.maze)
		return
	}
	d.table = cache.Table(d.maze)
}

// Ready reports whether maze distances are available.
func (d *Distancer) Ready() bool { return d.table != nil }

// Distance returns the maze distance between two points.
//
// Before Compute it is the Manhattan distance. Points between cells are
// measured through the cells bounding them, adding the fractional offset
// to each, and the shortest combination wins. Walls and cells with no path
// between them are ErrPositionNotFound.
func (d *Distancer) Distance(p1, p2 maze.Point) (float64, error) {
	if d.table == nil {
		return p1.Manhattan(p2), nil
	}
	if p1.IsGridAligned() && p2.IsGridAligned() {
		g, err := d.table.Grid(p1.Truncate(), p2.Truncate())
		return float64(g), err
	}

	best := math.Inf(1)
	for _, a := range grids2D(p1) {
		for _, b := range grids2D(p2) {
			g, err := d.table.Grid(a.cell, b.cell)
			if err != nil {
				continue
			}
			if v := float64(g) + a.offset + b.offset; v < best {
				best = v
			}
		}
	}
	if math.IsInf(best, 1) {
		return 0, fmt.Errorf("%w: (%g,%g)->(%g,%g)", ErrPositionNotFound, p1.X, p1.Y, p2.X, p2.Y)
	}
	return best, nil
}

type snap struct {
	cell   maze.Cell
	offset float64
}

func grids2D(p maze.Point) []snap {
	var out []snap
	for _, x := range grids1D(p.X) {
		for _, y := range grids1D(p.Y) {
			out = append(out, snap{cell: maze.Cell{X: x.v, Y: y.v}, offset: x.offset + y.offset})
		}
	}
	return out
}

type snap1D struct {
	v      int
	offset float64
}

func grids1D(x float64) []snap1D {
	lo := math.Floor(x)
	if x == lo {
		return []snap1D{{v: int(x)}}
	}
	return []snap1D{{v: int(lo), offset: x - lo}, {v: int(lo) + 1, offset: lo + 1 - x}}
}
