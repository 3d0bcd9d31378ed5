package distance

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/brensch/capture/maze"
)

// A corridor that forces a detour: from (1,1) to (3,1) the wall at (2,1)
// makes the path go up and around, 1->(1,2)->(1,3)->(2,3)->(3,3)->(3,2)->(3,1).
const detour = `
%%%%%
%   %
% % %
% % %
%%%%%
`

func mustLayout(t *testing.T, text string) *maze.Layout {
	t.Helper()
	l, err := maze.Parse("test", text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return l
}

func pt(x, y float64) maze.Point { return maze.Point{X: x, Y: y} }

func TestDistance_HandComputedPath(t *testing.T) {
	l := mustLayout(t, detour)
	d := NewDistancer(l.Maze)
	d.Compute(nil)

	got, err := d.Distance(pt(1, 1), pt(3, 1))
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if got != 6 {
		t.Fatalf("distance=%v want=6", got)
	}
	if got, _ := d.Distance(pt(1, 1), pt(1, 3)); got != 2 {
		t.Fatalf("distance=%v want=2", got)
	}
	if got, _ := d.Distance(pt(2, 3), pt(2, 3)); got != 0 {
		t.Fatalf("distance=%v want=0", got)
	}
}

func TestDistance_Symmetric(t *testing.T) {
	l := mustLayout(t, detour)
	d := NewDistancer(l.Maze)
	d.Compute(nil)

	cells := l.Maze.OpenCells()
	for _, a := range cells {
		for _, b := range cells {
			ab, err1 := d.Distance(a.Point(), b.Point())
			ba, err2 := d.Distance(b.Point(), a.Point())
			if err1 != nil || err2 != nil {
				t.Fatalf("unexpected errors %v %v", err1, err2)
			}
			if ab != ba {
				t.Fatalf("d(%v,%v)=%v but d(%v,%v)=%v", a, b, ab, b, a, ba)
			}
		}
	}
}

func TestDistance_ManhattanBeforeCompute(t *testing.T) {
	l := mustLayout(t, detour)
	d := NewDistancer(l.Maze)
	if d.Ready() {
		t.Fatalf("should not be ready before Compute")
	}
	got, err := d.Distance(pt(1, 1), pt(3, 1))
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if got != 2 {
		t.Fatalf("distance=%v want=2 (manhattan)", got)
	}
}

func TestDistance_WallIsNotFound(t *testing.T) {
	l := mustLayout(t, detour)
	d := NewDistancer(l.Maze)
	d.Compute(nil)

	_, err := d.Distance(pt(2, 1), pt(1, 1))
	if !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("err=%v want ErrPositionNotFound", err)
	}
}

func TestDistance_DisconnectedCellsNotFound(t *testing.T) {
	l := mustLayout(t, "%%%%%\n%1%2%\n%%%%%\n")
	d := NewDistancer(l.Maze)
	d.Compute(nil)

	if _, err := d.Distance(pt(1, 1), pt(3, 1)); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("err=%v want ErrPositionNotFound", err)
	}
	if got, err := d.Distance(pt(3, 1), pt(3, 1)); err != nil || got != 0 {
		t.Fatalf("self distance=%v err=%v want 0", got, err)
	}
}

func TestDistance_FractionalPositions(t *testing.T) {
	l := mustLayout(t, detour)
	d := NewDistancer(l.Maze)
	d.Compute(nil)

	// Halfway between (1,2) and (1,3), going to (3,3): via (1,3) costs 0.5+2.
	got, err := d.Distance(pt(1, 2.5), pt(3, 3))
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if got != 2.5 {
		t.Fatalf("distance=%v want=2.5", got)
	}

	// Moving along the corridor never undercuts the true distance.
	prev := -1.0
	for _, y := range []float64{1, 1.25, 1.5, 1.75, 2} {
		v, err := d.Distance(pt(1, y), pt(3, 1))
		if err != nil {
			t.Fatalf("Distance: %v", err)
		}
		want := 6 - (y - 1)
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("y=%v distance=%v want=%v", y, v, want)
		}
		if prev >= 0 && v > prev {
			t.Fatalf("distance grew while approaching: %v -> %v", prev, v)
		}
		prev = v
	}
}

func TestCache_ComputesOncePerMaze(t *testing.T) {
	a := mustLayout(t, detour)
	b := mustLayout(t, detour)
	other := mustLayout(t, "%%%%\n%  %\n%%%%")
	cache := NewCache()

	NewDistancer(a.Maze).Compute(cache)
	NewDistancer(b.Maze).Compute(cache)
	NewDistancer(other.Maze).Compute(cache)

	st := cache.Stats()
	if st.Misses != 2 || st.Hits != 1 || st.Mazes != 2 {
		t.Fatalf("stats=%+v want misses=2 hits=1 mazes=2", st)
	}
	if cache.Table(a.Maze) != cache.Table(b.Maze) {
		t.Fatalf("identical walls should share one table")
	}
}

func TestCache_ConcurrentFirstUse(t *testing.T) {
	l := mustLayout(t, detour)
	cache := NewCache()

	var wg sync.WaitGroup
	tables := make([]*Table, 16)
	for i := range tables {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tables[i] = cache.Table(l.Maze)
		}(i)
	}
	wg.Wait()
	for i := range tables {
		if tables[i] != tables[0] {
			t.Fatalf("table %d differs", i)
		}
	}
	if st := cache.Stats(); st.Misses != 1 || st.Hits != int64(len(tables)-1) {
		t.Fatalf("stats=%+v want one miss", st)
	}
}

func TestSonar_ZeroMeanNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := DefaultSonar
	const n = 200000
	sum := 0
	for i := 0; i < n; i++ {
		sum += s.Noisy(rng, pt(1, 1), pt(6, 4))
	}
	mean := float64(sum) / n
	if math.Abs(mean-8) > 0.05 {
		t.Fatalf("mean=%v want close to 8", mean)
	}
}

func TestSonar_ProbabilitiesSumToOne(t *testing.T) {
	s := DefaultSonar
	for _, trueDist := range []int{0, 3, 20} {
		total := 0.0
		for noisy := trueDist - 20; noisy <= trueDist+20; noisy++ {
			total += s.Probability(trueDist, noisy)
		}
		if math.Abs(total-1) > 1e-9 {
			t.Fatalf("true=%d sum=%v want=1", trueDist, total)
		}
	}
	if p := s.Probability(5, 5+7); p != 0 {
		t.Fatalf("out of range probability=%v want=0", p)
	}
	if got := s.Offsets(); len(got) != 13 || got[0] != -6 || got[12] != 6 {
		t.Fatalf("offsets=%v", got)
	}
}

func TestSonar_EvenRangeStaysCentered(t *testing.T) {
	s := Sonar{Range: 4}
	if err := s.Validate(); err == nil {
		t.Fatalf("range 4 should not validate")
	}
	if got := s.Offsets(); len(got) != 3 || got[0] != -1 || got[2] != 1 {
		t.Fatalf("offsets=%v want [-1 0 1]", got)
	}
	total := 0.0
	for noisy := 0; noisy <= 10; noisy++ {
		total += s.Probability(5, noisy)
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("sum=%v want=1", total)
	}

	rng := rand.New(rand.NewSource(3))
	const n = 100000
	sum := 0
	for i := 0; i < n; i++ {
		sum += s.Noisy(rng, pt(1, 1), pt(3, 1))
	}
	if mean := float64(sum) / n; math.Abs(mean-2) > 0.02 {
		t.Fatalf("mean=%v want close to 2", mean)
	}
	if err := DefaultSonar.Validate(); err != nil {
		t.Fatalf("default sonar: %v", err)
	}
}
