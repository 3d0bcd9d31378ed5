package distance

import (
	"fmt"
	"math/rand"

	"github.com/brensch/capture/maze"
)

// Sonar produces noisy distance readings. The noise is drawn uniformly from
// Range integer offsets centered on zero, so Range must be odd. An even
// Range is treated as Range-1.
type Sonar struct {
	Range int
}

var DefaultSonar = Sonar{Range: 13}

// Validate rejects ranges that cannot be centered on zero.
func (s Sonar) Validate() error {
	if s.Range < 1 || s.Range%2 == 0 {
		return fmt.Errorf("sonar range must be a positive odd number, got %d", s.Range)
	}
	return nil
}

func (s Sonar) half() int {
	if s.Range < 1 {
		return 0
	}
	return (s.Range - 1) / 2
}

// width is the number of distinct offsets actually drawn.
func (s Sonar) width() int { return 2*s.half() + 1 }

// Offsets lists the noise values in ascending order.
func (s Sonar) Offsets() []int {
	out := make([]int, 0, s.width())
	for i := 0; i < s.width(); i++ {
		out = append(out, i-s.half())
	}
	return out
}

// Noisy returns the Manhattan distance between the cells holding a and b
// plus a random offset.
func (s Sonar) Noisy(rng *rand.Rand, a, b maze.Point) int {
	d := a.Truncate().Manhattan(b.Truncate())
	if s.half() == 0 {
		return d
	}
	return d + rng.Intn(s.width()) - s.half()
}

// Probability is the likelihood of reading noisy when the true distance is
// trueDistance.
func (s Sonar) Probability(trueDistance, noisy int) float64 {
	off := noisy - trueDistance
	if off < -s.half() || off > s.half() {
		return 0
	}
	return 1.0 / float64(s.width())
}
