package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/brensch/capture/game"
	"github.com/brensch/capture/maze"
)

// renderBoard draws s as layout text with agents shown by index.
func renderBoard(s *game.State) string {
	var sb strings.Builder
	for y := s.Maze.Height - 1; y >= 0; y-- {
		for x := 0; x < s.Maze.Width; x++ {
			c := maze.Cell{X: x, Y: y}
			ch := byte(' ')
			switch {
			case s.Maze.IsWall(c):
				ch = '%'
			case slices.Contains(s.Capsules, c):
				ch = 'o'
			case s.Food.Get(c):
				ch = '.'
			}
			for i, a := range s.Agents {
				if p, ok := a.Position(); ok && p.Nearest() == c {
					ch = byte('0' + i%10)
				}
			}
			sb.WriteByte(ch)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// describeAgents lists one line per agent under a board.
func describeAgents(s *game.State) string {
	var sb strings.Builder
	for i, a := range s.Agents {
		pos := "hidden"
		if p, ok := a.Position(); ok {
			pos = fmt.Sprintf("(%g,%g)", p.X, p.Y)
		}
		fmt.Fprintf(&sb, "%d %-4s %-7s %-9s carrying=%d returned=%d", i, s.TeamOf(i), a.Role, pos, a.Carrying, a.Returned)
		if a.ScaredTimer > 0 {
			fmt.Fprintf(&sb, " scared=%d", a.ScaredTimer)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
