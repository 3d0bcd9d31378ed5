package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brensch/capture/match"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
	redStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	blueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	tieStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boardStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type model struct {
	target      int
	played      int
	moves       int64
	redWins     int
	blueWins    int
	ties        int
	crashes     int
	startTime   time.Time
	recentGames []string
	lastBoard   string
	updates     chan matchUpdate
	done        bool
	err         error
}

func initialModel(updates chan matchUpdate, target int) model {
	return model{
		target:    target,
		startTime: time.Now(),
		updates:   updates,
	}
}

type TickMsg time.Time

// runDoneMsg tells the dashboard the run is over.
type runDoneMsg struct{ err error }

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan matchUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.done {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		if m.done {
			return m, nil
		}
		return m, tickCmd()
	case runDoneMsg:
		m.done = true
		m.err = msg.err
		m.moves = totalMoves.Load()
		return m, nil
	case matchUpdate:
		m.played++
		out := msg.Outcome
		style := tieStyle
		switch out.Winner {
		case match.WinnerRed:
			m.redWins++
			style = redStyle
		case match.WinnerBlue:
			m.blueWins++
			style = blueStyle
		default:
			m.ties++
		}
		if out.Crashed >= 0 {
			m.crashes++
		}
		line := fmt.Sprintf("#%-4d %s score %+d after %d turns (%s, %s)",
			msg.Index, style.Render(fmt.Sprintf("%-4s", out.Winner)), out.Score, out.Turns, out.Reason, msg.Elapsed.Round(time.Millisecond))
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		m.lastBoard = msg.Board
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	matchesPerSec := float64(m.played) / duration.Seconds()
	movesPerSec := float64(m.moves) / duration.Seconds()
	if duration.Seconds() < 1 {
		matchesPerSec = 0
		movesPerSec = 0
	}

	row := func(label, value string) string {
		return labelStyle.Render(label) + value + "\n"
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("capture") + "\n\n")
	sb.WriteString(row("Matches", fmt.Sprintf("%d / %d", m.played, m.target)))
	sb.WriteString(row("Red wins", redStyle.Render(fmt.Sprint(m.redWins))))
	sb.WriteString(row("Blue wins", blueStyle.Render(fmt.Sprint(m.blueWins))))
	sb.WriteString(row("Ties", tieStyle.Render(fmt.Sprint(m.ties))))
	sb.WriteString(row("Crashes", fmt.Sprint(m.crashes)))
	sb.WriteString(row("Moves", fmt.Sprint(m.moves)))
	sb.WriteString(row("Duration", duration.Round(time.Second).String()))
	sb.WriteString(row("Matches/Sec", fmt.Sprintf("%.2f", matchesPerSec)))
	sb.WriteString(row("Moves/Sec", fmt.Sprintf("%.2f", movesPerSec)))

	sb.WriteString("\nRecent Matches:\n")
	for _, g := range m.recentGames {
		sb.WriteString(g + "\n")
	}
	if m.lastBoard != "" {
		sb.WriteString("\n" + boardStyle.Render(strings.TrimRight(m.lastBoard, "\n")) + "\n")
	}

	switch {
	case m.done && m.err != nil:
		sb.WriteString(redStyle.Render("\nRun failed: "+m.err.Error()) + "\n")
		sb.WriteString(helpStyle.Render("Press any key to exit.") + "\n")
	case m.done:
		sb.WriteString(helpStyle.Render("\nRun complete. Press any key to exit.") + "\n")
	default:
		sb.WriteString(helpStyle.Render("\nPress q to quit.") + "\n")
	}
	return sb.String()
}
