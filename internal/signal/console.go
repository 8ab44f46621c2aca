package signal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const (
	lampLit  = "●"
	lampDark = "○"
)

// ConsoleActuator draws the signal head on a terminal. On a TTY the line is
// redrawn in place; otherwise one line is written per command.
type ConsoleActuator struct {
	mu      sync.Mutex
	w       io.Writer
	inPlace bool

	label  lipgloss.Style
	red    lipgloss.Style
	yellow lipgloss.Style
	green  lipgloss.Style
	dark   lipgloss.Style
	tag    lipgloss.Style
}

// NewConsoleActuator creates a console actuator writing to w
func NewConsoleActuator(w io.Writer) *ConsoleActuator {
	r := lipgloss.NewRenderer(w)

	inPlace := false
	if f, ok := w.(*os.File); ok {
		inPlace = term.IsTerminal(int(f.Fd()))
	}

	return &ConsoleActuator{
		w:       w,
		inPlace: inPlace,
		label:   r.NewStyle().Bold(true),
		red:     r.NewStyle().Foreground(lipgloss.Color("#FF3B30")).Bold(true),
		yellow:  r.NewStyle().Foreground(lipgloss.Color("#FFCC00")).Bold(true),
		green:   r.NewStyle().Foreground(lipgloss.Color("#34C759")).Bold(true),
		dark:    r.NewStyle().Foreground(lipgloss.Color("240")),
		tag:     r.NewStyle().Faint(true),
	}
}

// ApplySignal renders cmd
func (c *ConsoleActuator) ApplySignal(cmd Command) {
	line := c.Render(Decode(cmd))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inPlace {
		fmt.Fprintf(c.w, "\r\033[2K%s", line)
		return
	}
	fmt.Fprintln(c.w, line)
}

// Render formats a state as a single line
func (c *ConsoleActuator) Render(s State) string {
	// lamp-off wins over lamp-on when both are set
	powered := !s.LampOff

	lamp := func(on bool, style lipgloss.Style) string {
		if on && powered {
			return style.Blink(s.Blink).Render(lampLit)
		}
		return c.dark.Render(lampDark)
	}

	parts := []string{
		c.label.Render("signal"),
		lamp(s.Red, c.red),
		lamp(s.Yellow, c.yellow),
		lamp(s.Green, c.green),
	}

	var tags []string
	if s.Blink {
		tags = append(tags, "blink")
	}
	switch {
	case s.LampOff:
		tags = append(tags, "lamp off")
	case s.LampOn:
		tags = append(tags, "lamp on")
	}
	if len(tags) > 0 {
		parts = append(parts, c.tag.Render("["+strings.Join(tags, ", ")+"]"))
	}

	return strings.Join(parts, " ")
}
