package commands

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"vcni/internal/domain"
)

// consoleStyles are the lipgloss styles used for event lines.
type consoleStyles struct {
	State    lipgloss.Style
	Partial  lipgloss.Style
	Final    lipgloss.Style
	Intent   lipgloss.Style
	Response lipgloss.Style
	Error    lipgloss.Style
}

func newConsoleStyles(plain bool) consoleStyles {
	if plain {
		return consoleStyles{
			State:    lipgloss.NewStyle(),
			Partial:  lipgloss.NewStyle(),
			Final:    lipgloss.NewStyle(),
			Intent:   lipgloss.NewStyle(),
			Response: lipgloss.NewStyle(),
			Error:    lipgloss.NewStyle(),
		}
	}
	return consoleStyles{
		State:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
		Partial:  lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#8b949e")),
		Final:    lipgloss.NewStyle().Bold(true),
		Intent:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		Response: lipgloss.NewStyle().Foreground(lipgloss.Color("#79c0ff")),
		Error:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff7b72")),
	}
}

// Console is an EventSink that prints session events to a terminal. It also
// signals command results and speech completion to waiting commands.
type Console struct {
	out    io.Writer
	styles consoleStyles

	mu           sync.Mutex
	results      chan domain.CommandResult
	quiet        chan struct{}
	showPartials bool
}

func NewConsole(out io.Writer, plain bool, showPartials bool) *Console {
	return &Console{
		out:          out,
		styles:       newConsoleStyles(plain),
		results:      make(chan domain.CommandResult, 8),
		quiet:        make(chan struct{}, 1),
		showPartials: showPartials,
	}
}

// Results yields command results in arrival order. Overflow is dropped.
func (c *Console) Results() <-chan domain.CommandResult {
	return c.results
}

// SpeechDone is signalled when playback stops or fails.
func (c *Console) SpeechDone() <-chan struct{} {
	return c.quiet
}

func (c *Console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func (c *Console) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	c.println(c.styles.State.Render(fmt.Sprintf("[%s] %s", state, reason)))
}

func (c *Console) PartialTranscript(text string) {
	if !c.showPartials {
		return
	}
	c.println(c.styles.Partial.Render("… " + text))
}

func (c *Console) FinalTranscript(text string) {
	c.println(c.styles.Final.Render("> " + text))
}

func (c *Console) CommandResult(command string, result domain.CommandResult) {
	intent := result.Intent
	if intent == "" {
		intent = "unknown"
	}
	line := c.styles.Intent.Render(intent)
	if result.UIMode != "" {
		line += c.styles.State.Render(" (" + result.UIMode + ")")
	}
	if response := strings.TrimSpace(result.Response); response != "" {
		line += " " + c.styles.Response.Render(response)
	}
	if result.NeedsMoreInfo && result.FollowUpQuestion != "" && result.FollowUpQuestion != result.Response {
		line += " " + c.styles.Response.Render(result.FollowUpQuestion)
	}
	c.println(line)

	select {
	case c.results <- result:
	default:
	}
}

func (c *Console) SpeakingChanged(speaking bool) {
	if speaking {
		c.println(c.styles.State.Render("(speaking)"))
		return
	}
	c.signalQuiet()
}

func (c *Console) SessionError(code domain.ErrorCode, detail string) {
	c.println(c.styles.Error.Render(fmt.Sprintf("error (%s): %s", code, detail)))
	if code == domain.ErrorCodeSynthesis {
		c.signalQuiet()
	}
}

func (c *Console) signalQuiet() {
	select {
	case c.quiet <- struct{}{}:
	default:
	}
}
