// Package terminal is the interactive front-end: it prints the chat log,
// shows the action controls as a numbered menu and reads answers from stdin.
package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/BTreeMap/GuiaIA/internal/actions"
	"github.com/BTreeMap/GuiaIA/internal/chat"
	"github.com/BTreeMap/GuiaIA/internal/markup"
)

// DefaultTypewriterDelay is the pause between runes of an animated reveal.
const DefaultTypewriterDelay = 8 * time.Millisecond

const defaultRuleWidth = 60

// Reveal writes a freshly appended bubble so that it ends up fully visible.
type Reveal interface {
	Reveal(w io.Writer, text string) error
}

// Immediate prints the whole bubble at once.
type Immediate struct{}

func (Immediate) Reveal(w io.Writer, text string) error {
	_, err := io.WriteString(w, text)
	return err
}

// Typewriter prints a bubble one rune at a time.
type Typewriter struct {
	Delay time.Duration
	sleep func(time.Duration)
}

func (t Typewriter) Reveal(w io.Writer, text string) error {
	sleep := t.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	for _, r := range text {
		if _, err := io.WriteString(w, string(r)); err != nil {
			return err
		}
		if r != ' ' && r != '\n' {
			sleep(t.Delay)
		}
	}
	return nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// RevealFor picks the animated reveal only when animation is wanted and f is a TTY.
func RevealFor(f *os.File, animate bool) Reveal {
	if animate && IsTerminal(f) {
		return Typewriter{Delay: DefaultTypewriterDelay}
	}
	return Immediate{}
}

// ansiStyle renders <b> and <i> with terminal attributes.
type ansiStyle struct {
	bold   *color.Color
	italic *color.Color
}

func (s ansiStyle) Bold(t string) string   { return s.bold.Sprint(t) }
func (s ansiStyle) Italic(t string) string { return s.italic.Sprint(t) }

// ScreenOpts configures a Screen.
type ScreenOpts struct {
	Reveal Reveal
	Color  bool
	Width  int
}

// ScreenOption configures a Screen.
type ScreenOption func(*ScreenOpts)

// WithReveal sets how bot bubbles are written.
func WithReveal(r Reveal) ScreenOption {
	return func(o *ScreenOpts) {
		o.Reveal = r
	}
}

// WithColor turns ANSI colors on or off.
func WithColor(enabled bool) ScreenOption {
	return func(o *ScreenOpts) {
		o.Color = enabled
	}
}

// WithWidth sets the width of the rule printed on clear.
func WithWidth(n int) ScreenOption {
	return func(o *ScreenOpts) {
		o.Width = n
	}
}

// Screen prints the chat log. It is the chat.Listener, actions.Alerter and
// actions.Presenter of the terminal front-end, and serializes all output.
type Screen struct {
	mu     sync.Mutex
	out    io.Writer
	reveal Reveal
	width  int

	user   *color.Color
	bot    *color.Color
	status *color.Color
	alert  *color.Color
	menu   *color.Color
	style  markup.Style

	lastMenu string
}

// NewScreen creates a screen writing to out.
func NewScreen(out io.Writer, opts ...ScreenOption) *Screen {
	cfg := ScreenOpts{Reveal: Immediate{}, Color: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Width <= 0 {
		cfg.Width = defaultRuleWidth
	}
	s := &Screen{
		out:    out,
		reveal: cfg.Reveal,
		width:  cfg.Width,
		user:   color.New(color.FgCyan, color.Bold),
		bot:    color.New(color.FgGreen, color.Bold),
		status: color.New(color.Faint),
		alert:  color.New(color.FgYellow),
		menu:   color.New(color.FgMagenta),
	}
	bold := color.New(color.Bold)
	italic := color.New(color.Italic)
	for _, c := range []*color.Color{s.user, s.bot, s.status, s.alert, s.menu, bold, italic} {
		if cfg.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	s.style = ansiStyle{bold: bold, italic: italic}
	return s
}

// ScreenFor creates a screen for f, sizing the rule to the terminal width.
func ScreenFor(f *os.File, animate bool) *Screen {
	opts := []ScreenOption{WithReveal(RevealFor(f, animate)), WithColor(IsTerminal(f) && !color.NoColor)}
	if IsTerminal(f) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			opts = append(opts, WithWidth(w))
		}
	}
	return NewScreen(f, opts...)
}

func (s *Screen) EntryAppended(e chat.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := markup.Render(e.Markup, s.style)
	switch {
	case e.Role == chat.RoleUser:
		fmt.Fprintf(s.out, "%s %s\n", s.user.Sprint("Tú:"), text)
	case e.Transient:
		fmt.Fprintf(s.out, "%s\n", s.status.Sprint("… "+text))
	default:
		s.lastMenu = ""
		fmt.Fprintf(s.out, "%s ", s.bot.Sprint("GuíaIA:"))
		_ = s.reveal.Reveal(s.out, text)
		fmt.Fprintln(s.out)
	}
}

// EntryReplaced prints the outcome below the status line it replaces.
func (s *Screen) EntryReplaced(e chat.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMenu = ""
	fmt.Fprintf(s.out, "%s ", s.bot.Sprint("GuíaIA:"))
	_ = s.reveal.Reveal(s.out, markup.Render(e.Markup, s.style))
	fmt.Fprintln(s.out)
}

func (s *Screen) Cleared() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMenu = ""
	fmt.Fprintln(s.out, s.status.Sprint(strings.Repeat("─", s.width)))
}

// Alert prints a notice outside the transcript.
func (s *Screen) Alert(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, s.alert.Sprint("⚠ "+msg))
}

// ControlsChanged prints the visible controls as a numbered menu. Menus with a
// disabled control are skipped, as is a repeat of the last menu while no bot
// message has been printed since.
func (s *Screen) ControlsChanged(sets []actions.ControlSet) {
	menu := actions.MenuText(sets)
	s.mu.Lock()
	defer s.mu.Unlock()
	if menu == "" || menu == s.lastMenu {
		return
	}
	s.lastMenu = menu
	fmt.Fprintln(s.out, s.menu.Sprint(menu))
}

// Printf writes a line outside the transcript.
func (s *Screen) Printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
