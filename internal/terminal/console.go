package terminal

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
)

// Typed commands.
const (
	CmdQuit    = "/salir"
	CmdRestart = "/reiniciar"
	CmdHelp    = "/ayuda"
)

const helpText = "Comandos: " + CmdRestart + " empieza de nuevo, " + CmdQuit + " termina. " +
	"Cuando aparezca un menú, escribe el número de la opción.\n"

// Conversation is what the console needs from a flow.Session.
type Conversation interface {
	Start(ctx context.Context) error
	Submit(ctx context.Context, raw string) error
}

// Controls is what the console needs from an actions.Surface.
type Controls interface {
	Choice(text string) (string, bool)
	Press(ctx context.Context, id string) error
	Restart(ctx context.Context) error
}

// Placeholder reports the current input hint. chat.LineInput satisfies it.
type Placeholder interface {
	Placeholder() string
}

// Console reads lines and routes them to the conversation or the controls.
type Console struct {
	conv     Conversation
	controls Controls
	screen   *Screen
	hint     Placeholder
	in       io.Reader
}

// NewConsole wires a console. hint may be nil.
func NewConsole(conv Conversation, controls Controls, screen *Screen, hint Placeholder, in io.Reader) *Console {
	return &Console{conv: conv, controls: controls, screen: screen, hint: hint, in: in}
}

// Run starts the conversation and processes input until EOF, CmdQuit or ctx
// is done. A failed start is returned; later errors are already in the chat.
func (c *Console) Run(ctx context.Context) error {
	if err := c.conv.Start(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			slog.Warn("Console.Run: input read failed", "error", err)
		}
	}()

	for {
		c.prompt()
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				slog.Debug("Console.Run: input closed")
				return nil
			}
			if quit := c.Handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// Handle processes one line and reports whether the user asked to quit.
func (c *Console) Handle(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	switch strings.ToLower(text) {
	case CmdQuit:
		return true
	case CmdRestart:
		if err := c.controls.Restart(ctx); err != nil {
			slog.Warn("Console.Handle: restart failed", "error", err)
			c.screen.Alert("No se pudo reiniciar: " + err.Error())
		}
		return false
	case CmdHelp:
		c.screen.Printf("%s", helpText)
		return false
	}

	if id, ok := c.controls.Choice(text); ok {
		if err := c.controls.Press(ctx, id); err != nil {
			slog.Debug("Console.Handle: control failed", "id", id, "error", err)
		}
		return false
	}

	if err := c.conv.Submit(ctx, text); err != nil {
		slog.Debug("Console.Handle: submit failed", "error", err)
	}
	return false
}

func (c *Console) prompt() {
	hint := ""
	if c.hint != nil {
		hint = c.hint.Placeholder()
	}
	if hint != "" {
		c.screen.Printf("%s\n", c.screen.status.Sprint(hint))
	}
	c.screen.Printf("› ")
}
