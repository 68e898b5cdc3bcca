// Package clipboard copies text to the user's clipboard, trying the native
// clipboard first and the terminal's OSC 52 escape second.
package clipboard

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/atotto/clipboard"
	"golang.org/x/term"
)

var (
	// ErrUnsupported is returned when no clipboard utility is available.
	ErrUnsupported = errors.New("native clipboard unsupported")
	// ErrNotTerminal is returned by OSC52 when output is not a terminal.
	ErrNotTerminal = errors.New("output is not a terminal")
)

// Writer writes text to a clipboard.
type Writer interface {
	WriteAll(text string) error
}

// Native uses the platform clipboard (pbcopy, xclip, wl-copy, Windows API).
type Native struct{}

func (Native) WriteAll(text string) error {
	if clipboard.Unsupported {
		return ErrUnsupported
	}
	return clipboard.WriteAll(text)
}

// OSC52 asks the terminal emulator to set the clipboard. It works over SSH
// but the terminal gives no confirmation.
type OSC52 struct {
	out io.Writer
	tty bool
}

// NewOSC52 writes the escape sequence to out. tty must report whether out is
// attached to a terminal.
func NewOSC52(out io.Writer, tty bool) *OSC52 {
	return &OSC52{out: out, tty: tty}
}

// OSC52For writes to f when it is a terminal.
func OSC52For(f *os.File) *OSC52 {
	return NewOSC52(f, term.IsTerminal(int(f.Fd())))
}

func (o *OSC52) WriteAll(text string) error {
	if !o.tty {
		return ErrNotTerminal
	}
	seq := "\x1b]52;c;" + base64.StdEncoding.EncodeToString([]byte(text)) + "\x07"
	if _, err := io.WriteString(o.out, seq); err != nil {
		return fmt.Errorf("write osc52 sequence: %w", err)
	}
	return nil
}

// Chain tries each writer in order and stops at the first success.
type Chain []Writer

func (c Chain) WriteAll(text string) error {
	var errs []error
	for _, w := range c {
		err := w.WriteAll(text)
		if err == nil {
			return nil
		}
		slog.Debug("clipboard.Chain: writer failed, trying next", "writer", fmt.Sprintf("%T", w), "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrUnsupported
	}
	return errors.Join(errs...)
}

// Default is the chain used by the terminal chat.
func Default(out *os.File) Chain {
	return Chain{Native{}, OSC52For(out)}
}
