package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/GuiaIA/internal/actions"
	"github.com/BTreeMap/GuiaIA/internal/chat"
	"github.com/BTreeMap/GuiaIA/internal/markup"
)

// DefaultSendTimeout bounds a single outbound message.
const DefaultSendTimeout = 30 * time.Second

// MenuPrefix introduces the numbered control menu.
const MenuPrefix = "Responde con un número: "

// outbound turns one conversation's chat log into WhatsApp messages. Status
// bubbles are not sent; their outcome is sent once it replaces them. The
// user's own messages are not echoed back.
//
// It also serves as the surface's Alerter, Presenter and Clipboard: copying
// sends the text as a standalone message.
type outbound struct {
	svc     Service
	to      string
	timeout time.Duration

	mu       sync.Mutex
	lastMenu string
}

func newOutbound(svc Service, to string, timeout time.Duration) *outbound {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &outbound{svc: svc, to: to, timeout: timeout}
}

func (o *outbound) send(body string) error {
	if body == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.svc.SendMessage(ctx, o.to, body); err != nil {
		slog.Warn("Relay: outbound message failed", "to", o.to, "error", err)
		return err
	}
	return nil
}

func (o *outbound) EntryAppended(e chat.Entry) {
	if e.Role == chat.RoleUser || e.Transient {
		return
	}
	o.sendEntry(e)
}

func (o *outbound) EntryReplaced(e chat.Entry) {
	o.sendEntry(e)
}

// sendEntry sends a bot message. The menu scrolls out of view behind it, so
// the next ControlsChanged sends it again even when unchanged.
func (o *outbound) sendEntry(e chat.Entry) {
	o.mu.Lock()
	o.lastMenu = ""
	o.mu.Unlock()
	_ = o.send(markup.Render(e.Markup, markup.WhatsApp))
}

func (o *outbound) Cleared() {
	o.mu.Lock()
	o.lastMenu = ""
	o.mu.Unlock()
}

func (o *outbound) Alert(msg string) {
	_ = o.send("⚠️ " + msg)
}

func (o *outbound) ControlsChanged(sets []actions.ControlSet) {
	menu := actions.MenuText(sets)
	o.mu.Lock()
	if menu == "" || menu == o.lastMenu {
		o.mu.Unlock()
		return
	}
	o.lastMenu = menu
	o.mu.Unlock()
	_ = o.send(MenuPrefix + menu)
}

func (o *outbound) WriteAll(text string) error {
	return o.send(text)
}
