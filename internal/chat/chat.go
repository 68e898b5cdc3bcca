// Package chat holds the conversation transcript: an ordered, append-only log
// of user and bot bubbles plus the listeners that present it.
package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/GuiaIA/internal/markup"
)

// Role identifies who authored an entry.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Entry is one bubble. Markup uses the subset understood by package markup;
// user text is escaped before it becomes markup.
type Entry struct {
	Seq    int
	Role   Role
	Markup string
	Time   time.Time
	// Transient marks a status bubble ("Validando…") that is expected to be
	// replaced by its outcome.
	Transient bool
}

// Listener is notified of every change to a Log. Calls happen synchronously
// in append order.
type Listener interface {
	EntryAppended(e Entry)
	EntryReplaced(e Entry)
	Cleared()
}

// ScrollPolicy is a Listener whose job is to keep the newest entry visible.
type ScrollPolicy = Listener

// Input is the text field the user types answers into.
type Input interface {
	Clear()
	SetPlaceholder(text string)
	Focus()
}

// Sink is what the conversation writes to.
type Sink interface {
	AppendUser(text string) Entry
	AppendBot(markup string) Entry
	AppendStatus(markup string) Entry
	Replace(seq int, markup string) (Entry, bool)
	Clear()
}

// Log is the default Sink.
type Log struct {
	mu        sync.Mutex
	entries   []Entry
	next      int
	listeners []Listener
}

// NewLog creates an empty log with the given listeners attached.
func NewLog(listeners ...Listener) *Log {
	return &Log{listeners: listeners}
}

// AppendUser records text typed by the user.
func (l *Log) AppendUser(text string) Entry {
	return l.append(RoleUser, markup.Escape(text), false)
}

// AppendBot records a system message.
func (l *Log) AppendBot(m string) Entry {
	return l.append(RoleBot, m, false)
}

// AppendStatus records a transient bot message to be replaced later.
func (l *Log) AppendStatus(m string) Entry {
	return l.append(RoleBot, m, true)
}

// Replace swaps the markup of the entry with the given sequence number and
// marks it final. It reports false when the entry is gone, e.g. after Clear.
func (l *Log) Replace(seq int, m string) (Entry, bool) {
	l.mu.Lock()
	idx := -1
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return Entry{}, false
	}
	l.entries[idx].Markup = m
	l.entries[idx].Transient = false
	e := l.entries[idx]
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()

	for _, li := range listeners {
		li.EntryReplaced(e)
	}
	return e, true
}

func (l *Log) append(role Role, m string, transient bool) Entry {
	l.mu.Lock()
	l.next++
	e := Entry{Seq: l.next, Role: role, Markup: m, Time: time.Now(), Transient: transient}
	l.entries = append(l.entries, e)
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()

	slog.Debug("chat.Log append", "seq", e.Seq, "role", role)
	for _, li := range listeners {
		li.EntryAppended(e)
	}
	return e
}

// Clear removes every entry. Sequence numbers keep increasing.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()

	for _, li := range listeners {
		li.Cleared()
	}
}

// Entries returns a copy of the current entries in order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Last returns the newest entry.
func (l *Log) Last() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Plain renders an entry without decoration.
func (e Entry) Plain() string {
	return markup.Render(e.Markup, markup.Plain)
}

// LineInput is an Input for line-oriented front-ends: the line is consumed as
// soon as it is read, so only the placeholder is tracked.
type LineInput struct {
	mu          sync.Mutex
	placeholder string
}

// NewLineInput creates an empty input.
func NewLineInput() *LineInput {
	return &LineInput{}
}

// Clear does nothing: the line left the input when it was read.
func (in *LineInput) Clear() {}

func (in *LineInput) SetPlaceholder(text string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.placeholder = text
}

// Focus does nothing: the terminal reads the next line anyway.
func (in *LineInput) Focus() {}

// Placeholder returns the hint shown next to the cursor.
func (in *LineInput) Placeholder() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.placeholder
}
