// Package actions implements the controls shown after a prompt is scored:
// restart, improve with AI and copy to clipboard.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/GuiaIA/internal/analytics"
	"github.com/BTreeMap/GuiaIA/internal/chat"
	"github.com/BTreeMap/GuiaIA/internal/markup"
	"github.com/BTreeMap/GuiaIA/internal/models"
)

// Control set and button identifiers.
const (
	PrimarySetID   = "actionsRow"
	SecondarySetID = "postImproveRow"

	ButtonNew     = "btn-new"
	ButtonImprove = "btn-improve"
	ButtonNew2    = "btn-new-2"
	ButtonCopy    = "btn-copy"
)

// Labels and messages.
const (
	LabelNew       = "Iniciar otro prompt"
	LabelImprove   = "Mejorar con IA"
	LabelImproving = "Mejorando..."
	LabelCopy      = "Copiar en portapapeles"

	AlertNoPrompt      = "Primero genera un prompt inicial."
	AlertNothingToCopy = "No hay prompt mejorado para copiar."

	MsgCopied     = "✅ Prompt copiado al portapapeles."
	MsgCopyFailed = "⚠️ No se pudo copiar. Copia manualmente."
)

// Conversation is what the surface needs from a flow.Session.
type Conversation interface {
	Restart(ctx context.Context) error
	PromptText() string
	RecordImprovement(improved string)
}

// Improver rewrites a prompt. The backend client and the OpenAI improver
// both satisfy it. A non-empty Error field is a failure.
type Improver interface {
	Improve(ctx context.Context, prompt string) (models.ImproveResponse, error)
}

// Clipboard writes text to the system clipboard.
type Clipboard interface {
	WriteAll(text string) error
}

// Alerter shows a blocking notice outside the transcript.
type Alerter interface {
	Alert(msg string)
}

// Presenter is told whenever a control set changes.
type Presenter interface {
	ControlsChanged(sets []ControlSet)
}

// ImprovementError is returned when the improver reports an error field.
type ImprovementError struct {
	Message string
}

func (e *ImprovementError) Error() string {
	return e.Message
}

// Button is one control.
type Button struct {
	ID       string
	Label    string
	Disabled bool
}

// ControlSet is a row of buttons. Hidden sets keep their buttons but are not shown.
type ControlSet struct {
	ID      string
	Buttons []Button
	Hidden  bool
	// Payload is the improved prompt attached to the secondary set.
	Payload string
}

// Opts holds optional collaborators of a Surface.
type Opts struct {
	Observer  analytics.Observer
	Clipboard Clipboard
	Alerter   Alerter
	Presenter Presenter
}

// Option configures a Surface.
type Option func(*Opts)

// WithObserver sets the analytics observer.
func WithObserver(o analytics.Observer) Option {
	return func(opts *Opts) {
		opts.Observer = o
	}
}

// WithClipboard sets the clipboard used by the copy control.
func WithClipboard(c Clipboard) Option {
	return func(opts *Opts) {
		opts.Clipboard = c
	}
}

// WithAlerter sets where alerts go.
func WithAlerter(a Alerter) Option {
	return func(opts *Opts) {
		opts.Alerter = a
	}
}

// WithPresenter sets who is told about control changes.
func WithPresenter(p Presenter) Option {
	return func(opts *Opts) {
		opts.Presenter = p
	}
}

// Surface holds the post-score controls of one conversation. Each control set
// is created at most once until the next restart.
type Surface struct {
	conv      Conversation
	improver  Improver
	sink      chat.Sink
	observer  analytics.Observer
	clipboard Clipboard
	alerter   Alerter
	presenter Presenter

	mu        sync.Mutex
	primary   *ControlSet
	secondary *ControlSet
}

// NewSurface creates an empty surface.
func NewSurface(conv Conversation, improver Improver, sink chat.Sink, opts ...Option) *Surface {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Surface{
		conv:      conv,
		improver:  improver,
		sink:      sink,
		observer:  analytics.Safe(cfg.Observer),
		clipboard: cfg.Clipboard,
		alerter:   cfg.Alerter,
		presenter: cfg.Presenter,
	}
}

// RevealPrimary shows restart and improve. A second call is a no-op.
func (s *Surface) RevealPrimary() {
	s.mu.Lock()
	if s.primary != nil {
		s.mu.Unlock()
		return
	}
	s.primary = &ControlSet{
		ID: PrimarySetID,
		Buttons: []Button{
			{ID: ButtonNew, Label: LabelNew},
			{ID: ButtonImprove, Label: LabelImprove},
		},
	}
	s.mu.Unlock()
	slog.Debug("Surface.RevealPrimary: controls shown")
	s.notify()
}

// revealSecondary hides the primary set and shows restart and copy. When the
// secondary set already exists only its payload changes.
func (s *Surface) revealSecondary(improved string) {
	s.mu.Lock()
	if s.primary != nil {
		s.primary.Hidden = true
	}
	if s.secondary != nil {
		s.secondary.Payload = improved
		s.mu.Unlock()
		s.notify()
		return
	}
	s.secondary = &ControlSet{
		ID: SecondarySetID,
		Buttons: []Button{
			{ID: ButtonNew2, Label: LabelNew},
			{ID: ButtonCopy, Label: LabelCopy},
		},
		Payload: improved,
	}
	s.mu.Unlock()
	s.notify()
}

// Sets returns copies of the existing control sets, primary first.
func (s *Surface) Sets() []ControlSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setsLocked()
}

func (s *Surface) setsLocked() []ControlSet {
	var out []ControlSet
	for _, cs := range []*ControlSet{s.primary, s.secondary} {
		if cs == nil {
			continue
		}
		c := *cs
		c.Buttons = append([]Button(nil), cs.Buttons...)
		out = append(out, c)
	}
	return out
}

// Visible returns the buttons of every visible set, in display order.
func (s *Surface) Visible() []Button {
	var out []Button
	for _, cs := range s.Sets() {
		if !cs.Hidden {
			out = append(out, cs.Buttons...)
		}
	}
	return out
}

// Choice maps a typed menu number to the id of the visible button it names.
func (s *Surface) Choice(text string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return "", false
	}
	visible := s.Visible()
	if n < 1 || n > len(visible) {
		return "", false
	}
	return visible[n-1].ID, true
}

// MenuText renders the visible buttons as "[1] label  [2] label", numbered
// the way Choice reads them. It returns "" when nothing is visible or a
// control is busy.
func MenuText(sets []ControlSet) string {
	var parts []string
	n := 0
	for _, cs := range sets {
		if cs.Hidden {
			continue
		}
		for _, b := range cs.Buttons {
			if b.Disabled {
				return ""
			}
			n++
			parts = append(parts, fmt.Sprintf("[%d] %s", n, b.Label))
		}
	}
	return strings.Join(parts, "  ")
}

func (s *Surface) notify() {
	if s.presenter == nil {
		return
	}
	s.presenter.ControlsChanged(s.Sets())
}

// Press handles a click on the button with the given id. Pressing a button
// that is not currently shown does nothing.
func (s *Surface) Press(ctx context.Context, id string) error {
	if !s.pressable(id) {
		slog.Debug("Surface.Press: ignoring unavailable control", "id", id)
		return nil
	}
	switch id {
	case ButtonNew, ButtonNew2:
		return s.restart(ctx)
	case ButtonImprove:
		return s.improve(ctx)
	case ButtonCopy:
		return s.copy()
	}
	return fmt.Errorf("unknown control %q", id)
}

func (s *Surface) pressable(id string) bool {
	for _, b := range s.Visible() {
		if b.ID == id {
			return !b.Disabled
		}
	}
	return false
}

// Restart resets the surface and restarts the conversation whether or not a
// restart control is shown. Front-ends use it for typed commands.
func (s *Surface) Restart(ctx context.Context) error {
	return s.restart(ctx)
}

func (s *Surface) restart(ctx context.Context) error {
	s.mu.Lock()
	s.primary = nil
	s.secondary = nil
	s.mu.Unlock()
	s.notify()
	return s.conv.Restart(ctx)
}

func (s *Surface) improve(ctx context.Context) error {
	s.observer.OnImproveClick()

	base := strings.TrimSpace(s.conv.PromptText())
	if base == "" {
		s.alert(AlertNoPrompt)
		return nil
	}

	old := s.setImproveButton(LabelImproving, true)
	defer s.setImproveButton(old, false)

	improved, err := s.callImprover(ctx, base)
	if err != nil {
		slog.Warn("Surface.improve: improvement failed", "error", err)
		s.sink.AppendBot("⚠️ No se pudo mejorar el prompt: " + markup.Escape(err.Error()))
		s.observer.OnWrongAnswer()
		return err
	}

	s.sink.AppendBot("<b>Prompt mejorado (≤150 palabras):</b><br><pre>" + markup.Escape(improved) + "</pre>")
	s.conv.RecordImprovement(improved)
	s.revealSecondary(improved)
	return nil
}

func (s *Surface) callImprover(ctx context.Context, prompt string) (improved string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("improver panicked: %v", r)
		}
	}()
	resp, err := s.improver.Improve(ctx, prompt)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &ImprovementError{Message: resp.Error}
	}
	return strings.TrimSpace(resp.Prompt), nil
}

// setImproveButton changes the improve button and returns its previous label.
func (s *Surface) setImproveButton(label string, disabled bool) string {
	s.mu.Lock()
	old := LabelImprove
	if s.primary != nil {
		for i := range s.primary.Buttons {
			b := &s.primary.Buttons[i]
			if b.ID == ButtonImprove {
				old = b.Label
				b.Label = label
				b.Disabled = disabled
			}
		}
	}
	s.mu.Unlock()
	s.notify()
	return old
}

func (s *Surface) copy() error {
	s.mu.Lock()
	var text string
	if s.secondary != nil {
		text = strings.TrimSpace(s.secondary.Payload)
	}
	s.mu.Unlock()

	if text == "" {
		s.alert(AlertNothingToCopy)
		return nil
	}

	var err error
	if s.clipboard == nil {
		err = fmt.Errorf("no clipboard available")
	} else {
		err = s.clipboard.WriteAll(text)
	}
	if err != nil {
		slog.Warn("Surface.copy: clipboard write failed", "error", err)
		s.sink.AppendBot(MsgCopyFailed)
	} else {
		s.sink.AppendBot(MsgCopied)
	}
	s.observer.OnClipboardCopy()
	return err
}

func (s *Surface) alert(msg string) {
	if s.alerter == nil {
		slog.Info("Surface.alert", "message", msg)
		return
	}
	s.alerter.Alert(msg)
}
