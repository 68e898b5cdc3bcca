// Package flow runs a GuiaIA conversation: it walks the question bank, validates
// each answer against the backend and, once every question is accepted,
// composes and scores the resulting prompt.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/GuiaIA/internal/analytics"
	"github.com/BTreeMap/GuiaIA/internal/chat"
	"github.com/BTreeMap/GuiaIA/internal/markup"
	"github.com/BTreeMap/GuiaIA/internal/models"
)

// Backend is the subset of the GuiaIA backend a conversation talks to.
type Backend interface {
	Questions(ctx context.Context) ([]models.Question, error)
	ValidateStep(ctx context.Context, req models.ValidateRequest) (models.ValidateResponse, error)
	ComposeInitial(ctx context.Context, answers models.Answers) (models.ComposeResponse, error)
	Scorecard(ctx context.Context, prompt string) (models.Scorecard, error)
}

// Recorder persists composed prompts. store.Store satisfies it.
type Recorder interface {
	SavePromptRecord(r models.PromptRecord) error
}

// Revealer shows the post-score controls. Revealing twice must be harmless.
type Revealer interface {
	RevealPrimary()
}

// Opts holds optional collaborators of a Session.
type Opts struct {
	Observer analytics.Observer
	Input    chat.Input
	Recorder Recorder
	NewID    func() string
}

// Option configures a Session.
type Option func(*Opts)

// WithObserver sets the analytics observer. Observer panics are contained.
func WithObserver(o analytics.Observer) Option {
	return func(opts *Opts) {
		opts.Observer = o
	}
}

// WithInput sets the input field the session clears and annotates.
func WithInput(in chat.Input) Option {
	return func(opts *Opts) {
		opts.Input = in
	}
}

// WithRecorder stores every composed prompt.
func WithRecorder(r Recorder) Option {
	return func(opts *Opts) {
		opts.Recorder = r
	}
}

// WithIDGenerator sets how prompt record ids are made.
func WithIDGenerator(fn func() string) Option {
	return func(opts *Opts) {
		opts.NewID = fn
	}
}

// Session is one conversation. It owns the question cursor, the answer map and
// the prompt artifact; every mutation goes through Start, Submit or Restart.
//
// Backend calls are never made while mu is held.
type Session struct {
	backend  Backend
	sink     chat.Sink
	input    chat.Input
	observer analytics.Observer
	composer *Composer

	mu                sync.Mutex
	questions         []models.Question
	answers           models.Answers
	cursor            int
	phase             models.Phase
	inFlight          bool
	generation        int
	promptText        string
	record            *models.PromptRecord
	firstPromptLogged bool
	revealer          Revealer
}

// NewSession creates a conversation that renders into sink.
func NewSession(b Backend, sink chat.Sink, opts ...Option) *Session {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Input == nil {
		cfg.Input = chat.NewLineInput()
	}
	observer := analytics.Safe(cfg.Observer)
	s := &Session{
		backend:  b,
		sink:     sink,
		input:    cfg.Input,
		observer: observer,
		answers:  models.Answers{},
		phase:    models.PhaseAsking,
	}
	s.composer = NewComposer(b, sink, cfg.Recorder, cfg.NewID)
	return s
}

// SetRevealer attaches the action surface. It is set after construction
// because the surface itself needs the session.
func (s *Session) SetRevealer(r Revealer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revealer = r
}

// Start loads the question bank and asks the first question. On failure a
// *FetchError is returned and nothing is rendered.
func (s *Session) Start(ctx context.Context) error {
	slog.Debug("Session.Start: fetching questions")
	qs, err := s.backend.Questions(ctx)
	if err != nil {
		slog.Error("Session.Start: questions fetch failed", "error", err)
		return &FetchError{Err: err}
	}

	s.mu.Lock()
	s.generation++
	s.questions = append([]models.Question(nil), qs...)
	s.answers = models.Answers{}
	s.cursor = 0
	s.phase = models.PhaseAsking
	s.inFlight = false
	s.promptText = ""
	s.record = nil
	s.mu.Unlock()

	slog.Info("Session.Start: conversation started", "questions", len(qs))
	s.sink.AppendBot(Greeting)
	s.ask()
	return nil
}

// ask renders the question under the cursor, if any.
func (s *Session) ask() {
	s.mu.Lock()
	var q *models.Question
	if s.cursor < len(s.questions) {
		cur := s.questions[s.cursor]
		q = &cur
	}
	idx, total := s.cursor, len(s.questions)
	s.mu.Unlock()

	s.input.Clear()
	if q == nil {
		s.input.SetPlaceholder("")
		return
	}
	s.input.SetPlaceholder(PlaceholderAnswer)
	s.sink.AppendBot(questionMarkup(idx, total, *q))
}

func questionMarkup(idx, total int, q models.Question) string {
	return fmt.Sprintf("<b>Pregunta %d/%d:</b> %s", idx+1, total, markup.Escape(q.Label))
}

// Submit validates raw as the answer to the current question.
//
// It does nothing when the trimmed input is empty, the conversation is not
// asking, or a validation is already in flight. A rejected answer returns a
// *ValidationRejectedError and a transport failure returns that error; both
// are also shown in the chat.
func (s *Session) Submit(ctx context.Context, raw string) error {
	val := strings.TrimSpace(raw)
	if val == "" {
		return nil
	}

	s.mu.Lock()
	if s.phase != models.PhaseAsking || s.cursor >= len(s.questions) || s.inFlight {
		s.mu.Unlock()
		return nil
	}
	q := s.questions[s.cursor]
	req := models.ValidateRequest{QuestionID: q.ID, Answer: val, History: s.answers.Clone()}
	gen := s.generation
	s.inFlight = true
	s.mu.Unlock()

	s.sink.AppendUser(val)
	s.input.Clear()
	s.input.SetPlaceholder(PlaceholderValidating)
	pending := s.sink.AppendStatus(StatusValidating)

	slog.Debug("Session.Submit: validating", "questionID", q.ID)
	resp, err := s.backend.ValidateStep(ctx, req)

	s.mu.Lock()
	if gen != s.generation {
		// Restarted while the request was in flight.
		s.mu.Unlock()
		slog.Debug("Session.Submit: dropping stale validation", "questionID", q.ID)
		return nil
	}
	if err != nil || !resp.OK {
		s.inFlight = false
		s.mu.Unlock()
		return s.reject(pending, q, resp, err)
	}
	s.answers[q.ID] = val
	s.cursor++
	finished := s.cursor == len(s.questions)
	if finished {
		s.phase = models.PhaseFinished
	}
	s.inFlight = false
	s.mu.Unlock()

	slog.Info("Session.Submit: answer accepted", "questionID", q.ID, "finished", finished)
	s.sink.Replace(pending.Seq, MsgAccepted)
	if finished {
		s.input.SetPlaceholder("")
		s.compose(ctx, gen)
		return nil
	}
	s.ask()
	return nil
}

func (s *Session) reject(pending chat.Entry, q models.Question, resp models.ValidateResponse, err error) error {
	var result error
	if err != nil {
		slog.Warn("Session.Submit: validation request failed", "questionID", q.ID, "error", err)
		s.sink.Replace(pending.Seq, "Error de validación: "+markup.Escape(err.Error()))
		result = err
	} else {
		slog.Info("Session.Submit: answer rejected", "questionID", q.ID, "hint", resp.Hint)
		s.sink.Replace(pending.Seq, "❌ <b>No pasa validación:</b> "+markup.Escape(resp.Hint)+
			"<br><i>Por favor, responde de nuevo esta pregunta.</i>")
		result = &ValidationRejectedError{QuestionID: q.ID, Hint: resp.Hint}
	}
	s.observer.OnWrongAnswer()
	s.input.SetPlaceholder(PlaceholderAnswer)
	s.input.Focus()
	if err == nil {
		s.ask()
	}
	return result
}

// compose runs the composition flow once the last answer is accepted.
func (s *Session) compose(ctx context.Context, gen int) {
	s.mu.Lock()
	answers := s.answers.Clone()
	questions := append([]models.Question(nil), s.questions...)
	s.mu.Unlock()

	prompt, err := s.composer.Compose(ctx, answers)
	if err != nil {
		s.revealPrimary(gen)
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.promptText = prompt
	fireFirst := !s.firstPromptLogged
	s.firstPromptLogged = true
	s.mu.Unlock()

	if fireFirst {
		s.observer.OnFirstPromptCreated(models.FirstPromptPayload{
			PromptText: prompt,
			Answers:    answers,
			Questions:  questions,
		})
	}

	sc, scErr := s.composer.Score(ctx, prompt)
	var card *models.Scorecard
	if scErr == nil {
		card = &sc
	}
	rec := s.composer.Record(answers, prompt, card)

	s.mu.Lock()
	if gen == s.generation {
		s.record = rec
	}
	s.mu.Unlock()

	s.revealPrimary(gen)
}

func (s *Session) revealPrimary(gen int) {
	s.mu.Lock()
	r := s.revealer
	current := gen == s.generation
	s.mu.Unlock()
	if r != nil && current {
		r.RevealPrimary()
	}
}

// Restart fires the new-prompt hook, wipes the transcript and the session
// state, then behaves like Start.
func (s *Session) Restart(ctx context.Context) error {
	s.observer.OnNewPromptClick()
	s.sink.Clear()
	s.input.Clear()

	s.mu.Lock()
	s.generation++
	s.questions = nil
	s.answers = models.Answers{}
	s.cursor = 0
	s.phase = models.PhaseAsking
	s.inFlight = false
	s.promptText = ""
	s.record = nil
	s.mu.Unlock()

	slog.Info("Session.Restart: conversation reset")
	return s.Start(ctx)
}

// RecordImprovement attaches an improved prompt to the current history record.
func (s *Session) RecordImprovement(improved string) {
	s.mu.Lock()
	rec := s.record
	if rec != nil {
		rec.ImprovedPrompt = improved
	}
	var snapshot models.PromptRecord
	if rec != nil {
		snapshot = *rec
	}
	s.mu.Unlock()
	if rec != nil {
		s.composer.save(snapshot)
	}
}

// Phase returns the current phase.
func (s *Session) Phase() models.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Cursor returns the index of the question being asked.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Answers returns a copy of the accepted answers.
func (s *Session) Answers() models.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Clone()
}

// Questions returns a copy of the question bank.
func (s *Session) Questions() []models.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Question(nil), s.questions...)
}

// PromptText returns the composed prompt, or "" before composition.
func (s *Session) PromptText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptText
}

// Busy reports whether a validation is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
