package flow

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/GuiaIA/internal/analytics"
	"github.com/BTreeMap/GuiaIA/internal/backend"
	"github.com/BTreeMap/GuiaIA/internal/chat"
	"github.com/BTreeMap/GuiaIA/internal/models"
	"github.com/BTreeMap/GuiaIA/internal/store"
	"github.com/BTreeMap/GuiaIA/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twoQuestions = []models.Question{
	{ID: "a", Label: "Name?"},
	{ID: "b", Label: "¿Tono <formal>?"},
}

type countingRevealer struct {
	mu sync.Mutex
	n  int
}

func (r *countingRevealer) RevealPrimary() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
}

func (r *countingRevealer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

type harness struct {
	fb       *testutil.FakeBackend
	log      *chat.Log
	input    *chat.LineInput
	counter  *testutil.Counter
	revealer *countingRevealer
	store    *store.InMemoryStore
	session  *Session
}

func newHarness(t *testing.T, questions []models.Question) *harness {
	t.Helper()
	h := &harness{
		fb:       testutil.NewFakeBackend(t, questions),
		log:      chat.NewLog(),
		input:    chat.NewLineInput(),
		counter:  &testutil.Counter{},
		revealer: &countingRevealer{},
		store:    store.NewInMemoryStore(),
	}
	client := backend.NewClient(backend.WithBaseURL(h.fb.URL()))
	h.session = NewSession(client, h.log,
		WithObserver(h.counter),
		WithInput(h.input),
		WithRecorder(h.store),
	)
	h.session.SetRevealer(h.revealer)
	return h
}

func (h *harness) plain() []string {
	var out []string
	for _, e := range h.log.Entries() {
		out = append(out, e.Plain())
	}
	return out
}

func TestStartResetsState(t *testing.T) {
	h := newHarness(t, twoQuestions)
	ctx := context.Background()

	require.NoError(t, h.session.Start(ctx))
	assert.Equal(t, 0, h.session.Cursor())
	assert.Equal(t, models.PhaseAsking, h.session.Phase())
	assert.Empty(t, h.session.Answers())
	assert.Equal(t, PlaceholderAnswer, h.input.Placeholder())

	entries := h.log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, Greeting, entries[0].Markup)
	assert.Equal(t, "<b>Pregunta 1/2:</b> Name?", entries[1].Markup)
}

func TestStartEscapesQuestionLabel(t *testing.T) {
	h := newHarness(t, twoQuestions)
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Submit(ctx, "Ana"))

	last, ok := h.log.Last()
	require.True(t, ok)
	assert.Equal(t, "<b>Pregunta 2/2:</b> ¿Tono &lt;formal&gt;?", last.Markup)
}

func TestStartWithNoQuestions(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, []string{markupPlain(Greeting)}, h.plain())
	assert.Empty(t, h.input.Placeholder())

	// Nothing to answer.
	require.NoError(t, h.session.Submit(context.Background(), "hola"))
	assert.Empty(t, h.fb.Requests(backend.PathValidateStep))
}

func TestStartFetchError(t *testing.T) {
	h := newHarness(t, twoQuestions)
	h.fb.Handle(backend.PathQuestions, testutil.JSONHandler(http.StatusServiceUnavailable, "caído"))

	err := h.session.Start(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	var te *backend.TransportError
	assert.ErrorAs(t, err, &te)
	assert.Zero(t, h.log.Len())
}

func TestSingleQuestionScenario(t *testing.T) {
	h := newHarness(t, []models.Question{{ID: "a", Label: "Name?"}})
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	require.NoError(t, h.session.Submit(ctx, "  Bob  "))

	assert.Equal(t, models.Answers{"a": "Bob"}, h.session.Answers())
	assert.Equal(t, 1, h.session.Cursor())
	assert.Equal(t, models.PhaseFinished, h.session.Phase())
	assert.Equal(t, "Prompt con Bob", h.session.PromptText())

	composes := h.fb.Requests(backend.PathComposeInitial)
	require.Len(t, composes, 1)
	var req models.ComposeRequest
	composes[0].Decode(t, &req)
	assert.Equal(t, models.Answers{"a": "Bob"}, req.AnswersClean)

	var validate models.ValidateRequest
	h.fb.Requests(backend.PathValidateStep)[0].Decode(t, &validate)
	assert.Equal(t, "a", validate.QuestionID)
	assert.Equal(t, "Bob", validate.Answer)
	assert.Empty(t, validate.History)

	text := strings.Join(h.plain(), "\n")
	assert.Contains(t, text, "Bob")
	assert.Contains(t, text, MsgAccepted)
	assert.Contains(t, text, "Prompt inicial:\nPrompt con Bob")
	assert.Contains(t, text, "Scorecard: 21/30\nrol=4, objetivo=5, tono=3, formato=4, longitud=2, calidad=3")
	assert.NotContains(t, text, StatusValidating)

	assert.Equal(t, 1, h.revealer.count())
	counts := h.counter.Snapshot()
	require.Len(t, counts.FirstPrompts, 1)
	assert.Equal(t, "Prompt con Bob", counts.FirstPrompts[0].PromptText)
	assert.Equal(t, models.Answers{"a": "Bob"}, counts.FirstPrompts[0].Answers)
	assert.Equal(t, []models.Question{{ID: "a", Label: "Name?"}}, counts.FirstPrompts[0].Questions)

	records, err := h.store.ListPromptRecords(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Prompt con Bob", records[0].Prompt)
	require.NotNil(t, records[0].Scorecard)
	assert.Equal(t, float64(21), records[0].Scorecard.Total)
}

func TestHistorySnapshotIsSent(t *testing.T) {
	h := newHarness(t, twoQuestions)
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Submit(ctx, "Ana"))
	require.NoError(t, h.session.Submit(ctx, "formal"))

	reqs := h.fb.Requests(backend.PathValidateStep)
	require.Len(t, reqs, 2)
	var second models.ValidateRequest
	reqs[1].Decode(t, &second)
	assert.Equal(t, "b", second.QuestionID)
	assert.Equal(t, models.Answers{"a": "Ana"}, second.History)
}

func TestRejectedAnswer(t *testing.T) {
	h := newHarness(t, twoQuestions)
	h.fb.Handle(backend.PathValidateStep, testutil.JSONHandler(http.StatusOK, models.ValidateResponse{OK: false, Hint: "too short"}))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	err := h.session.Submit(ctx, "x")
	var rejected *ValidationRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "too short", rejected.Hint)

	assert.Equal(t, 0, h.session.Cursor())
	assert.Empty(t, h.session.Answers())
	assert.Equal(t, models.PhaseAsking, h.session.Phase())
	assert.Equal(t, 1, h.counter.Snapshot().WrongAnswers)
	assert.Equal(t, PlaceholderAnswer, h.input.Placeholder())

	text := strings.Join(h.plain(), "\n")
	assert.Contains(t, text, "too short")
	assert.Contains(t, text, "Por favor, responde de nuevo esta pregunta.")

	// The same question is asked again.
	last, _ := h.log.Last()
	assert.Equal(t, "<b>Pregunta 1/2:</b> Name?", last.Markup)
	assert.Empty(t, h.fb.Requests(backend.PathComposeInitial))
}

func TestTransportFailureDuringValidation(t *testing.T) {
	h := newHarness(t, twoQuestions)
	h.fb.Handle(backend.PathValidateStep, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom <b>"))
	})
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	err := h.session.Submit(ctx, "Ana")
	var te *backend.TransportError
	require.ErrorAs(t, err, &te)

	assert.Equal(t, 0, h.session.Cursor())
	assert.Empty(t, h.session.Answers())
	assert.Equal(t, 1, h.counter.Snapshot().WrongAnswers)

	last, _ := h.log.Last()
	assert.Equal(t, "Error de validación: boom &lt;b&gt;", last.Markup)

	// Still interactive afterwards.
	h.fb.Handle(backend.PathValidateStep, testutil.JSONHandler(http.StatusOK, models.ValidateResponse{OK: true}))
	require.NoError(t, h.session.Submit(ctx, "Ana"))
	assert.Equal(t, 1, h.session.Cursor())
}

func TestEmptySubmitIsNoOp(t *testing.T) {
	h := newHarness(t, twoQuestions)
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	before := h.log.Len()

	require.NoError(t, h.session.Submit(ctx, "   \t\n"))
	assert.Empty(t, h.fb.Requests(backend.PathValidateStep))
	assert.Equal(t, before, h.log.Len())
	assert.Equal(t, 0, h.session.Cursor())
}

func TestSubmitAfterFinishedIsNoOp(t *testing.T) {
	h := newHarness(t, []models.Question{{ID: "a", Label: "Name?"}})
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Submit(ctx, "Bob"))
	before := h.log.Len()

	require.NoError(t, h.session.Submit(ctx, "otra"))
	assert.Len(t, h.fb.Requests(backend.PathValidateStep), 1)
	assert.Len(t, h.fb.Requests(backend.PathComposeInitial), 1)
	assert.Equal(t, before, h.log.Len())
}

func TestSubmitWhileValidationInFlightIsNoOp(t *testing.T) {
	h := newHarness(t, twoQuestions)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.fb.Handle(backend.PathValidateStep, func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		testutil.WriteJSON(w, http.StatusOK, models.ValidateResponse{OK: true})
	})
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- h.session.Submit(ctx, "Ana") }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("validation request never arrived")
	}
	assert.True(t, h.session.Busy())
	require.NoError(t, h.session.Submit(ctx, "Otra"))
	close(release)
	require.NoError(t, <-done)

	assert.Len(t, h.fb.Requests(backend.PathValidateStep), 1)
	assert.Equal(t, 1, h.session.Cursor())
	assert.Equal(t, models.Answers{"a": "Ana"}, h.session.Answers())
}

func TestRestartReproducesComposePayload(t *testing.T) {
	h := newHarness(t, twoQuestions)
	ctx := context.Background()

	run := func() {
		require.NoError(t, h.session.Submit(ctx, "Ana"))
		require.NoError(t, h.session.Submit(ctx, "formal"))
	}
	require.NoError(t, h.session.Start(ctx))
	run()
	require.NoError(t, h.session.Restart(ctx))

	assert.Equal(t, 0, h.session.Cursor())
	assert.Equal(t, models.PhaseAsking, h.session.Phase())
	assert.Empty(t, h.session.Answers())
	assert.Empty(t, h.session.PromptText())
	assert.Equal(t, 2, h.log.Len(), "transcript restarts with greeting and first question")

	run()

	composes := h.fb.Requests(backend.PathComposeInitial)
	require.Len(t, composes, 2)
	assert.JSONEq(t, string(composes[0].Body), string(composes[1].Body))

	counts := h.counter.Snapshot()
	assert.Len(t, counts.FirstPrompts, 1, "restart does not re-arm the first prompt hook")
	assert.Equal(t, 1, counts.NewPrompts)
	assert.Equal(t, 2, h.revealer.count())
}

func TestMissingPromptFallsBackToPlaceholder(t *testing.T) {
	h := newHarness(t, []models.Question{{ID: "a", Label: "Name?"}})
	h.fb.Handle(backend.PathComposeInitial, testutil.JSONHandler(http.StatusOK, map[string]string{}))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Submit(ctx, "Bob"))

	assert.Equal(t, NoPromptPlaceholder, h.session.PromptText())
	var sc models.PromptRequest
	h.fb.Requests(backend.PathScorecard)[0].Decode(t, &sc)
	assert.Equal(t, NoPromptPlaceholder, sc.Prompt)
}

func TestComposeFailureStillRevealsControls(t *testing.T) {
	h := newHarness(t, []models.Question{{ID: "a", Label: "Name?"}})
	h.fb.Handle(backend.PathComposeInitial, testutil.JSONHandler(http.StatusBadGateway, "sin modelo"))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Submit(ctx, "Bob"))

	assert.Equal(t, models.PhaseFinished, h.session.Phase())
	assert.Empty(t, h.session.PromptText())
	assert.Empty(t, h.fb.Requests(backend.PathScorecard))
	assert.Equal(t, 1, h.revealer.count())
	assert.Empty(t, h.counter.Snapshot().FirstPrompts)

	last, _ := h.log.Last()
	assert.Contains(t, last.Plain(), "No se pudo construir el prompt")
}

func TestScoreFailureKeepsPrompt(t *testing.T) {
	h := newHarness(t, []models.Question{{ID: "a", Label: "Name?"}})
	h.fb.Handle(backend.PathScorecard, testutil.JSONHandler(http.StatusInternalServerError, "x"))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Submit(ctx, "Bob"))

	assert.Equal(t, "Prompt con Bob", h.session.PromptText())
	assert.Equal(t, 1, h.revealer.count())
	records, _ := h.store.ListPromptRecords(0)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Scorecard)
}

func TestRecordImprovement(t *testing.T) {
	h := newHarness(t, []models.Question{{ID: "a", Label: "Name?"}})
	ctx := context.Background()
	h.session.RecordImprovement("ignored before any prompt")
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Submit(ctx, "Bob"))

	h.session.RecordImprovement("Versión mejorada")
	records, err := h.store.ListPromptRecords(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Versión mejorada", records[0].ImprovedPrompt)
}

type panickingObserver struct{ analytics.Nop }

func (panickingObserver) OnWrongAnswer() { panic("observer bug") }
func (panickingObserver) OnFirstPromptCreated(models.FirstPromptPayload) {
	panic("observer bug")
}

func TestObserverPanicDoesNotCorruptState(t *testing.T) {
	fb := testutil.NewFakeBackend(t, []models.Question{{ID: "a", Label: "Name?"}})
	fb.Handle(backend.PathValidateStep, testutil.SequenceHandler(
		models.ValidateResponse{OK: false, Hint: "no"},
		models.ValidateResponse{OK: true},
	))
	s := NewSession(backend.NewClient(backend.WithBaseURL(fb.URL())), chat.NewLog(), WithObserver(panickingObserver{}))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	assert.NotPanics(t, func() { _ = s.Submit(ctx, "x") })
	assert.Equal(t, 0, s.Cursor())
	assert.NotPanics(t, func() { _ = s.Submit(ctx, "Bob") })
	assert.Equal(t, models.PhaseFinished, s.Phase())
	assert.Equal(t, "Prompt con Bob", s.PromptText())
}

func TestScorecardMarkupDefaultsMissingCriteria(t *testing.T) {
	got := ScorecardMarkup(models.Scorecard{Total: 27.5, Max: 30, Criteria: map[string]float64{"rol": 5}})
	assert.Equal(t, "<b>Scorecard:</b> 27.5/30<br>rol=5, objetivo=0, tono=0, formato=0, longitud=0, calidad=0", got)
}

func TestErrorMessages(t *testing.T) {
	fe := &FetchError{Err: errors.New("offline")}
	assert.Contains(t, fe.Error(), "offline")
	assert.ErrorIs(t, fe, fe.Err)
	assert.Contains(t, (&ValidationRejectedError{QuestionID: "a", Hint: "corto"}).Error(), "corto")
}

func markupPlain(m string) string {
	return chat.Entry{Markup: m}.Plain()
}
