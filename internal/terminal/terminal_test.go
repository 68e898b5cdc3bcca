package terminal

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/GuiaIA/internal/actions"
	"github.com/BTreeMap/GuiaIA/internal/backend"
	"github.com/BTreeMap/GuiaIA/internal/chat"
	"github.com/BTreeMap/GuiaIA/internal/flow"
	"github.com/BTreeMap/GuiaIA/internal/models"
	"github.com/BTreeMap/GuiaIA/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainScreen(buf *bytes.Buffer) *Screen {
	return NewScreen(buf, WithColor(false), WithWidth(10))
}

func TestScreenRendersEntries(t *testing.T) {
	var buf bytes.Buffer
	log := chat.NewLog(plainScreen(&buf))

	log.AppendUser("hola <b>")
	log.AppendBot("<b>Pregunta 1/2:</b> Nombre?")
	pending := log.AppendStatus("Validando…")
	log.Replace(pending.Seq, "✅ Ok. Registrado.")
	log.Clear()

	out := buf.String()
	assert.Contains(t, out, "Tú: hola <b>\n")
	assert.Contains(t, out, "GuíaIA: Pregunta 1/2: Nombre?\n")
	assert.Contains(t, out, "… Validando…\n")
	assert.Contains(t, out, "GuíaIA: ✅ Ok. Registrado.\n")
	assert.Contains(t, out, strings.Repeat("─", 10))
}

func TestTypewriterPausesPerVisibleRune(t *testing.T) {
	var buf bytes.Buffer
	var pauses int
	tw := Typewriter{Delay: time.Millisecond, sleep: func(time.Duration) { pauses++ }}

	require.NoError(t, tw.Reveal(&buf, "ab c\n"))
	assert.Equal(t, "ab c\n", buf.String())
	assert.Equal(t, 3, pauses)
}

func TestRevealForNonTerminal(t *testing.T) {
	assert.IsType(t, Immediate{}, RevealFor(nil, true))
}

func TestControlsChangedSkipsRepeats(t *testing.T) {
	var buf bytes.Buffer
	s := plainScreen(&buf)
	sets := []actions.ControlSet{{ID: actions.PrimarySetID, Buttons: []actions.Button{{ID: actions.ButtonNew, Label: "Nuevo"}}}}

	s.ControlsChanged(sets)
	s.ControlsChanged(sets)
	assert.Equal(t, 1, strings.Count(buf.String(), "[1] Nuevo"))

	s.Cleared()
	s.ControlsChanged(sets)
	assert.Equal(t, 2, strings.Count(buf.String(), "[1] Nuevo"))
}

func TestControlsChangedRepeatsMenuAfterBotMessage(t *testing.T) {
	var buf bytes.Buffer
	s := plainScreen(&buf)
	log := chat.NewLog(s)
	sets := []actions.ControlSet{{ID: actions.PrimarySetID, Buttons: []actions.Button{{ID: actions.ButtonNew, Label: "Nuevo"}}}}

	s.ControlsChanged(sets)
	log.AppendUser("2")
	log.AppendStatus("Mejorando…")
	s.ControlsChanged(sets)
	assert.Equal(t, 1, strings.Count(buf.String(), "[1] Nuevo"), "user and status lines keep the menu in view")

	log.AppendBot("⚠️ No se pudo mejorar el prompt")
	s.ControlsChanged(sets)
	assert.Equal(t, 2, strings.Count(buf.String(), "[1] Nuevo"))

	pending := log.AppendStatus("Mejorando…")
	log.Replace(pending.Seq, "⚠️ Otra vez")
	s.ControlsChanged(sets)
	assert.Equal(t, 3, strings.Count(buf.String(), "[1] Nuevo"))
}

type fakeConv struct {
	started   int
	submitted []string
}

func (c *fakeConv) Start(ctx context.Context) error { c.started++; return nil }
func (c *fakeConv) Submit(ctx context.Context, raw string) error {
	c.submitted = append(c.submitted, raw)
	return nil
}

type fakeControls struct {
	visible  []actions.Button
	pressed  []string
	restarts int
}

func (f *fakeControls) Choice(text string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > len(f.visible) {
		return "", false
	}
	return f.visible[n-1].ID, true
}
func (f *fakeControls) Press(ctx context.Context, id string) error {
	f.pressed = append(f.pressed, id)
	return nil
}
func (f *fakeControls) Restart(ctx context.Context) error { f.restarts++; return nil }

func TestConsoleHandleRoutesInput(t *testing.T) {
	var buf bytes.Buffer
	conv := &fakeConv{}
	controls := &fakeControls{}
	c := NewConsole(conv, controls, plainScreen(&buf), nil, strings.NewReader(""))
	ctx := context.Background()

	assert.False(t, c.Handle(ctx, "1"))
	assert.Equal(t, []string{"1"}, conv.submitted, "numbers are answers while no menu is shown")

	controls.visible = []actions.Button{{ID: actions.ButtonNew}, {ID: actions.ButtonImprove}}
	assert.False(t, c.Handle(ctx, " 2 "))
	assert.Equal(t, []string{actions.ButtonImprove}, controls.pressed)

	assert.False(t, c.Handle(ctx, "7"))
	assert.Equal(t, []string{"1", "7"}, conv.submitted)

	assert.False(t, c.Handle(ctx, "/REINICIAR"))
	assert.Equal(t, 1, controls.restarts)

	assert.False(t, c.Handle(ctx, CmdHelp))
	assert.Contains(t, buf.String(), "Comandos:")

	assert.True(t, c.Handle(ctx, CmdQuit))
}

func TestConsoleRunEndToEnd(t *testing.T) {
	fb := testutil.NewFakeBackend(t, []models.Question{{ID: "a", Label: "Nombre?"}})
	client := backend.NewClient(backend.WithBaseURL(fb.URL()))

	var buf bytes.Buffer
	screen := plainScreen(&buf)
	log := chat.NewLog(screen)
	input := chat.NewLineInput()
	session := flow.NewSession(client, log, flow.WithInput(input))
	surface := actions.NewSurface(session, client, log, actions.WithAlerter(screen), actions.WithPresenter(screen))
	session.SetRevealer(surface)

	c := NewConsole(session, surface, screen, input, strings.NewReader("Ana\n2\n/salir\n"))
	require.NoError(t, c.Run(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "Pregunta 1/1: Nombre?")
	assert.Contains(t, out, "Prompt inicial:")
	assert.Contains(t, out, "Scorecard: 21/30")
	assert.Contains(t, out, "[1] Iniciar otro prompt  [2] Mejorar con IA")
	assert.Contains(t, out, "Prompt mejorado")
	assert.Contains(t, out, "[1] Iniciar otro prompt  [2] Copiar en portapapeles")
	assert.Len(t, fb.Requests("/improve-online"), 1)
}

func TestConsoleRunReturnsStartError(t *testing.T) {
	fb := testutil.NewFakeBackend(t, nil)
	fb.Handle("/questions", testutil.JSONHandler(500, map[string]string{"error": "down"}))
	client := backend.NewClient(backend.WithBaseURL(fb.URL()))

	var buf bytes.Buffer
	session := flow.NewSession(client, chat.NewLog())
	surface := actions.NewSurface(session, client, chat.NewLog())
	c := NewConsole(session, surface, plainScreen(&buf), nil, strings.NewReader(""))

	var fetchErr *flow.FetchError
	assert.ErrorAs(t, c.Run(context.Background()), &fetchErr)
}
