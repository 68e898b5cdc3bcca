package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/GuiaIA/internal/chat"
	"github.com/BTreeMap/GuiaIA/internal/markup"
	"github.com/BTreeMap/GuiaIA/internal/models"
	"github.com/BTreeMap/GuiaIA/internal/util"
)

// Composer turns accepted answers into a prompt and scores it.
type Composer struct {
	backend  Backend
	sink     chat.Sink
	recorder Recorder
	newID    func() string
}

// NewComposer creates a composer. recorder and newID may be nil.
func NewComposer(b Backend, sink chat.Sink, recorder Recorder, newID func() string) *Composer {
	if newID == nil {
		newID = util.GeneratePromptID
	}
	return &Composer{backend: b, sink: sink, recorder: recorder, newID: newID}
}

// Compose posts the answers and shows the resulting prompt. A response
// without a prompt yields NoPromptPlaceholder.
func (c *Composer) Compose(ctx context.Context, answers models.Answers) (string, error) {
	pending := c.sink.AppendStatus(StatusComposing)
	resp, err := c.backend.ComposeInitial(ctx, answers)
	if err != nil {
		slog.Error("Composer.Compose: compose-initial failed", "error", err)
		c.sink.Replace(pending.Seq, "⚠️ No se pudo construir el prompt: "+markup.Escape(err.Error()))
		return "", fmt.Errorf("compose prompt: %w", err)
	}
	prompt := resp.Prompt
	if prompt == "" {
		prompt = NoPromptPlaceholder
	}
	c.sink.Replace(pending.Seq, "<b>Prompt inicial:</b><br>"+markup.Lines(prompt))
	slog.Info("Composer.Compose: prompt composed", "chars", len(prompt))
	return prompt, nil
}

// Score posts the prompt and shows the scorecard.
func (c *Composer) Score(ctx context.Context, prompt string) (models.Scorecard, error) {
	pending := c.sink.AppendStatus(StatusScoring)
	sc, err := c.backend.Scorecard(ctx, prompt)
	if err != nil {
		slog.Error("Composer.Score: scorecard failed", "error", err)
		c.sink.Replace(pending.Seq, "⚠️ No se pudo calcular el Scorecard: "+markup.Escape(err.Error()))
		return models.Scorecard{}, fmt.Errorf("score prompt: %w", err)
	}
	c.sink.Replace(pending.Seq, ScorecardMarkup(sc))
	slog.Info("Composer.Score: prompt scored", "total", sc.Total, "max", sc.Max)
	return sc, nil
}

// ScorecardMarkup renders total/max followed by every criterion, missing ones as 0.
func ScorecardMarkup(sc models.Scorecard) string {
	parts := make([]string, 0, len(models.CriteriaNames))
	for _, name := range models.CriteriaNames {
		parts = append(parts, name+"="+models.FormatScore(sc.Criterion(name)))
	}
	return fmt.Sprintf("<b>Scorecard:</b> %s/%s<br>%s",
		models.FormatScore(sc.Total), models.FormatScore(sc.Max), strings.Join(parts, ", "))
}

// Record stores a new history entry and returns it. It returns nil when no
// recorder is configured.
func (c *Composer) Record(answers models.Answers, prompt string, sc *models.Scorecard) *models.PromptRecord {
	if c.recorder == nil {
		return nil
	}
	rec := &models.PromptRecord{
		ID:        c.newID(),
		Answers:   answers.Clone(),
		Prompt:    prompt,
		Scorecard: sc,
	}
	c.save(*rec)
	return rec
}

func (c *Composer) save(rec models.PromptRecord) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.SavePromptRecord(rec); err != nil {
		slog.Warn("Composer: prompt record not saved", "id", rec.ID, "error", err)
	}
}
