package testutil

import (
	"sync"

	"github.com/BTreeMap/GuiaIA/internal/models"
)

// Counter is an analytics observer that counts notifications. It is safe for
// concurrent use.
type Counter struct {
	mu            sync.Mutex
	wrongAnswers  int
	firstPrompts  []models.FirstPromptPayload
	newPrompts    int
	improveClicks int
	copies        int
}

func (c *Counter) OnWrongAnswer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wrongAnswers++
}

func (c *Counter) OnFirstPromptCreated(p models.FirstPromptPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.firstPrompts = append(c.firstPrompts, p)
}

func (c *Counter) OnNewPromptClick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newPrompts++
}

func (c *Counter) OnImproveClick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.improveClicks++
}

func (c *Counter) OnClipboardCopy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copies++
}

// Counts is a snapshot of a Counter.
type Counts struct {
	WrongAnswers  int
	FirstPrompts  []models.FirstPromptPayload
	NewPrompts    int
	ImproveClicks int
	Copies        int
}

// Snapshot returns the current counts.
func (c *Counter) Snapshot() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counts{
		WrongAnswers:  c.wrongAnswers,
		FirstPrompts:  append([]models.FirstPromptPayload(nil), c.firstPrompts...),
		NewPrompts:    c.newPrompts,
		ImproveClicks: c.improveClicks,
		Copies:        c.copies,
	}
}
