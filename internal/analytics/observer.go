// Package analytics defines the lifecycle hooks fired by a conversation and
// the tracker that reports them to the backend's analytics endpoint.
package analytics

import (
	"log/slog"

	"github.com/BTreeMap/GuiaIA/internal/models"
)

// Observer receives conversation lifecycle notifications.
type Observer interface {
	OnWrongAnswer()
	OnFirstPromptCreated(payload models.FirstPromptPayload)
	OnNewPromptClick()
	OnImproveClick()
	OnClipboardCopy()
}

// Nop ignores every notification.
type Nop struct{}

func (Nop) OnWrongAnswer()                                 {}
func (Nop) OnFirstPromptCreated(models.FirstPromptPayload) {}
func (Nop) OnNewPromptClick()                              {}
func (Nop) OnImproveClick()                                {}
func (Nop) OnClipboardCopy()                               {}

// Safe wraps o so that a panicking observer is logged and swallowed.
// A nil observer becomes Nop.
func Safe(o Observer) Observer {
	if o == nil {
		return Nop{}
	}
	if s, ok := o.(safeObserver); ok {
		return s
	}
	return safeObserver{inner: o}
}

type safeObserver struct {
	inner Observer
}

func guard(hook string) {
	if r := recover(); r != nil {
		slog.Warn("analytics observer panicked", "hook", hook, "panic", r)
	}
}

func (s safeObserver) OnWrongAnswer() {
	defer guard("OnWrongAnswer")
	s.inner.OnWrongAnswer()
}

func (s safeObserver) OnFirstPromptCreated(p models.FirstPromptPayload) {
	defer guard("OnFirstPromptCreated")
	s.inner.OnFirstPromptCreated(p)
}

func (s safeObserver) OnNewPromptClick() {
	defer guard("OnNewPromptClick")
	s.inner.OnNewPromptClick()
}

func (s safeObserver) OnImproveClick() {
	defer guard("OnImproveClick")
	s.inner.OnImproveClick()
}

func (s safeObserver) OnClipboardCopy() {
	defer guard("OnClipboardCopy")
	s.inner.OnClipboardCopy()
}
