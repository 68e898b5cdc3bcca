// Package messaging connects GuiaIA conversations to WhatsApp: the services
// deliver and receive text messages, and the Relay runs one conversation per
// sender on top of them.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/GuiaIA/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize is the buffer size of the inbound channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message waits for room.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service is a pluggable message transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the digits-only form of a phone number.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event handlers).
	Start(ctx context.Context) error

	// Stop stops background processing and closes Inbound.
	Stop() error

	// Inbound returns the channel of messages sent by participants.
	Inbound() <-chan models.InboundMessage
}

// CanonicalizePhone strips everything but digits and requires at least six.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// inbox is the stoppable inbound channel shared by the services.
type inbox struct {
	mu      sync.RWMutex
	ch      chan models.InboundMessage
	stopped bool
	timeout time.Duration
}

func newInbox() *inbox {
	return &inbox{
		ch:      make(chan models.InboundMessage, DefaultChannelBufferSize),
		timeout: DefaultChannelTimeout,
	}
}

// emit queues msg, dropping it when the service is stopped or the channel
// stays full for longer than the timeout.
func (in *inbox) emit(msg models.InboundMessage) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.stopped {
		slog.Warn("messaging: dropping inbound message (service stopped)", "from", msg.From)
		return false
	}
	select {
	case in.ch <- msg:
		slog.Debug("messaging: inbound message queued", "from", msg.From, "body_length", len(msg.Body))
		return true
	case <-time.After(in.timeout):
		slog.Warn("messaging: inbound channel blocked, dropping message", "from", msg.From, "timeout", in.timeout)
		return false
	}
}

func (in *inbox) isStopped() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.stopped
}

// stop closes the channel once.
func (in *inbox) stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stopped {
		return
	}
	in.stopped = true
	close(in.ch)
}
