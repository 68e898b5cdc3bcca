package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/GuiaIA/internal/models"
	"github.com/BTreeMap/GuiaIA/internal/store"
)

// DefaultHeartbeatInterval is how often RunHeartbeat reports time spent.
const DefaultHeartbeatInterval = 30 * time.Second

// Poster delivers one event to the analytics endpoint.
type Poster interface {
	PostEvent(ctx context.Context, ev models.AnalyticsEvent) (models.AnalyticsAck, error)
}

// Queue accepts events for delivery. Enqueue must not block on the network.
type Queue interface {
	Enqueue(ev models.AnalyticsEvent) error
}

// DirectQueue posts each event in its own goroutine.
type DirectQueue struct {
	poster  Poster
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDirectQueue creates a queue that posts immediately. A zero timeout means
// each post is bounded only by the client.
func NewDirectQueue(p Poster, timeout time.Duration) *DirectQueue {
	return &DirectQueue{poster: p, timeout: timeout}
}

func (q *DirectQueue) Enqueue(ev models.AnalyticsEvent) error {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ctx := context.Background()
		if q.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, q.timeout)
			defer cancel()
		}
		if err := post(ctx, q.poster, ev); err != nil {
			slog.Warn("DirectQueue: event not delivered", "event", ev.Event, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every posted event has finished.
func (q *DirectQueue) Wait() {
	q.wg.Wait()
}

// OutboxQueue stores events in the durable outbox. An OutboxSender built with
// SendFunc delivers them.
type OutboxQueue struct {
	repo store.OutboxRepo
}

// NewOutboxQueue creates a queue backed by repo.
func NewOutboxQueue(repo store.OutboxRepo) *OutboxQueue {
	return &OutboxQueue{repo: repo}
}

func (q *OutboxQueue) Enqueue(ev models.AnalyticsEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal analytics event: %w", err)
	}
	if _, err := q.repo.EnqueueOutboxMessage(ev.DeviceID, string(ev.Event), string(b), ""); err != nil {
		return fmt.Errorf("enqueue analytics event: %w", err)
	}
	return nil
}

// SendFunc adapts p to the outbox sender callback.
func SendFunc(p Poster) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		var ev models.AnalyticsEvent
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &ev); err != nil {
			return fmt.Errorf("decode outbox event %s: %w", msg.ID, err)
		}
		return post(ctx, p, ev)
	}
}

func post(ctx context.Context, p Poster, ev models.AnalyticsEvent) error {
	ack, err := p.PostEvent(ctx, ev)
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("analytics event %s rejected: %s", ev.Event, ack.Error)
	}
	return nil
}

// Tracker turns conversation hooks into analytics events. It implements Observer.
type Tracker struct {
	deviceID  string
	userAgent string
	queue     Queue
	now       func() time.Time

	mu        sync.Mutex
	started   time.Time
	lastBeat  time.Time
	firstSent bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithUserAgent sets the user_agent field of every event.
func WithUserAgent(ua string) TrackerOption {
	return func(t *Tracker) {
		t.userAgent = ua
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker for deviceID.
func NewTracker(deviceID string, q Queue, opts ...TrackerOption) *Tracker {
	t := &Tracker{deviceID: deviceID, queue: q, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.started = t.now()
	t.lastBeat = t.started
	return t
}

// Compile-time check that Tracker implements Observer.
var _ Observer = (*Tracker)(nil)

// StartSession emits init_session and resets the session clock.
func (t *Tracker) StartSession() {
	t.mu.Lock()
	t.started = t.now()
	t.lastBeat = t.started
	t.mu.Unlock()
	t.emit(models.EventInitSession, nil)
}

// EndSession flushes the time since the last heartbeat and emits end_session.
func (t *Tracker) EndSession() {
	t.Heartbeat()
	t.emit(models.EventEndSession, nil)
}

// Heartbeat emits the milliseconds elapsed since the previous heartbeat.
// Nothing is sent when no time has passed.
func (t *Tracker) Heartbeat() {
	t.mu.Lock()
	now := t.now()
	delta := now.Sub(t.lastBeat).Milliseconds()
	t.lastBeat = now
	t.mu.Unlock()
	if delta <= 0 {
		return
	}
	t.emit(models.EventHeartbeat, map[string]interface{}{"delta_ms": delta})
}

// RunHeartbeat calls Heartbeat every interval until ctx is done.
func (t *Tracker) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Heartbeat()
		}
	}
}

func (t *Tracker) OnWrongAnswer() {
	t.emit(models.EventWrongAnswer, nil)
}

// OnFirstPromptCreated emits prompt_created. time_to_first_prompt_ms is only
// reported on the first prompt of the tracker's lifetime.
func (t *Tracker) OnFirstPromptCreated(p models.FirstPromptPayload) {
	t.mu.Lock()
	payload := map[string]interface{}{"prompt_initial_json": p}
	if !t.firstSent {
		payload["time_to_first_prompt_ms"] = t.now().Sub(t.started).Milliseconds()
		t.firstSent = true
	}
	t.mu.Unlock()
	t.emit(models.EventPromptCreated, payload)
}

func (t *Tracker) OnNewPromptClick() {
	t.emit(models.EventNewPromptClick, nil)
}

func (t *Tracker) OnImproveClick() {
	t.emit(models.EventImproveClick, nil)
}

func (t *Tracker) OnClipboardCopy() {
	t.emit(models.EventClipboardCopy, nil)
}

func (t *Tracker) emit(name models.EventName, payload map[string]interface{}) {
	ev := models.AnalyticsEvent{
		DeviceID:  t.deviceID,
		Event:     name,
		Payload:   payload,
		UserAgent: t.userAgent,
	}
	if err := t.queue.Enqueue(ev); err != nil {
		slog.Warn("Tracker.emit: event dropped", "event", name, "error", err)
		return
	}
	slog.Debug("Tracker.emit", "event", name)
}
