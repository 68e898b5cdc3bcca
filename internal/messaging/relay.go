package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BTreeMap/GuiaIA/internal/actions"
	"github.com/BTreeMap/GuiaIA/internal/analytics"
	"github.com/BTreeMap/GuiaIA/internal/chat"
	"github.com/BTreeMap/GuiaIA/internal/flow"
	"github.com/BTreeMap/GuiaIA/internal/models"
	"github.com/BTreeMap/GuiaIA/internal/util"
)

// DefaultMaxConversations bounds how many senders are kept in memory.
const DefaultMaxConversations = 1000

// DefaultQueueSize is how many messages of one sender may wait for handling.
const DefaultQueueSize = 32

// KeywordRestart restarts the sender's conversation at any time.
const KeywordRestart = "reiniciar"

// MsgStartFailed is sent when the question bank cannot be loaded.
const MsgStartFailed = "⚠️ No se pudieron cargar las preguntas. Escríbenos de nuevo en unos minutos."

// ObserverFactory builds the analytics observer of a new conversation. When
// the observer has an EndSession method it is called on eviction and Close.
type ObserverFactory func(sender string) analytics.Observer

// RelayOpts holds optional Relay settings.
type RelayOpts struct {
	MaxConversations int
	Observers        ObserverFactory
	Recorder         flow.Recorder
	SendTimeout      time.Duration
}

// RelayOption configures a Relay.
type RelayOption func(*RelayOpts)

// WithMaxConversations bounds the number of live conversations. The least
// recently active one is dropped first.
func WithMaxConversations(n int) RelayOption {
	return func(o *RelayOpts) {
		o.MaxConversations = n
	}
}

// WithObserverFactory attaches analytics to every conversation.
func WithObserverFactory(f ObserverFactory) RelayOption {
	return func(o *RelayOpts) {
		o.Observers = f
	}
}

// WithRecorder stores every composed prompt.
func WithRecorder(r flow.Recorder) RelayOption {
	return func(o *RelayOpts) {
		o.Recorder = r
	}
}

// WithSendTimeout bounds each outbound message.
func WithSendTimeout(d time.Duration) RelayOption {
	return func(o *RelayOpts) {
		o.SendTimeout = d
	}
}

type conversation struct {
	mu       sync.Mutex
	id       string
	sender   string
	started  bool
	session  *flow.Session
	surface  *actions.Surface
	observer analytics.Observer
	endOnce  sync.Once

	// queue feeds the sender's worker in arrival order; stop ends it.
	queue      chan string
	stop       chan struct{}
	workerOnce sync.Once
}

type sessionEnder interface {
	EndSession()
}

func (c *conversation) end() {
	c.endOnce.Do(func() {
		close(c.stop)
		if e, ok := c.observer.(sessionEnder); ok {
			e.EndSession()
		}
	})
}

// Relay runs one GuiaIA conversation per WhatsApp sender.
type Relay struct {
	svc      Service
	backend  flow.Backend
	improver actions.Improver
	opts     RelayOpts

	mu      sync.Mutex
	convs   *lru.Cache[string, *conversation]
	workers sync.WaitGroup
}

// NewRelay creates a relay. Conversations talk to backend and improve prompts
// with improver.
func NewRelay(svc Service, backend flow.Backend, improver actions.Improver, opts ...RelayOption) (*Relay, error) {
	cfg := RelayOpts{MaxConversations: DefaultMaxConversations, SendTimeout: DefaultSendTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = DefaultMaxConversations
	}
	convs, err := lru.NewWithEvict[string, *conversation](cfg.MaxConversations, func(sender string, c *conversation) {
		slog.Info("Relay: conversation dropped", "sender", sender, "id", c.id)
		c.end()
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation cache: %w", err)
	}
	return &Relay{svc: svc, backend: backend, improver: improver, opts: cfg, convs: convs}, nil
}

// Run starts the service and handles inbound messages until ctx is done or
// the service closes its channel. Each sender has its own worker, so senders
// are handled concurrently while one sender's messages keep their order.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.svc.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	slog.Info("Relay.Run: relay started", "max_conversations", r.opts.MaxConversations)

	ctx, cancel := context.WithCancel(ctx)
	defer r.workers.Wait()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-r.svc.Inbound():
			if !ok {
				slog.Info("Relay.Run: inbound channel closed")
				return nil
			}
			r.enqueue(ctx, msg)
		}
	}
}

// enqueue hands msg to its sender's worker, starting the worker on first use.
func (r *Relay) enqueue(ctx context.Context, msg models.InboundMessage) {
	sender, err := r.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("Relay.enqueue: invalid sender", "from", msg.From, "error", err)
		return
	}
	// A conversation evicted between lookup and send is replaced once.
	for attempt := 0; attempt < 2; attempt++ {
		c := r.conversation(sender)
		c.workerOnce.Do(func() {
			r.workers.Add(1)
			go r.work(ctx, c)
		})
		select {
		case c.queue <- msg.Body:
			return
		case <-c.stop:
		case <-ctx.Done():
			return
		}
	}
	slog.Warn("Relay.enqueue: message dropped", "sender", sender)
}

// work handles one sender's queued messages in order until the conversation
// ends or ctx is done.
func (r *Relay) work(ctx context.Context, c *conversation) {
	defer r.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case text := <-c.queue:
			r.process(ctx, c, text)
		}
	}
}

// Handle processes one inbound message right away. The first message of a
// sender starts the conversation; afterwards the text is a restart keyword,
// a menu choice or an answer.
func (r *Relay) Handle(ctx context.Context, msg models.InboundMessage) {
	sender, err := r.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("Relay.Handle: invalid sender", "from", msg.From, "error", err)
		return
	}
	r.process(ctx, r.conversation(sender), msg.Body)
}

func (r *Relay) process(ctx context.Context, c *conversation, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	text := strings.TrimSpace(body)
	slog.Debug("Relay.Handle: inbound message", "sender", c.sender, "id", c.id, "body_length", len(text))

	if !c.started {
		r.start(ctx, c)
		return
	}
	if strings.EqualFold(text, KeywordRestart) {
		if err := c.surface.Restart(ctx); err != nil {
			r.startFailed(c, err)
		}
		return
	}
	if id, ok := c.surface.Choice(text); ok {
		if err := c.surface.Press(ctx, id); err != nil {
			slog.Debug("Relay.Handle: control failed", "id", id, "error", err)
		}
		return
	}
	if err := c.session.Submit(ctx, text); err != nil {
		slog.Debug("Relay.Handle: submit failed", "sender", c.sender, "error", err)
	}
}

func (r *Relay) start(ctx context.Context, c *conversation) {
	if err := c.session.Start(ctx); err != nil {
		r.startFailed(c, err)
		return
	}
	c.started = true
}

func (r *Relay) startFailed(c *conversation, err error) {
	slog.Error("Relay: conversation could not start", "sender", c.sender, "error", err)
	c.started = false
	out := newOutbound(r.svc, c.sender, r.opts.SendTimeout)
	_ = out.send(MsgStartFailed)
}

// conversation returns the sender's conversation, creating it on first contact.
func (r *Relay) conversation(sender string) *conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.convs.Get(sender); ok {
		return c
	}
	c := r.newConversation(sender)
	r.convs.Add(sender, c)
	slog.Info("Relay: new conversation", "sender", sender, "id", c.id)
	return c
}

func (r *Relay) newConversation(sender string) *conversation {
	out := newOutbound(r.svc, sender, r.opts.SendTimeout)
	log := chat.NewLog(out)

	var observer analytics.Observer = analytics.Nop{}
	if r.opts.Observers != nil {
		if o := r.opts.Observers(sender); o != nil {
			observer = o
		}
	}

	sessionOpts := []flow.Option{flow.WithObserver(observer)}
	if r.opts.Recorder != nil {
		sessionOpts = append(sessionOpts, flow.WithRecorder(r.opts.Recorder))
	}
	session := flow.NewSession(r.backend, log, sessionOpts...)
	surface := actions.NewSurface(session, r.improver, log,
		actions.WithObserver(observer),
		actions.WithClipboard(out),
		actions.WithAlerter(out),
		actions.WithPresenter(out),
	)
	session.SetRevealer(surface)

	return &conversation{
		id:       util.GenerateRelaySessionID(),
		sender:   sender,
		session:  session,
		surface:  surface,
		observer: observer,
		queue:    make(chan string, DefaultQueueSize),
		stop:     make(chan struct{}),
	}
}

// Len returns the number of live conversations.
func (r *Relay) Len() int {
	return r.convs.Len()
}

// Close ends every conversation's analytics session and worker and drops them.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs.Purge()
}
