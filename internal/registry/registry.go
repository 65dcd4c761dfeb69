package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
)

const DefaultMaxMailboxMessages = 256

type Config struct {
	// MaxConnections caps concurrently registered connections. <= 0 means
	// unlimited.
	MaxConnections int
	// MaxMailboxMessages caps undelivered messages per connection. Messages
	// beyond the cap are dropped.
	MaxMailboxMessages int
	// PollLivenessTimeout is how long an HTTP-transport connection may go
	// without Touch before Sweep removes it. <= 0 disables reaping.
	PollLivenessTimeout time.Duration

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// RemoveFunc observes a connection leaving the registry. It runs after the
// connection is gone and outside the registry lock, so it may call back into
// the registry.
type RemoveFunc func(id string, transport Transport, reason RemoveReason)

type connection struct {
	id        string
	transport Transport
	lastSeen  time.Time
	mailbox   []Message

	// wake has capacity 1; a pending signal means "mailbox may be non-empty".
	wake chan struct{}
	done chan struct{}
}

type Registry struct {
	cfg     Config
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	conns    map[string]*connection
	onRemove []RemoveFunc
}

func New(cfg Config) *Registry {
	if cfg.MaxMailboxMessages <= 0 {
		cfg.MaxMailboxMessages = DefaultMaxMailboxMessages
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		clock:   clk,
		log:     logger,
		metrics: cfg.Metrics,
		conns:   make(map[string]*connection),
	}
}

// OnRemove registers fn to run whenever a connection is removed. Callbacks
// run in registration order. It must be called before the registry is shared.
func (r *Registry) OnRemove(fn RemoveFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.onRemove = append(r.onRemove, fn)
	r.mu.Unlock()
}

// Register allocates a fresh connection id with an empty mailbox.
func (r *Registry) Register(transport Transport) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		u, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("%w: generate connection id: %v", ErrResourceExhausted, err)
		}
		id := u.String()

		r.mu.Lock()
		if r.cfg.MaxConnections > 0 && len(r.conns) >= r.cfg.MaxConnections {
			r.mu.Unlock()
			r.metrics.Inc(metrics.DropReasonTooManyConns)
			return "", fmt.Errorf("%w: too many connections", ErrResourceExhausted)
		}
		if _, taken := r.conns[id]; taken {
			// Vanishingly unlikely with 122 random bits. Try again.
			r.mu.Unlock()
			continue
		}
		r.conns[id] = &connection{
			id:        id,
			transport: transport,
			lastSeen:  r.clock.Now(),
			wake:      make(chan struct{}, 1),
			done:      make(chan struct{}),
		}
		r.mu.Unlock()

		r.metrics.ConnectionOpened(string(transport))
		r.log.Debug("connection registered", "conn_id", id, "transport", transport)
		return id, nil
	}
	return "", fmt.Errorf("%w: failed to allocate unique connection id", ErrResourceExhausted)
}

// Unregister removes the connection and discards its mailbox. It reports
// whether the connection was present; removing an absent id is a no-op.
func (r *Registry) Unregister(id string, reason RemoveReason) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		r.removeLocked(c)
	}
	hooks := r.onRemove
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.afterRemove(c, reason, hooks)
	return true
}

func (r *Registry) removeLocked(c *connection) {
	delete(r.conns, c.id)
	c.mailbox = nil
	close(c.done)
}

func (r *Registry) afterRemove(c *connection, reason RemoveReason, hooks []RemoveFunc) {
	r.metrics.ConnectionClosed(string(c.transport))
	if reason == RemoveReaped {
		r.metrics.Inc(metrics.ConnectionReaped)
	}
	r.log.Debug("connection unregistered", "conn_id", c.id, "transport", c.transport, "reason", reason)
	for _, fn := range hooks {
		fn(c.id, c.transport, reason)
	}
}

// PollLivenessTimeout returns the configured idle limit for HTTP-transport
// connections.
func (r *Registry) PollLivenessTimeout() time.Duration { return r.cfg.PollLivenessTimeout }

// Touch records activity for id.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	c.lastSeen = r.clock.Now()
	return nil
}

// Enqueue appends msg to the mailbox of id. It reports whether the message
// was queued. A destination that vanished concurrently is not an error: the
// message is dropped.
func (r *Registry) Enqueue(id string, msg Message) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		r.metrics.Inc(metrics.DropReasonDestinationGone)
		r.log.Debug("dropping message for vanished destination", "conn_id", id, "from", msg.From, "type", msg.Type)
		return false
	}
	if len(c.mailbox) >= r.cfg.MaxMailboxMessages {
		r.mu.Unlock()
		r.metrics.Inc(metrics.DropReasonMailboxFull)
		r.log.Warn("dropping message for full mailbox", "conn_id", id, "from", msg.From, "type", msg.Type, "max_mailbox_messages", r.cfg.MaxMailboxMessages)
		return false
	}
	c.mailbox = append(c.mailbox, msg)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	r.mu.Unlock()
	return true
}

// Drain atomically empties and returns the mailbox of id in FIFO order.
func (r *Registry) Drain(id string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, ErrUnknownConnection
	}
	out := c.mailbox
	c.mailbox = nil
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

// Watch returns the wake channel (signalled after each Enqueue) and the done
// channel (closed on removal) for id.
func (r *Registry) Watch(id string) (wake <-chan struct{}, done <-chan struct{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, nil, ErrUnknownConnection
	}
	return c.wake, c.done, nil
}

func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// IDs returns the live connection ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Sweep removes every HTTP-transport connection whose last activity is older
// than PollLivenessTimeout and returns the removed ids.
func (r *Registry) Sweep() []string {
	if r.cfg.PollLivenessTimeout <= 0 {
		return nil
	}
	deadline := r.clock.Now().Add(-r.cfg.PollLivenessTimeout)

	r.mu.Lock()
	var expired []*connection
	for _, c := range r.conns {
		if c.transport != TransportHTTP {
			continue
		}
		if c.lastSeen.Before(deadline) {
			expired = append(expired, c)
		}
	}
	for _, c := range expired {
		r.removeLocked(c)
	}
	hooks := r.onRemove
	r.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, c := range expired {
		r.afterRemove(c, RemoveReaped, hooks)
		ids = append(ids, c.id)
	}
	sort.Strings(ids)
	return ids
}

// Close removes every connection with RemoveShutdown.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		r.Unregister(id, RemoveShutdown)
	}
}
