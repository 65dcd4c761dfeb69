package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/policy"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
)

const minReapInterval = 100 * time.Millisecond

type Config struct {
	Registry *registry.Registry
	Policy   policy.Policy

	// ReapInterval is how often idle poll connections are swept. When zero it
	// defaults to half of the registry's poll liveness timeout.
	ReapInterval time.Duration

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Relay is the message-relay engine shared by every transport.
type Relay struct {
	reg     *registry.Registry
	policy  policy.Policy
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	reapInterval time.Duration
}

func New(cfg Config) *Relay {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New(registry.Config{Clock: clk, Logger: logger, Metrics: cfg.Metrics})
	}
	pol := cfg.Policy
	if pol == nil {
		pol = policy.NewPublic()
	}

	r := &Relay{
		reg:          reg,
		policy:       pol,
		clock:        clk,
		log:          logger,
		metrics:      cfg.Metrics,
		reapInterval: cfg.ReapInterval,
	}
	reg.OnRemove(r.handleRemoved)
	return r
}

func (r *Relay) Mode() policy.Mode { return r.policy.Mode() }

func (r *Relay) Registry() *registry.Registry { return r.reg }

// Open registers a new connection for transport.
func (r *Relay) Open(transport registry.Transport) (string, error) {
	id, err := r.reg.Register(transport)
	if err != nil {
		r.reject("", "", err)
		return "", err
	}
	return id, nil
}

// Close unregisters id after its transport went away. It is idempotent.
func (r *Relay) Close(id string) {
	r.reg.Unregister(id, registry.RemoveClosed)
}

// Touch records liveness for id.
func (r *Relay) Touch(id string) error {
	if err := r.reg.Touch(id); err != nil {
		return ErrUnauthorized
	}
	return nil
}

// Drain returns and removes every message queued for id.
func (r *Relay) Drain(id string) ([]registry.Message, error) {
	msgs, err := r.reg.Drain(id)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return msgs, nil
}

// Poll records liveness for id and drains its mailbox.
func (r *Relay) Poll(id string) ([]registry.Message, error) {
	if err := r.Touch(id); err != nil {
		return nil, err
	}
	return r.Drain(id)
}

// Watch exposes the registry wakeups for id to push-based transports.
func (r *Relay) Watch(id string) (wake <-chan struct{}, done <-chan struct{}, err error) {
	wake, done, err = r.reg.Watch(id)
	if err != nil {
		return nil, nil, ErrUnauthorized
	}
	return wake, done, nil
}

// Relay validates msg from src and enqueues it for every destination the
// policy resolves.
func (r *Relay) Relay(src string, msg Message) (Outcome, error) {
	if !r.reg.Contains(src) {
		return Outcome{}, r.reject(src, msg.Type, ErrUnauthorized)
	}
	if err := msg.Validate(); err != nil {
		return Outcome{}, r.reject(src, msg.Type, err)
	}

	switch msg.Type {
	case registry.TypeConnect:
		return r.join(src, msg.Key)
	case registry.TypeDisconnect:
		return r.disconnect(src), nil
	}

	dsts, err := r.policy.Authorize(src, msg.Destination, r.reg)
	if err != nil {
		return Outcome{}, r.reject(src, msg.Type, err)
	}

	var out Outcome
	for _, dst := range dsts {
		if r.reg.Enqueue(dst, registry.Message{From: src, Type: msg.Type, Payload: msg.Payload}) {
			out.Delivered++
			r.metrics.Relayed(string(msg.Type))
		}
	}
	r.log.Debug("relayed signaling message",
		"conn_id", src,
		"type", msg.Type,
		"destination", msg.Destination,
		"delivered", out.Delivered,
	)
	return out, nil
}

func (r *Relay) join(src, key string) (Outcome, error) {
	partner, err := r.policy.Join(src, key, r.reg)
	if err != nil {
		return Outcome{}, r.reject(src, registry.TypeConnect, err)
	}
	if partner == "" {
		r.log.Debug("pairing key presented", "conn_id", src, "mode", r.policy.Mode())
		return Outcome{}, nil
	}

	r.metrics.SessionOpened()
	r.log.Info("session paired", "conn_id", src, "partner_id", partner)

	var out Outcome
	if r.reg.Enqueue(partner, registry.Message{From: src, Type: registry.TypePaired}) {
		out.Delivered++
	}
	r.reg.Enqueue(src, registry.Message{From: partner, Type: registry.TypePaired})
	return out, nil
}

func (r *Relay) disconnect(src string) Outcome {
	var out Outcome
	if partner := r.policy.Partner(src); partner != "" && r.reg.Contains(partner) {
		out.Delivered = 1
	}
	r.reg.Unregister(src, registry.RemoveDisconnected)
	return out
}

// handleRemoved tears down pairing state for a departed connection and tells
// its partner.
func (r *Relay) handleRemoved(id string, _ registry.Transport, reason registry.RemoveReason) {
	partner := r.policy.Leave(id)
	if partner == "" {
		return
	}
	r.metrics.SessionClosed()
	r.log.Info("session torn down", "conn_id", id, "partner_id", partner, "reason", reason)
	r.reg.Enqueue(partner, registry.Message{From: id, Type: registry.TypeDisconnect})
}

func (r *Relay) reject(src string, msgType registry.MessageType, err error) error {
	code := Code(err)
	r.metrics.Rejected(code)
	r.log.Debug("signaling request rejected", "conn_id", src, "type", msgType, "code", code, "err", err)
	return err
}

// RunReaper sweeps idle poll connections until ctx is done. Reaped
// connections go through the same teardown as explicit disconnects.
func (r *Relay) RunReaper(ctx context.Context) error {
	interval := r.reapInterval
	if interval <= 0 {
		interval = r.reg.PollLivenessTimeout() / 2
	}
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval < minReapInterval {
		interval = minReapInterval
	}

	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if reaped := r.reg.Sweep(); len(reaped) > 0 {
				r.log.Info("reaped idle poll connections", "count", len(reaped))
			}
		}
	}
}

// Shutdown removes every connection. Transports observe it through Watch.
func (r *Relay) Shutdown() {
	r.reg.Close()
}
