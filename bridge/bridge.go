// Package bridge adapts fabric's in-process Net to an external NATS
// subject space, the out-of-scope "TCP/inter-net bridge" the core spec
// treats as an external collaborator: it only ever crosses Raw
// payloads, since Sync/Clone messages carry process-local semantics
// (a one-shot take flag, a Go interface value) that have no meaning
// once serialized onto the wire.
package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/watermesh/fabric/internal/diagnostics"
	"github.com/watermesh/fabric/internal/metrics"
	"github.com/watermesh/fabric/pkg/fabric"
)

// pausePollInterval is how often Forward rechecks the sampler once it
// has decided to stop pulling from the net.
const pausePollInterval = 250 * time.Millisecond

// Config configures a Bridge's NATS connection.
type Config struct {
	URL             string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration

	// PauseThreshold is the CPU percent (per diagnostics.Sampler) above
	// which Forward stops draining its endpoint until load recedes.
	PauseThreshold float64
}

// Bridge forwards Raw messages between a local Net and a NATS
// deployment, under one subject per destination sid.
type Bridge struct {
	conn    *nats.Conn
	prefix  string
	metrics *metrics.Metrics
	sampler *diagnostics.Sampler
	pauseAt float64
	logger  zerolog.Logger

	mu   sync.Mutex
	subs map[uint64]*nats.Subscription
}

// Connect dials NATS with the reference server's reconnect posture
// (bounded reconnect attempts, jittered backoff) and wires connection
// lifecycle events into structured logs and metrics. sampler may be
// nil, in which case Forward never pauses for load.
func Connect(cfg Config, m *metrics.Metrics, sampler *diagnostics.Sampler, logger zerolog.Logger) (*Bridge, error) {
	b := &Bridge{
		prefix:  cfg.SubjectPrefix,
		metrics: m,
		sampler: sampler,
		pauseAt: cfg.PauseThreshold,
		logger:  logger,
		subs:    make(map[uint64]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("bridge connected to NATS")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("bridge disconnected from NATS")
				m.BridgeError()
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("bridge reconnected to NATS")
		}),
		nats.ErrorHandler(func(c *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("bridge NATS error")
			m.BridgeError()
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect to NATS: %w", err)
	}
	b.conn = conn
	return b, nil
}

func (b *Bridge) subject(sid uint64) string {
	return fmt.Sprintf("%s.sid.%d", b.prefix, sid)
}

// Attach subscribes to the subject for sid and re-delivers every
// message received there into ep's net, as a Raw envelope stamped with
// ep's own (sid, eid) as source. Stamping the source as ep's own
// address (rather than leaving it zero) means Give's loopback filter
// suppresses delivery back to ep itself, which is what keeps this
// inbound path from being re-picked-up by a Forward draining the same
// ep and bounced straight back out to NATS.
func (b *Bridge) Attach(ep fabric.Endpoint, sid uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sid]; ok {
		return fmt.Errorf("bridge: already attached to sid %d", sid)
	}

	sub, err := b.conn.Subscribe(b.subject(sid), func(msg *nats.Msg) {
		raw := fabric.NewRawMessage(len(msg.Data))
		raw.WriteFromSlice(0, msg.Data)

		envelope := fabric.NewFromRaw(raw)
		envelope.DstSID = sid
		envelope.DstEID = fabric.AnyID

		ep.Send(envelope)
		if b.metrics != nil {
			b.metrics.BridgeReceived()
		}
	})
	if err != nil {
		return fmt.Errorf("bridge: subscribe to sid %d: %w", sid, err)
	}

	b.subs[sid] = sub
	return nil
}

// Forward drains ep in a loop for as long as the process runs,
// publishing each Raw payload it receives to the subject for sid.
// Non-Raw payloads are dropped with a logged warning, since Sync/Clone
// messages carry process-local semantics with no meaning once
// serialized onto the wire. Meant to be run in its own goroutine, one
// per sid forwarded outbound; it never returns.
func (b *Bridge) Forward(ep fabric.Endpoint, sid uint64) {
	subject := b.subject(sid)
	for {
		for b.sampler != nil && b.sampler.ShouldPause(b.pauseAt) {
			time.Sleep(pausePollInterval)
		}

		msg, err := ep.RecvOrBlockForever()
		if err != nil {
			continue
		}
		if !msg.IsRaw() {
			b.logger.Warn().Uint64("sid", sid).Msg("bridge: dropping non-Raw message at outbound boundary")
			continue
		}

		if err := b.conn.Publish(subject, msg.Raw().AsSlice()); err != nil {
			b.logger.Warn().Err(err).Uint64("sid", sid).Msg("bridge: forward publish failed")
			if b.metrics != nil {
				b.metrics.BridgeError()
			}
			continue
		}
		if b.metrics != nil {
			b.metrics.BridgeForwarded()
		}
	}
}

// Detach unsubscribes from sid's subject, if attached.
func (b *Bridge) Detach(sid uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[sid]
	if !ok {
		return nil
	}
	delete(b.subs, sid)
	return sub.Unsubscribe()
}

// Close drains and closes the underlying NATS connection.
func (b *Bridge) Close() {
	b.conn.Drain()
}
