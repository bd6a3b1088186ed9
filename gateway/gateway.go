// Package gateway exposes a Net over WebSocket: one fabric.Endpoint is
// created per inbound connection, and every client-sent frame is
// delivered into the net as a Raw broadcast. This is the out-of-scope
// "benchmark harness and example binary" territory the core spec
// treats as an external collaborator, built the way the reference
// server's raw gobwas/ws handler is.
package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/watermesh/fabric/internal/diagnostics"
	"github.com/watermesh/fabric/internal/logging"
	"github.com/watermesh/fabric/internal/metrics"
	"github.com/watermesh/fabric/pkg/fabric"
)

const (
	writeWait = 5 * time.Second
	pongWait  = 30 * time.Second
)

// Config configures a Gateway.
type Config struct {
	Addr                 string
	MaxConnections       int
	EndpointPendingLimit int
	EndpointMemoryLimit  int
	CPURejectThreshold   float64
}

// Gateway accepts WebSocket connections and bridges each one to a
// fabric.Endpoint on Net.
type Gateway struct {
	cfg     Config
	net     fabric.Net
	metrics *metrics.Metrics
	sampler *diagnostics.Sampler
	logger  zerolog.Logger

	connSem chan struct{}
}

// New builds a Gateway bound to net. net's ServerAddr is used as the
// sid for every endpoint the gateway creates, so a gateway connection
// participates in local-net broadcasts by default.
func New(cfg Config, n fabric.Net, m *metrics.Metrics, sampler *diagnostics.Sampler, logger zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:     cfg,
		net:     n,
		metrics: m,
		sampler: sampler,
		logger:  logger,
		connSem: make(chan struct{}, cfg.MaxConnections),
	}
}

// ServeHTTP upgrades the connection to a WebSocket, allocates one
// endpoint for its lifetime, and pumps frames in both directions until
// the connection closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.sampler != nil && g.sampler.ShouldReject(g.cfg.CPURejectThreshold) {
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
		return
	}

	select {
	case g.connSem <- struct{}{}:
	default:
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-g.connSem }()

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.logger.Warn().Err(err).Msg("gateway upgrade failed")
		return
	}

	connID := xid.New().String()
	ep := g.net.NewEndpoint(g.net.ServerAddr())
	ep.SetLimitPending(g.cfg.EndpointPendingLimit)
	ep.SetLimitMemory(g.cfg.EndpointMemoryLimit)
	if g.metrics != nil {
		g.metrics.EndpointCreated(ep)
	}

	g.logger.Info().Str("conn_id", connID).Msg("gateway connection opened")

	var once sync.Once
	closeConn := func() {
		once.Do(func() {
			conn.Close()
			ep.Close()
			if g.metrics != nil {
				g.metrics.EndpointClosed(ep)
			}
			logging.LogEndpointClosed(g.logger, ep.GetSID(), ep.GetEID())
			g.logger.Info().Str("conn_id", connID).Msg("gateway connection closed")
		})
	}
	defer closeConn()

	go g.readLoop(conn, ep, connID)
	g.writeLoop(conn, ep, connID)
}

func (g *Gateway) readLoop(conn net.Conn, ep fabric.Endpoint, connID string) {
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op == ws.OpClose {
			return
		}
		if op != ws.OpBinary && op != ws.OpText {
			continue
		}

		raw := fabric.NewRawMessage(len(data))
		raw.WriteFromSlice(0, data)

		msg := fabric.NewFromRaw(raw)
		msg.DstSID = fabric.LocalNetID
		msg.DstEID = fabric.AnyID
		n := ep.Send(msg)
		logging.LogGive(g.logger, ep.GetSID(), ep.GetEID(), n > 0)

		if g.metrics != nil {
			g.metrics.MessageSent()
		}
	}
}

func (g *Gateway) writeLoop(conn net.Conn, ep fabric.Endpoint, connID string) {
	for {
		msg, err := ep.RecvOrBlock(pongWait)
		if err == fabric.ErrTimedOut {
			// A ping on an idle connection is how a closed peer is
			// noticed when no message arrives to be written.
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		if !msg.IsRaw() {
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := wsutil.WriteServerMessage(conn, ws.OpBinary, msg.Raw().AsSlice()); err != nil {
			g.logger.Warn().Err(err).Str("conn_id", connID).Msg("gateway write failed")
			return
		}
		if g.metrics != nil {
			g.metrics.MessageReceived(msg.Cap())
		}
	}
}

// ListenAndServe starts an HTTP server on cfg.Addr with the gateway as
// its sole handler.
func (g *Gateway) ListenAndServe() error {
	return http.ListenAndServe(g.cfg.Addr, g)
}
