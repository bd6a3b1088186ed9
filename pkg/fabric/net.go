package fabric

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

type netInternal struct {
	serverAddr ID

	mu        sync.Mutex
	endpoints []*endpointInternal

	nextEID atomic.Uint64

	limiterMu sync.Mutex
	limiter   *rate.Limiter
}

// Net is the registry every Endpoint is created from and delivered
// through. It is a thin handle over shared internal state: Clone
// returns another handle to the same net, not an independent copy.
type Net struct {
	i *netInternal
}

// NewNet creates a net whose own server address is serverAddr. A
// message addressed with DstSID == LocalNetID is only deliverable to
// endpoints whose own sid equals serverAddr — see Endpoint.Give.
func NewNet(serverAddr ID) Net {
	n := &netInternal{serverAddr: serverAddr}
	return Net{i: n}
}

// Clone returns another handle to the same net.
func (n Net) Clone() Net {
	return Net{i: n.i}
}

// ServerAddr returns the net's own address, as passed to NewNet.
func (n Net) ServerAddr() ID {
	return n.i.serverAddr
}

// SetSendRateLimit caps the sustained rate of Send/SendAs calls that
// are allowed to actually fan out, using a token bucket (burst ==
// rps). A call that the limiter rejects returns 0 without walking the
// endpoint registry, the same way a filtered Give does. Passing rps <=
// 0 disables the limit (the default).
func (n Net) SetSendRateLimit(rps float64) {
	n.i.limiterMu.Lock()
	defer n.i.limiterMu.Unlock()
	if rps <= 0 {
		n.i.limiter = nil
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	n.i.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

func (n Net) allowSend() bool {
	n.i.limiterMu.Lock()
	l := n.i.limiter
	n.i.limiterMu.Unlock()
	if l == nil {
		return true
	}
	return l.Allow()
}

// NewEndpoint allocates a fresh endpoint on this net, with an eid
// unique among the endpoints this net has allocated and the given sid. The returned handle is one of
// two logical references created: the net's registry keeps the other,
// which is why an endpoint survives Close calls until every external
// handle (not just the first) has been closed.
func (n Net) NewEndpoint(sid ID) Endpoint {
	eid := n.i.nextEID.Add(1)
	ei := newEndpointInternal(sid, eid, n)
	ei.refcnt.Store(2)

	n.i.mu.Lock()
	n.i.endpoints = append(n.i.endpoints, ei)
	n.i.mu.Unlock()

	return Endpoint{i: ei}
}

// EndpointCount returns the number of endpoints currently registered.
func (n Net) EndpointCount() int {
	n.i.mu.Lock()
	defer n.i.mu.Unlock()
	return len(n.i.endpoints)
}

func (n Net) dropEndpoint(ei *endpointInternal) {
	n.i.mu.Lock()
	for idx, cand := range n.i.endpoints {
		if cand == ei {
			n.i.endpoints = append(n.i.endpoints[:idx], n.i.endpoints[idx+1:]...)
			break
		}
	}
	n.i.mu.Unlock()

	// Release the registry's own reference now that the slot is gone.
	ei.refcnt.Add(-1)
}

// Send fans msg out to every registered endpoint whose Give accepts
// it, without touching msg's source address fields. Returns the
// number of endpoints that accepted a copy.
func (n Net) Send(msg Message) int {
	if !n.allowSend() {
		return 0
	}

	n.i.mu.Lock()
	targets := make([]*endpointInternal, len(n.i.endpoints))
	copy(targets, n.i.endpoints)
	n.i.mu.Unlock()

	accepted := 0
	for _, ei := range targets {
		if (Endpoint{i: ei}).Give(msg) {
			accepted++
		}
	}
	return accepted
}

// SendAs stamps msg's source address with (srcSID, srcEID) and then
// behaves like Send.
func (n Net) SendAs(msg Message, srcSID, srcEID ID) int {
	msg.SrcSID = srcSID
	msg.SrcEID = srcEID
	return n.Send(msg)
}

// SendSync wraps t as a Sync message addressed to every endpoint on
// this net (DstSID == LocalNetID, DstEID == AnyID) and sends it,
// without stamping a source address.
func SendSync[T any](n Net, t T) int {
	msg := NewSyncEnvelope(t)
	msg.DstSID = LocalNetID
	msg.DstEID = AnyID
	return n.Send(msg)
}

// SendSyncAs is SendSync with an explicit source address stamped in.
func SendSyncAs[T any](n Net, t T, srcSID, srcEID ID) int {
	msg := NewSyncEnvelope(t)
	msg.DstSID = LocalNetID
	msg.DstEID = AnyID
	return n.SendAs(msg, srcSID, srcEID)
}
