package fabric

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// neverTime is the Go analog of the original's "sec = INT64_MAX"
// wakeupat sentinel: an absolute time so far in the future no real
// timer thread would ever need to wake this endpoint for it.
var neverTime = time.Unix(1<<62, 0)

type addressData struct {
	mu       sync.Mutex
	sid, eid ID
	gid      ID
}

type endpointInternal struct {
	addr addressData

	messages *SafeQueue[Message]

	condMu sync.Mutex
	cond   *sync.Cond

	wakeupMu sync.Mutex
	wakeupAt time.Time

	memoryUsed   atomic.Int64
	limitPending atomic.Int64
	limitMemory  atomic.Int64

	refcnt atomic.Int64
	slpcnt atomic.Int64

	net Net
}

// Endpoint is an individually-addressable mailbox within a Net. It may
// be cloned so multiple owners share one mailbox, and it is safe to
// use concurrently from multiple goroutines.
type Endpoint struct {
	i *endpointInternal
}

func newEndpointInternal(sid, eid ID, net Net) *endpointInternal {
	ei := &endpointInternal{
		messages: NewSafeQueue[Message](),
		wakeupAt: neverTime,
		net:      net,
	}
	ei.addr.sid = sid
	ei.addr.eid = eid
	ei.addr.gid = UnusedID
	ei.cond = sync.NewCond(&ei.condMu)
	return ei
}

// ID returns a process-local identifier stable for the life of this
// endpoint's internal state — its own address, legal here for the same
// reason RawMessage.ID is.
func (e Endpoint) ID() uintptr {
	return uintptr(unsafe.Pointer(e.i))
}

// Clone returns a second handle to the same mailbox; this is the
// common way to share an endpoint across goroutines or ownership
// contexts. Every Clone must be matched by a Close.
func (e Endpoint) Clone() Endpoint {
	e.i.refcnt.Add(1)
	return Endpoint{i: e.i}
}

// Close releases this handle. When the only remaining reference is the
// one the owning Net holds internally, the endpoint is removed from
// the net's registry and becomes unreachable. Closing a handle whose
// refcount has already reached zero is a programmer error and panics,
// per the "no double-drop" requirement.
func (e Endpoint) Close() {
	left := e.i.refcnt.Add(-1)
	if left < 0 {
		panic("fabric: endpoint closed when its refcount was already zero")
	}
	if left == 1 {
		e.i.net.dropEndpoint(e.i)
	}
}

func (ei *endpointInternal) setWakeupAt(t time.Time) {
	ei.wakeupMu.Lock()
	if t.Before(ei.wakeupAt) {
		ei.wakeupAt = t
	}
	ei.wakeupMu.Unlock()
}

func (ei *endpointInternal) neverWakeMe() {
	ei.wakeupMu.Lock()
	ei.wakeupAt = neverTime
	ei.wakeupMu.Unlock()
}

// WakeAt returns the earliest absolute time a waiter on this endpoint
// wants to be woken — the hook an external timer thread would consult;
// this library doesn't ship one, since signalling happens directly on
// enqueue, but the value is kept accurate regardless.
func (e Endpoint) WakeAt() time.Time {
	ei := e.i
	ei.wakeupMu.Lock()
	defer ei.wakeupMu.Unlock()
	return ei.wakeupAt
}

// GetSID, GetEID, GetGID read the endpoint's address triple.
func (e Endpoint) GetSID() ID { e.i.addr.mu.Lock(); defer e.i.addr.mu.Unlock(); return e.i.addr.sid }
func (e Endpoint) GetEID() ID { e.i.addr.mu.Lock(); defer e.i.addr.mu.Unlock(); return e.i.addr.eid }
func (e Endpoint) GetGID() ID { e.i.addr.mu.Lock(); defer e.i.addr.mu.Unlock(); return e.i.addr.gid }

// SetSID, SetEID, SetGID mutate the endpoint's address triple at
// runtime.
func (e Endpoint) SetSID(id ID) { e.i.addr.mu.Lock(); e.i.addr.sid = id; e.i.addr.mu.Unlock() }
func (e Endpoint) SetEID(id ID) { e.i.addr.mu.Lock(); e.i.addr.eid = id; e.i.addr.mu.Unlock() }
func (e Endpoint) SetGID(id ID) { e.i.addr.mu.Lock(); e.i.addr.gid = id; e.i.addr.mu.Unlock() }

// SetLimitPending caps the number of queued messages; 0 disables the
// limit (the default).
func (e Endpoint) SetLimitPending(n int) { e.i.limitPending.Store(int64(n)) }

// SetLimitMemory caps the total payload capacity (bytes) queued; 0
// disables the limit (the default).
func (e Endpoint) SetLimitMemory(n int) { e.i.limitMemory.Store(int64(n)) }

// HasMessages reports whether a non-blocking Recv would currently
// succeed. Advisory only — another goroutine may drain the queue
// between this call and a following Recv.
func (e Endpoint) HasMessages() bool { return e.i.messages.Len() > 0 }

// SleeperCount is an advisory count of goroutines currently parked in
// RecvOrBlock/RecvOrBlockForever on this endpoint.
func (e Endpoint) SleeperCount() int64 { return e.i.slpcnt.Load() }

// Give is Net's delivery-intake path: it applies the loopback,
// destination-net, destination-endpoint, pending-count and
// memory-limit filters in order, and on acceptance enqueues a clone of
// msg (a Raw clone shares the buffer, a Clone payload is deep-cloned, a
// Sync envelope shares its "taken" flag) and wakes one waiter. Returns true iff the message was enqueued.
func (e Endpoint) Give(msg Message) bool {
	ei := e.i

	ei.addr.mu.Lock()
	mySID, myEID := ei.addr.sid, ei.addr.eid
	ei.addr.mu.Unlock()

	if !msg.CanLoop && msg.SrcEID == myEID && msg.SrcSID == mySID {
		return false
	}

	if msg.DstSID != AnyID {
		if msg.DstSID != LocalNetID {
			if msg.DstSID != mySID {
				return false
			}
		} else if mySID != ei.net.ServerAddr() {
			return false
		}
	}

	if msg.DstEID != AnyID && msg.DstEID != myEID {
		return false
	}

	if limit := ei.limitPending.Load(); limit > 0 && int64(ei.messages.Len()) >= limit {
		return false
	}

	if limit := ei.limitMemory.Load(); limit > 0 && ei.memoryUsed.Load() >= limit {
		return false
	}

	var cloned Message
	if msg.IsSync() {
		cloned = msg.internalClone(netCookie{})
	} else {
		cloned = msg.Clone()
	}

	ei.messages.Put(cloned)
	ei.memoryUsed.Add(int64(msg.Cap()))
	e.wakeOneWaiter()
	return true
}

// wakeOneWaiter signals one goroutine blocked in RecvOrBlock or
// RecvOrBlockForever, if any. The newest draft of the original library
// left this a no-op on the theory that cooperative-yield receivers
// didn't need it; this spec decides the opposite (see SPEC_FULL.md §9)
// and signals for responsiveness.
func (e Endpoint) wakeOneWaiter() {
	e.i.condMu.Lock()
	e.i.cond.Signal()
	e.i.condMu.Unlock()
}

// SendX hands msg to the net as-is, without overwriting its source
// address fields. Returns the number of endpoints that accepted it.
func (e Endpoint) SendX(msg Message) int {
	return e.i.net.Send(msg)
}

// Send stamps msg's source address fields with this endpoint's
// current (sid, eid) and hands it to the net. Returns the number of
// endpoints that accepted it; 0 is legal (no matching endpoint) and is
// not an error.
func (e Endpoint) Send(msg Message) int {
	ei := e.i
	ei.addr.mu.Lock()
	sid, eid := ei.addr.sid, ei.addr.eid
	ei.addr.mu.Unlock()
	return ei.net.SendAs(msg, sid, eid)
}

// SendSyncType wraps t as a Sync message addressed to the local net
// (broadcast to every endpoint on it) and sends it. Equivalent to
// ep.Send(NewSyncEnvelope(t)) with DstSID/DstEID pre-filled.
func SendSyncType[T any](e Endpoint, t T) int {
	msg := NewSyncEnvelope(t)
	msg.DstSID = LocalNetID
	msg.DstEID = AnyID
	return e.Send(msg)
}

// SendCloneType wraps t as a Clone message addressed to the local net
// (broadcast) and sends it.
func SendCloneType[T Cloner](e Endpoint, t T) int {
	msg := NewCloneEnvelope(t)
	msg.DstSID = LocalNetID
	msg.DstEID = AnyID
	return e.Send(msg)
}

func (ei *endpointInternal) recv() (Message, error) {
	for {
		msg, ok := ei.messages.Get()
		if !ok {
			return Message{}, ErrNoMessages
		}

		ei.memoryUsed.Add(-int64(msg.Cap()))

		switch {
		case msg.IsRaw():
			return msg.Dup(), nil
		case msg.IsClone():
			return msg, nil
		default: // Sync
			if msg.Sync().TakeAsValid() {
				return msg, nil
			}
			// Lost the race to another receiver; discard and keep
			// dequeuing, preserving FIFO order for everything else.
		}
	}
}

// Recv is a non-blocking receive: it dequeues until it finds a message
// it can return or the queue runs dry, returning ErrNoMessages in the
// latter case.
func (e Endpoint) Recv() (Message, error) {
	return e.i.recv()
}

// RecvOrBlock blocks until a message arrives or timeout elapses,
// whichever comes first, returning ErrTimedOut in the latter case.
// Spurious wakeups are handled by re-checking the queue and deadline
// in a loop.
func (e Endpoint) RecvOrBlock(timeout time.Duration) (Message, error) {
	ei := e.i
	deadline := time.Now().Add(timeout)

	timer := time.AfterFunc(timeout, func() {
		ei.condMu.Lock()
		ei.cond.Broadcast()
		ei.condMu.Unlock()
	})
	defer timer.Stop()

	ei.slpcnt.Add(1)
	ei.condMu.Lock()
	for ei.messages.Len() < 1 {
		if !time.Now().Before(deadline) {
			ei.condMu.Unlock()
			ei.slpcnt.Add(-1)
			ei.neverWakeMe()
			return Message{}, ErrTimedOut
		}
		ei.setWakeupAt(deadline)
		ei.cond.Wait()
	}
	ei.condMu.Unlock()
	ei.slpcnt.Add(-1)

	// Any other goroutine still sleeping will set its own wake time
	// again after observing this reset, if it needs to sleep longer.
	ei.neverWakeMe()

	return ei.recv()
}

// RecvOrBlockForever blocks until a message arrives, with no deadline.
func (e Endpoint) RecvOrBlockForever() (Message, error) {
	ei := e.i

	ei.slpcnt.Add(1)
	ei.condMu.Lock()
	for ei.messages.Len() < 1 {
		ei.cond.Wait()
	}
	ei.condMu.Unlock()
	ei.slpcnt.Add(-1)

	return ei.recv()
}
