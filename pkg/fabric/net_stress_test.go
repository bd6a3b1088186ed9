package fabric

import (
	"runtime"
	"sync"
	"testing"
	"time"
	"unsafe"
)

// funnyStruct and the 0x12/0x10 marker values mirror
// original_source/tests/basic.rs's SafeStructure and its "c" field:
// 0x12 tags a normal payload, 0x10 tags a worker's exit notice.
type funnyStruct struct {
	A, B uint32
	C    uint8
}

func (funnyStruct) noPointers() {}

const (
	funnyPayload     = 0x12
	funnyTermination = 0x10
)

// funnyWorker is the Go analog of funnyworker: it spin-waits on
// Net.EndpointCount until every worker plus the test's guard endpoint
// has registered, exchanges one raw message with each of the other
// workers, and finally sends a termination message so the guard knows
// it's done. Termination messages are drained like any other message
// but never counted toward a worker's expected peer set.
func funnyWorker(t *testing.T, net Net, dbgid, threadCount int) {
	ep := net.NewEndpoint(net.ServerAddr())
	defer ep.Close()

	for net.EndpointCount() < threadCount+1 {
		runtime.Gosched()
	}

	deadline := time.Now().Add(4 * time.Second)

	const limit = 1
	sent, recv := 0, 0
	seen := make(map[uint32]bool, threadCount-1)

	var zero funnyStruct
	size := int(unsafe.Sizeof(zero))

	for recv < limit*(threadCount-1) || sent < limit {
		if time.Now().After(deadline) {
			t.Errorf("worker %d: timed out, sent=%d recv=%d", dbgid, sent, recv)
			return
		}

		for {
			msg, err := ep.Recv()
			if err != nil {
				break
			}
			v := ReadStruct[funnyStruct](msg.Raw(), 0)
			if v.C == funnyTermination {
				continue
			}
			if seen[v.A] {
				t.Errorf("worker %d: got worker %d twice", dbgid, v.A)
				return
			}
			seen[v.A] = true
			recv++
		}

		if sent < limit {
			raw := NewRawMessageEnvelope(size)
			WriteStruct(raw.Raw(), 0, funnyStruct{A: uint32(dbgid), B: uint32(sent), C: funnyPayload})
			raw.DstSID = LocalNetID
			raw.DstEID = AnyID
			if n := ep.Send(raw); n < threadCount {
				t.Errorf("worker %d: send accepted by %d endpoints, want >= %d", dbgid, n, threadCount)
				return
			}
			sent++
		}
	}

	term := NewRawMessageEnvelope(size)
	WriteStruct(term.Raw(), 0, funnyStruct{A: uint32(dbgid), B: 0, C: funnyTermination})
	term.DstSID = LocalNetID
	term.DstEID = AnyID
	ep.Send(term)
}

// TestNetStressBarrierAndTerminationProtocol is the Go analog of
// _basicio: a guard endpoint registers before any worker starts (so
// the EndpointCount barrier those workers spin on accounts for it),
// then watches for one termination message per worker before
// returning, the same shape as _basicio's completedcnt/threadterm
// loop.
func TestNetStressBarrierAndTerminationProtocol(t *testing.T) {
	const threadCount = 3
	net := NewNet(234)

	guard := net.NewEndpoint(234)
	defer guard.Close()

	var wg sync.WaitGroup
	wg.Add(threadCount)
	for i := 0; i < threadCount; i++ {
		go func(i int) {
			defer wg.Done()
			funnyWorker(t, net, i, threadCount)
		}(i)
	}

	completed := 0
	threadTerm := make([]bool, threadCount)
	for completed < threadCount {
		msg, err := guard.RecvOrBlock(5 * time.Second)
		if err != nil {
			t.Fatalf("guard: timed out waiting for termination messages (%d/%d seen): %v", completed, threadCount, err)
		}
		v := ReadStruct[funnyStruct](msg.Raw(), 0)
		if v.C != funnyTermination {
			continue
		}
		if threadTerm[v.A] {
			t.Fatalf("got termination message from worker %d twice", v.A)
		}
		threadTerm[v.A] = true
		completed++
	}

	wg.Wait()
}

// TestRawMessageStressConcurrentDup is the concurrent analog of
// original_source/tests/basic.rs's rawmsgstress: the original test
// allocates and Dups ten thousand RawMessages on a single thread,
// which exercises the allocation path but not the internal mutex.
// Running the same workload across goroutines gives the Go race
// detector something to actually check.
func TestRawMessageStressConcurrentDup(t *testing.T) {
	const n = 10000
	results := make([]RawMessage, 2*n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			rm := NewRawMessage(32)
			results[2*i] = rm
			results[2*i+1] = rm.Dup()
		}(i)
	}
	wg.Wait()

	for i, rm := range results {
		if rm.Cap() != 32 {
			t.Fatalf("result %d: cap = %d, want 32", i, rm.Cap())
		}
	}
}
