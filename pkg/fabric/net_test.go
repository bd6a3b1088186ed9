package fabric

import (
	"sync"
	"testing"
	"time"
	"unsafe"
)

// u64Box makes an unsigned integer satisfy Cloner, since Go generics
// have no equivalent of Rust's derived Clone for primitive types.
type u64Box struct{ V uint64 }

func (b u64Box) CloneValue() Cloner { return u64Box{V: b.V} }

type u32Box struct{ V uint32 }

func (b u32Box) CloneValue() Cloner { return u32Box{V: b.V} }

// Scenario 1: echo-pair.
func TestScenarioEchoPair(t *testing.T) {
	net := NewNet(100)
	a := net.NewEndpoint(100)
	b := net.NewEndpoint(100)
	defer a.Close()
	defer b.Close()

	if n := SendCloneType(a, u64Box{V: 3}); n != 1 {
		t.Fatalf("send accepted by %d endpoints, want 1", n)
	}

	msg, err := b.RecvOrBlock(5 * time.Second)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !IsType[u64Box](msg) {
		t.Fatal("wrong payload type")
	}
	if got := ClonePayload[u64Box](msg.CloneValue()); got.V != 3 {
		t.Fatalf("got %d, want 3", got.V)
	}
}

// Scenario 2: sync uniqueness.
func TestScenarioSyncUniqueness(t *testing.T) {
	net := NewNet(100)
	a := net.NewEndpoint(100)
	b := net.NewEndpoint(100)
	c := net.NewEndpoint(100)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	if n := SendSyncType(a, "hello"); n != 2 {
		t.Fatalf("broadcast accepted by %d endpoints, want 2 (b and c)", n)
	}

	type result struct {
		ok  bool
		val string
	}
	read := func(e Endpoint) result {
		msg, err := e.Recv()
		if err != nil {
			return result{ok: false}
		}
		return result{ok: true, val: SyncPayload[string](msg.Sync())}
	}

	rb, rc := read(b), read(c)
	if rb.ok == rc.ok {
		t.Fatalf("expected exactly one of b,c to win the take, got b.ok=%v c.ok=%v", rb.ok, rc.ok)
	}
	winner := rb
	if rc.ok {
		winner = rc
	}
	if winner.val != "hello" {
		t.Fatalf("winner payload = %q, want hello", winner.val)
	}
}

// Scenario 3: deadline.
func TestScenarioDeadline(t *testing.T) {
	net := NewNet(100)
	a := net.NewEndpoint(100)
	defer a.Close()

	start := time.Now()
	_, err := a.RecvOrBlock(200 * time.Millisecond)
	elapsed := time.Since(start)

	if err != ErrTimedOut {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if elapsed < 200*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Fatalf("elapsed = %v, want within [200ms, 500ms]", elapsed)
	}
}

type wireStruct struct {
	A, B, C int32
	D       byte
}

func (wireStruct) noPointers() {}

// Scenario 4: raw stress test across three worker goroutines, grounded
// on the original library's funnyworker barrier test: each worker
// sends one raw message carrying a fixed-size struct to the other two
// and must see both peers exactly once.
func TestScenarioRawStressThreeWorkers(t *testing.T) {
	const workers = 3
	net := NewNet(200)

	eps := make([]Endpoint, workers)
	for i := range eps {
		eps[i] = net.NewEndpoint(200)
		eps[i].SetEID(ID(i + 1))
	}
	defer func() {
		for _, e := range eps {
			e.Close()
		}
	}()

	var barrier sync.WaitGroup
	barrier.Add(workers)

	seen := make([][]int32, workers)
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()

			var zero wireStruct
			raw := NewRawMessageEnvelope(int(unsafe.Sizeof(zero)))
			WriteStruct(raw.Raw(), 0, wireStruct{A: int32(i), B: int32(i * 2), C: int32(i * 3), D: byte(i)})
			raw.DstSID = LocalNetID
			raw.DstEID = AnyID
			eps[i].Send(raw)

			barrier.Done()
			barrier.Wait()

			got := make([]int32, 0, workers-1)
			for len(got) < workers-1 {
				msg, err := eps[i].RecvOrBlock(2 * time.Second)
				if err != nil {
					t.Errorf("worker %d: recv: %v", i, err)
					return
				}
				v := ReadStruct[wireStruct](msg.Raw(), 0)
				got = append(got, v.A)
			}

			mu.Lock()
			seen[i] = got
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for i, got := range seen {
		if len(got) != workers-1 {
			t.Fatalf("worker %d saw %d peers, want %d", i, len(got), workers-1)
		}
		peers := map[int32]bool{}
		for _, v := range got {
			peers[v] = true
		}
		for j := 0; j < workers; j++ {
			if j == i {
				continue
			}
			if !peers[int32(j)] {
				t.Fatalf("worker %d never saw peer %d", i, j)
			}
		}
	}
}

// Scenario 5: pending limit.
func TestScenarioPendingLimit(t *testing.T) {
	net := NewNet(100)
	a := net.NewEndpoint(100)
	b := net.NewEndpoint(100)
	defer a.Close()
	defer b.Close()
	b.SetLimitPending(2)

	accepted := 0
	for i := 0; i < 5; i++ {
		accepted += SendCloneType(a, u32Box{V: uint32(i)})
		if b.i.messages.Len() > 2 {
			t.Fatalf("queue length %d exceeds limit 2", b.i.messages.Len())
		}
	}
	if accepted != 2 {
		t.Fatalf("total accepted = %d, want 2", accepted)
	}
}

// Scenario 6: loopback suppression.
func TestScenarioLoopbackSuppression(t *testing.T) {
	net := NewNet(100)
	a := net.NewEndpoint(100)
	defer a.Close()

	SendCloneType(a, u32Box{V: 1})
	if _, err := a.Recv(); err != ErrNoMessages {
		t.Fatalf("err = %v, want ErrNoMessages (canloop defaults false)", err)
	}

	msg := NewCloneEnvelope(u32Box{V: 1})
	msg.CanLoop = true
	msg.DstSID = LocalNetID
	msg.DstEID = AnyID
	a.Send(msg)

	got, err := a.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if v := ClonePayload[u32Box](got.CloneValue()); v.V != 1 {
		t.Fatalf("got %d, want 1", v.V)
	}
}

// P5: addressing filters.
func TestAddressingFiltersDelivery(t *testing.T) {
	net := NewNet(100)
	a := net.NewEndpoint(100)
	a.SetEID(7)
	defer a.Close()

	msg := NewCloneEnvelope(u32Box{V: 9})
	msg.DstSID = 999 // neither 0, 1, nor a's sid
	msg.DstEID = AnyID
	if n := net.Send(msg); n != 0 {
		t.Fatalf("accepted = %d, want 0 (dstsid mismatch)", n)
	}

	msg2 := NewCloneEnvelope(u32Box{V: 9})
	msg2.DstSID = AnyID
	msg2.DstEID = 12345 // not a's eid
	if n := net.Send(msg2); n != 0 {
		t.Fatalf("accepted = %d, want 0 (dsteid mismatch)", n)
	}
}

// P7: clone/raw broadcast reaches everyone but the sender.
func TestBroadcastReachesAllButSender(t *testing.T) {
	net := NewNet(100)
	a := net.NewEndpoint(100)
	b := net.NewEndpoint(100)
	c := net.NewEndpoint(100)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	n := SendCloneType(a, u32Box{V: 1})
	if n != 2 {
		t.Fatalf("accepted = %d, want 2", n)
	}
	if _, err := a.Recv(); err != ErrNoMessages {
		t.Fatalf("sender should not receive its own broadcast, got err=%v", err)
	}
	if _, err := b.Recv(); err != nil {
		t.Fatalf("b: %v", err)
	}
	if _, err := c.Recv(); err != nil {
		t.Fatalf("c: %v", err)
	}
}

// P10: endpoints may be cloned and closed in any interleaving.
func TestEndpointCloneCloseNoDoubleFree(t *testing.T) {
	net := NewNet(100)
	ep := net.NewEndpoint(100)

	clones := make([]Endpoint, 10)
	for i := range clones {
		clones[i] = ep.Clone()
	}

	var wg sync.WaitGroup
	wg.Add(len(clones))
	for _, c := range clones {
		go func(c Endpoint) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()

	if net.EndpointCount() != 1 {
		t.Fatalf("endpoint count = %d, want 1 (original handle still open)", net.EndpointCount())
	}

	ep.Close()
	if net.EndpointCount() != 0 {
		t.Fatalf("endpoint count = %d, want 0 after final close", net.EndpointCount())
	}
}

func TestEndpointDoubleCloseSameHandlePanics(t *testing.T) {
	net := NewNet(100)
	ep := net.NewEndpoint(100)
	ep.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double close")
		}
	}()
	ep.Close()
}

func TestNetSendRateLimit(t *testing.T) {
	net := NewNet(100)
	a := net.NewEndpoint(100)
	b := net.NewEndpoint(100)
	defer a.Close()
	defer b.Close()

	net.SetSendRateLimit(1)
	first := SendCloneType(a, u32Box{V: 1})
	second := SendCloneType(a, u32Box{V: 2})

	if first != 1 {
		t.Fatalf("first send accepted = %d, want 1", first)
	}
	if second != 0 {
		t.Fatalf("second send (over burst) accepted = %d, want 0", second)
	}
}
