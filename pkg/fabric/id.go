// Package fabric implements an in-process, multi-producer/multi-consumer
// messaging fabric: endpoints addressable by a (net, endpoint, group)
// triple exchange raw, shared-clone, or unique move-only typed messages
// over a Net, with per-endpoint backpressure and blocking receive.
package fabric

import (
	"hash/fnv"
	"reflect"
	"sync"
)

// ID addresses a net (sid), an endpoint (eid), or a group (gid).
type ID = uint64

const (
	// AnyID matches any net or endpoint during delivery filtering.
	AnyID ID = 0
	// LocalNetID, used as a destination sid, means "this net only".
	LocalNetID ID = 1
	// UnusedID marks an address slot as unassigned (e.g. a fresh
	// endpoint's group id).
	UnusedID ID = ^ID(0)
)

// fingerprints caches a stable-for-the-process 64-bit id per type,
// keyed by reflect.Type. There is no Go equivalent of a monomorphised
// per-type constant, so the fingerprint is derived once from the type's
// fully-qualified name and cached; it is stable for the lifetime of the
// running process and intentionally not portable across processes or
// builds, per the "fingerprint" design note.
var (
	fingerprintMu    sync.Mutex
	fingerprintCache = map[reflect.Type]uint64{}
)

func fingerprintOf(t reflect.Type) uint64 {
	fingerprintMu.Lock()
	defer fingerprintMu.Unlock()

	if fp, ok := fingerprintCache[t]; ok {
		return fp
	}

	h := fnv.New64a()
	h.Write([]byte(t.PkgPath()))
	h.Write([]byte{'.'})
	h.Write([]byte(t.Name()))
	if t.Name() == "" {
		// Anonymous/unnamed types (e.g. struct literals) still need a
		// distinct fingerprint; fall back to the full String() form.
		h.Write([]byte(t.String()))
	}
	fp := h.Sum64()
	fingerprintCache[t] = fp
	return fp
}

func fingerprintFor[T any]() uint64 {
	var zero T
	return fingerprintOf(reflect.TypeOf(&zero).Elem())
}
