package fabric

import (
	"sync/atomic"
	"unsafe"
)

// SyncMessage is a move-only, type-erased payload carrying the
// in-memory image of one value of type T plus T's fingerprint.
// Dispatch to multiple endpoints never copies it — Net shares the
// envelope via internalClone, and exactly one receiver may "take" it
// (see TakeAsValid).
type SyncMessage struct {
	fingerprint uint64
	payload     RawMessage
	taken       *atomic.Bool
}

// NewSyncMessage consumes t into a new SyncMessage. A zero-size T
// (e.g. struct{}) still allocates a one-byte sentinel buffer, per
// RawMessage's own zero-capacity promotion.
func NewSyncMessage[T any](t T) SyncMessage {
	m := NewRawMessage(int(unsafe.Sizeof(t)))
	WriteStruct(m, 0, t)

	return SyncMessage{
		fingerprint: fingerprintFor[T](),
		payload:     m,
		taken:       new(atomic.Bool),
	}
}

// SyncPayload reads T back out of a SyncMessage, consuming it. Panics
// if s does not hold a T.
func SyncPayload[T any](s SyncMessage) T {
	if fingerprintFor[T]() != s.fingerprint {
		panic("fabric: sync message was not the requested type")
	}
	return ReadStructUnsafe[T](s.payload, 0)
}

// SyncIsType reports whether s holds a T, by fingerprint comparison.
func SyncIsType[T any](s SyncMessage) bool {
	return fingerprintFor[T]() == s.fingerprint
}

// TakeAsValid attempts to claim this sync message for the calling
// receiver. Exactly one caller across all racing receivers succeeds;
// everyone else must discard the message and keep dequeuing.
func (s SyncMessage) TakeAsValid() bool {
	return s.taken.CompareAndSwap(false, true)
}

// cap returns the payload buffer's capacity, for memory accounting.
func (s SyncMessage) cap() int {
	return s.payload.Cap()
}
