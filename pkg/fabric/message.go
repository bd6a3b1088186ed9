package fabric

// netCookie is an unexported capability token: only code inside this
// package can construct one, so internalClone (below) can only be
// called by Net, the same way the original Rust library gated the
// sync-preserving clone path behind a magic cookie argument — except
// here the gate is Go's own package visibility, not a runtime check.
type netCookie struct{}

// payloadKind tags which of the three disciplines a Message carries.
type payloadKind int

const (
	payloadRaw payloadKind = iota
	payloadSync
	payloadClone
)

// Message is the envelope that is enqueued: source/destination
// addresses, a canloop flag, and exactly one of a Raw, Sync, or Clone
// payload.
type Message struct {
	SrcSID, SrcEID ID
	DstSID, DstEID ID
	CanLoop        bool

	kind  payloadKind
	raw   RawMessage
	sync  SyncMessage
	clone CloneMessage
}

// NewRawMessageEnvelope creates a Message carrying a fresh Raw payload
// of the given capacity.
func NewRawMessageEnvelope(cap int) Message {
	return Message{kind: payloadRaw, raw: NewRawMessage(cap)}
}

// NewFromRaw wraps an existing RawMessage in a Message envelope.
func NewFromRaw(m RawMessage) Message {
	return Message{kind: payloadRaw, raw: m}
}

// NewSyncEnvelope wraps t as a move-only Sync payload.
func NewSyncEnvelope[T any](t T) Message {
	return Message{kind: payloadSync, sync: NewSyncMessage(t)}
}

// NewCloneEnvelope wraps t as a clonable payload.
func NewCloneEnvelope[T Cloner](t T) Message {
	return Message{kind: payloadClone, clone: NewCloneMessage(t)}
}

// IsRaw, IsSync, IsClone report the envelope's payload discipline.
func (m Message) IsRaw() bool   { return m.kind == payloadRaw }
func (m Message) IsSync() bool  { return m.kind == payloadSync }
func (m Message) IsClone() bool { return m.kind == payloadClone }

func mustKind(m Message, k payloadKind, name string) {
	if m.kind != k {
		panic("fabric: message was not type " + name + " [consider checking type first]")
	}
}

// Raw returns the Raw payload. Panics if m is not a Raw message.
func (m Message) Raw() RawMessage {
	mustKind(m, payloadRaw, "raw")
	return m.raw
}

// Sync returns the Sync payload. Panics if m is not a Sync message.
func (m Message) Sync() SyncMessage {
	mustKind(m, payloadSync, "sync")
	return m.sync
}

// CloneValue returns the Clone payload. Panics if m is not a Clone message.
// Named CloneValue to avoid colliding with Message.Clone, the envelope
// clone operation below.
func (m Message) CloneValue() CloneMessage {
	mustKind(m, payloadClone, "clone")
	return m.clone
}

// Cap returns the payload's capacity, for memory accounting.
func (m Message) Cap() int {
	switch m.kind {
	case payloadRaw:
		return m.raw.Cap()
	case payloadSync:
		return m.sync.cap()
	case payloadClone:
		return m.clone.cap()
	}
	return 0
}

// Clone duplicates the envelope, respecting the payload's discipline.
// A Raw clone shares the buffer (shallow); a Clone payload deep-clones
// via the user's CloneValue; a Sync payload can never be cloned this
// way and panics — Sync messages flow only through internalClone,
// which Net alone may call during fan-out.
func (m Message) Clone() Message {
	out := Message{
		SrcSID: m.SrcSID, SrcEID: m.SrcEID,
		DstSID: m.DstSID, DstEID: m.DstEID,
		CanLoop: false,
		kind:    m.kind,
	}
	switch m.kind {
	case payloadRaw:
		out.raw = m.raw.Clone()
	case payloadClone:
		out.clone = m.clone.Clone()
	case payloadSync:
		panic("fabric: tried to clone a SyncMessage, which is unique")
	}
	return out
}

// internalClone is Net's fan-out path: for Sync payloads it shares the
// envelope (and its one-shot taken flag) rather than cloning, which is
// what lets TakeAsValid enforce "received exactly once" across every
// endpoint the broadcast reaches. For Raw and Clone payloads it
// behaves exactly like Clone. Only callable from within this package
// (netCookie is unexported), so only Net can use it.
func (m Message) internalClone(_ netCookie) Message {
	if m.kind != payloadSync {
		return m.Clone()
	}
	return Message{
		SrcSID: m.SrcSID, SrcEID: m.SrcEID,
		DstSID: m.DstSID, DstEID: m.DstEID,
		CanLoop: false,
		kind:    payloadSync,
		sync:    m.sync, // shares the *atomic.Bool taken flag
	}
}

// Dup deep-copies a Raw message's buffer. Valid only for Raw payloads;
// panics otherwise.
func (m Message) Dup() Message {
	mustKind(m, payloadRaw, "raw")
	return Message{
		SrcSID: m.SrcSID, SrcEID: m.SrcEID,
		DstSID: m.DstSID, DstEID: m.DstEID,
		CanLoop: m.CanLoop,
		kind:    payloadRaw,
		raw:     m.raw.Dup(),
	}
}

// DupIfOK deep-copies the buffer if m is Raw; otherwise returns m
// unchanged. Used on dequeue so a returned raw buffer is never aliased
// back into the queue it just left.
func (m Message) DupIfOK() Message {
	if m.kind == payloadRaw {
		return m.Dup()
	}
	return m
}

// IsType reports whether m's Sync or Clone payload matches T's
// fingerprint. Always false for Raw messages.
func IsType[T any](m Message) bool {
	switch m.kind {
	case payloadSync:
		return SyncIsType[T](m.sync)
	case payloadClone:
		return fingerprintFor[T]() == m.clone.fingerprint
	}
	return false
}
