package fabric

import "testing"

type counter struct {
	n int
}

func (c counter) CloneValue() Cloner { return counter{n: c.n} }

func TestCloneEnvelopeDeepClones(t *testing.T) {
	m := NewCloneEnvelope(counter{n: 5})
	cloned := m.Clone()

	if !IsType[counter](cloned) {
		t.Fatal("clone lost its type identity")
	}
	if got := ClonePayload[counter](cloned.CloneValue()); got.n != 5 {
		t.Fatalf("got %d, want 5", got.n)
	}
}

func TestSyncEnvelopeCloneFails(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic cloning a sync envelope")
		}
	}()
	m := NewSyncEnvelope(uint64(3))
	m.Clone()
}

func TestSyncPayloadFingerprintMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on fingerprint mismatch")
		}
	}()
	m := NewSyncEnvelope(uint64(3))
	SyncPayload[string](m.Sync())
}

func TestMessageAccessorWrongKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reading Raw() off a Clone envelope")
		}
	}()
	m := NewCloneEnvelope(counter{n: 1})
	m.Raw()
}

func TestInternalCloneSharesSyncTakenFlag(t *testing.T) {
	m := NewSyncEnvelope(uint64(42))
	a := m.internalClone(netCookie{})
	b := m.internalClone(netCookie{})

	if !a.Sync().TakeAsValid() {
		t.Fatal("first take should succeed")
	}
	if b.Sync().TakeAsValid() {
		t.Fatal("second take should fail: the flag must be shared across internalClone copies")
	}
}
