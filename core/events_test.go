package core

import "testing"

func addr(b byte) Address {
	var a Address
	a[19] = b
	return a
}

func TestEventBusSubscribeAndPublish(t *testing.T) {
	bus := NewEventBus()
	var got []Hash
	bus.Subscribe(BlockDisconnected{}, func(e Event) {
		bd := e.(BlockDisconnected)
		got = append(got, bd.Block.Block.Hash())
	})

	sb := &StoredBlock{Block: &Block{Header: &BlockHeader{HeightValue: 1}}}
	bus.Publish(BlockDisconnected{Block: sb})

	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0] != sb.Block.Hash() {
		t.Fatalf("handler received wrong block")
	}
}

func TestEventBusIgnoresUnrelatedTypes(t *testing.T) {
	bus := NewEventBus()
	called := false
	bus.Subscribe(BlockConnected{}, func(e Event) { called = true })
	bus.Publish(BlockDisconnected{Block: &StoredBlock{Block: &Block{Header: &BlockHeader{}}}})
	if called {
		t.Fatalf("handler for BlockConnected should not fire on BlockDisconnected")
	}
}
