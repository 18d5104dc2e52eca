package core

import (
	"fmt"
	"math/big"
	"sync"
)

// BlockConnected is published when a block becomes canonical, whether by
// fast-forward, reorg, or mining.
type BlockConnected struct {
	Block          *StoredBlock
	CumulativeDiff *big.Int
	TotalFees      *big.Int
	BlockReward    *big.Int
}

// BlockDisconnected is published when a block is demoted from canonical
// during a reorg.
type BlockDisconnected struct {
	Block *StoredBlock
}

// BlockMined is published when the local miner produces a new block,
// independent of whether it is later connected.
type BlockMined struct {
	Block *StoredBlock
}

// MempoolTxAdded and MempoolTxRemoved are published toward the (out of
// scope) mempool so it can react to chain reorganizations.
type MempoolTxAdded struct{ Tx *Transaction }
type MempoolTxRemoved struct{ Tx *Transaction }

// Event is the empty marker interface satisfied by every event payload
// above; handlers type-switch on the concrete type.
type Event any

// Handler receives published events; it must not block for long, since the
// bus invokes handlers synchronously within Publish.
type Handler func(Event)

// EventBus is the in-process pub/sub used by reorg and ingestion to announce
// chain changes. Subscribers registered for a given event's Go type are
// invoked in subscription order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string][]Handler)}
}

func eventKey(e Event) string {
	return fmt.Sprintf("%T", e)
}

// Subscribe registers fn to be called whenever an event of the same
// concrete type as sample is published.
func (b *EventBus) Subscribe(sample Event, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := eventKey(sample)
	b.handlers[key] = append(b.handlers[key], fn)
}

// Publish invokes every handler registered for e's concrete type, in
// subscription order.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	hs := b.handlers[eventKey(e)]
	// Copy under the lock so handler execution never races a concurrent
	// Subscribe.
	cp := make([]Handler, len(hs))
	copy(cp, hs)
	b.mu.RUnlock()
	for _, h := range cp {
		h(e)
	}
}

// EventCode identifies a wire-serializable event kind + schema version, for
// the dynamic-dispatch codec registry described in the design notes.
type EventCode struct {
	Kind    uint8
	Version uint8
}

const (
	eventKindBlockConnected uint8 = iota + 1
	eventKindBlockDisconnected
	eventKindBlockMined
)

// EventCodec is a pure (encode, decode) function pair; the registry below
// dispatches on EventCode without any inheritance hierarchy.
type EventCodec struct {
	Encode func(Event) ([]byte, error)
	Decode func([]byte) (Event, error)
}

var eventCodecs = map[EventCode]EventCodec{
	{Kind: eventKindBlockConnected, Version: 1}: {
		Encode: func(e Event) ([]byte, error) {
			bc := e.(BlockConnected)
			return EncodeStoredBlock(bc.Block)
		},
		Decode: func(b []byte) (Event, error) {
			sb, err := DecodeStoredBlock(b)
			if err != nil {
				return nil, err
			}
			return BlockConnected{Block: sb, CumulativeDiff: sb.CumulativeDiff}, nil
		},
	},
	{Kind: eventKindBlockDisconnected, Version: 1}: {
		Encode: func(e Event) ([]byte, error) {
			bd := e.(BlockDisconnected)
			return EncodeStoredBlock(bd.Block)
		},
		Decode: func(b []byte) (Event, error) {
			sb, err := DecodeStoredBlock(b)
			if err != nil {
				return nil, err
			}
			return BlockDisconnected{Block: sb}, nil
		},
	},
}

// RegisterEventCodec adds or replaces the codec for the given code, letting
// external consumers (webhook dispatcher, explorer projection) register
// their own wire formats without this package knowing about them.
func RegisterEventCodec(code EventCode, codec EventCodec) {
	eventCodecs[code] = codec
}

// EncodeEvent looks up the codec for code and encodes e.
func EncodeEvent(code EventCode, e Event) ([]byte, error) {
	codec, ok := eventCodecs[code]
	if !ok {
		return nil, fmt.Errorf("core: no codec registered for event code %+v", code)
	}
	return codec.Encode(e)
}

// DecodeEvent looks up the codec for code and decodes b.
func DecodeEvent(code EventCode, b []byte) (Event, error) {
	codec, ok := eventCodecs[code]
	if !ok {
		return nil, fmt.Errorf("core: no codec registered for event code %+v", code)
	}
	return codec.Decode(b)
}
