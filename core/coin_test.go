package core

import (
	"math/big"
	"testing"
)

func TestNativeTokenLifecycle(t *testing.T) {
	resetStore(t)
	treasury := addr(1)
	alice := addr(2)

	if err := InitNativeToken("Solidus", "SLDS", 8, treasury, 1000); err != nil {
		t.Fatalf("init: %v", err)
	}
	if NativeBalance(treasury) != 1000 {
		t.Fatalf("expected treasury balance 1000, got %d", NativeBalance(treasury))
	}

	if err := NativeTransfer(treasury, alice, 100); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if NativeBalance(alice) != 100 {
		t.Fatalf("expected alice balance 100, got %d", NativeBalance(alice))
	}

	if err := NativeMint(alice, 50); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if NativeBalance(alice) != 150 {
		t.Fatalf("expected alice balance 150 after mint, got %d", NativeBalance(alice))
	}

	if err := NativeBurn(alice, 150); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if NativeBalance(alice) != 0 {
		t.Fatalf("expected alice balance 0 after burn, got %d", NativeBalance(alice))
	}
}

func TestNativeBalanceBeforeInit(t *testing.T) {
	nativeMu.Lock()
	nativeToken = nil
	nativeMu.Unlock()
	if got := NativeBalance(addr(1)); got != 0 {
		t.Fatalf("expected 0 balance before init, got %d", got)
	}
	if err := NativeTransfer(addr(1), addr(2), 1); err == nil {
		t.Fatalf("expected error transferring before init")
	}
}

func TestRegisterRewardSubscriberMintsToCoinbase(t *testing.T) {
	resetStore(t)
	treasury := addr(1)
	miner := addr(7)
	if err := InitNativeToken("Solidus", "SLDS", 8, treasury, 0); err != nil {
		t.Fatalf("init: %v", err)
	}

	bus := NewEventBus()
	cfg := &Config{BlockReward: big.NewInt(10), RewardPoolAddr: treasury}
	RegisterRewardSubscriber(bus, cfg)

	block := &Block{Header: &BlockHeader{Coinbase: miner}}
	bus.Publish(BlockConnected{
		Block:       &StoredBlock{Block: block},
		BlockReward: big.NewInt(10),
		TotalFees:   big.NewInt(5),
	})

	if got := NativeBalance(miner); got != 15 {
		t.Fatalf("expected miner balance 15, got %d", got)
	}
}

func TestRegisterRewardSubscriberFallsBackToRewardPool(t *testing.T) {
	resetStore(t)
	treasury := addr(1)
	if err := InitNativeToken("Solidus", "SLDS", 8, treasury, 0); err != nil {
		t.Fatalf("init: %v", err)
	}

	bus := NewEventBus()
	cfg := &Config{BlockReward: big.NewInt(20), RewardPoolAddr: treasury}
	RegisterRewardSubscriber(bus, cfg)

	block := &Block{Header: &BlockHeader{}} // zero coinbase
	bus.Publish(BlockConnected{
		Block:       &StoredBlock{Block: block},
		BlockReward: big.NewInt(20),
	})

	if got := NativeBalance(treasury); got != 20 {
		t.Fatalf("expected reward pool balance 20, got %d", got)
	}
}
