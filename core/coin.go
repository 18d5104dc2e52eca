package core

import (
	"fmt"
	"sync"

	"solidus/core/Tokens"
)

// nativeToken is the chain's native coin, instantiated once at startup via
// InitNativeToken and consulted by the governance subsystem for quadratic
// voting weight.
var (
	nativeMu    sync.RWMutex
	nativeToken Tokens.Token
)

// InitNativeToken registers the native SYN10 coin with the given supply
// credited to treasury. Safe to call once at node startup.
func InitNativeToken(name, symbol string, decimals uint8, treasury Address, initialSupply uint64) error {
	meta := Tokens.Metadata{
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
		Standard: Tokens.StdSYN10,
	}
	tok, err := (Tokens.Factory{}).Create(meta, map[Tokens.Address]uint64{
		toTokensAddress(treasury): initialSupply,
	})
	if err != nil {
		return fmt.Errorf("core: init native token: %w", err)
	}
	nativeMu.Lock()
	nativeToken = tok
	nativeMu.Unlock()
	return nil
}

func toTokensAddress(a Address) Tokens.Address { return Tokens.Address(a) }

// NativeToken returns the registered native coin, or nil if InitNativeToken
// has not run yet (e.g. in unit tests exercising only the chain engine).
func NativeToken() Tokens.Token {
	nativeMu.RLock()
	defer nativeMu.RUnlock()
	return nativeToken
}

// NativeBalance returns addr's native coin balance, or 0 if no native token
// is registered.
func NativeBalance(addr Address) uint64 {
	tok := NativeToken()
	if tok == nil {
		return 0
	}
	return tok.BalanceOf(toTokensAddress(addr))
}

// NativeTransfer moves native coin between accounts.
func NativeTransfer(from, to Address, amount uint64) error {
	tok := NativeToken()
	if tok == nil {
		return fmt.Errorf("core: native token not initialized")
	}
	return tok.Transfer(toTokensAddress(from), toTokensAddress(to), amount)
}

// NativeBurn removes amount of native coin from addr.
func NativeBurn(addr Address, amount uint64) error {
	tok := NativeToken()
	if tok == nil {
		return fmt.Errorf("core: native token not initialized")
	}
	return tok.Burn(toTokensAddress(addr), amount)
}

// RegisterRewardSubscriber hooks block-reward minting into bus; call once
// during node startup after both the EventBus and the native token exist.
// Blocks whose header omits a coinbase address pay into cfg.RewardPoolAddr
// instead of being lost.
func RegisterRewardSubscriber(bus *EventBus, cfg *Config) {
	bus.Subscribe(BlockConnected{}, func(e Event) { blockRewardCoinbase(e.(BlockConnected), cfg) })
}

// blockRewardCoinbase credits the miner's coinbase address with reward plus
// collected fees once a block connects; wired from the Events bus.
func blockRewardCoinbase(evt BlockConnected, cfg *Config) {
	if evt.BlockReward == nil || evt.Block == nil {
		return
	}
	reward := evt.BlockReward.Uint64()
	if evt.TotalFees != nil {
		reward += evt.TotalFees.Uint64()
	}
	if reward == 0 {
		return
	}
	beneficiary := evt.Block.Block.Header.Coinbase
	if beneficiary.IsZero() && cfg != nil {
		beneficiary = cfg.RewardPoolAddr
	}
	_ = NativeMint(beneficiary, reward)
}

// NativeMint mints amount of native coin directly to beneficiary, used for
// block rewards which increase total supply rather than moving existing
// coin between accounts.
func NativeMint(beneficiary Address, amount uint64) error {
	tok := NativeToken()
	if tok == nil {
		return fmt.Errorf("core: native token not initialized")
	}
	return tok.Mint(toTokensAddress(beneficiary), amount)
}
