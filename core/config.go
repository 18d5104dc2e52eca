package core

import (
	"math/big"
	"time"
)

// Config is the node's immutable network configuration, loaded once at
// startup and passed explicitly through constructors (the design notes'
// "immutable Arc<Config>" pattern, realized in Go as a pointer no component
// ever mutates after construction). Fork-activation queries are pure
// functions of (*Config, height).
type Config struct {
	NetworkID   string
	ChainID     int
	MaxHeaderSize  uint32
	MaxTxCount     uint32
	MaxBlockSize   uint32
	MaxTxSize      uint32
	ClockSkew      time.Duration
	MaxPowTarget   *big.Int
	Difficulty     *DifficultyParams
	MaxFrameSize   uint32
	GenesisHash    Hash
	BlockReward    *big.Int
	RewardPoolAddr Address
	FeeFloor       *big.Int
}

// MaxHeaderSizeAt returns the max header size permitted at height. A single
// value today; modeled as a function of height so a future fork can change
// it without touching callers.
func (c *Config) MaxHeaderSizeAt(height Height) uint32 { return c.MaxHeaderSize }

// MaxTxCountAt returns the max transaction count permitted at height.
func (c *Config) MaxTxCountAt(height Height) uint32 { return c.MaxTxCount }

// MaxBlockSizeAt returns the max encoded block size permitted at height.
func (c *Config) MaxBlockSizeAt(height Height) uint32 { return c.MaxBlockSize }

// BodyBatchSize computes the sync body-batch size: the largest count of
// full blocks guaranteed to fit in one wire frame with ~15% overhead
// margin, floor 1.
func (c *Config) BodyBatchSize() int {
	n := int(float64(c.MaxFrameSize) * 0.85 / float64(c.MaxBlockSize))
	if n < 1 {
		return 1
	}
	return n
}

// PipelineDepth returns PIPE = clamp(3 + bodyBatchSize/2, 3, 8).
func (c *Config) PipelineDepth() int {
	depth := 3 + c.BodyBatchSize()/2
	if depth < 3 {
		return 3
	}
	if depth > 8 {
		return 8
	}
	return depth
}

// DefaultMainnetConfig returns baseline parameters sized for the genesis
// defaults shipped in cmd/config; callers normally build a Config from the
// genesis JSON document instead (see genesis.go).
func DefaultMainnetConfig() *Config {
	return &Config{
		NetworkID:    "mainnet",
		ChainID:      1,
		MaxHeaderSize: 1024,
		MaxTxCount:    5000,
		MaxBlockSize:  2 << 20, // 2 MiB
		MaxTxSize:     64 << 10,
		ClockSkew:     2 * time.Minute,
		MaxPowTarget:  new(big.Int).Lsh(big.NewInt(1), 256),
		MaxFrameSize:  32 << 20,
		BlockReward:   big.NewInt(50_00000000),
		FeeFloor:      big.NewInt(1),
		Difficulty: &DifficultyParams{
			AnchorDifficulty:  big.NewInt(1 << 20),
			TargetBlockTimeMs: 600_000,
			HalfLifeMs:        172_800_000, // 48h
			MinDifficulty:     big.NewInt(1),
		},
	}
}
