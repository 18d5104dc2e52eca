package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"
)

// GenesisAuthority seeds one authority node directly into the ACTIVE state,
// bypassing RecordVote's threshold voting for the handful of operators that
// stand the network up.
type GenesisAuthority struct {
	Address string        `json:"address"`
	Wallet  string        `json:"wallet"`
	Role    AuthorityRole `json:"role"`
}

// GenesisDoc is the on-disk JSON genesis document consumed once at startup:
// size limits, reward schedule, difficulty retargeting parameters, native
// token metadata, and the initial authority set.
type GenesisDoc struct {
	NetworkID     string `json:"network_id"`
	ChainID       int    `json:"chain_id"`
	TimestampMs   int64  `json:"timestamp_ms"`
	MaxHeaderSize uint32 `json:"max_header_size"`
	MaxTxCount    uint32 `json:"max_tx_count"`
	MaxBlockSize  uint32 `json:"max_block_size"`
	MaxTxSize     uint32 `json:"max_tx_size"`
	MaxFrameSize  uint32 `json:"max_frame_size"`
	ClockSkewMs   int64  `json:"clock_skew_ms"`

	Difficulty struct {
		Genesis           string `json:"genesis"`
		TargetBlockTimeMs int64  `json:"target_block_time_ms"`
		HalfLifeMs        int64  `json:"half_life_ms"`
		MinDifficulty     string `json:"min_difficulty"`
	} `json:"difficulty"`

	BlockReward     string `json:"block_reward"`
	RewardPoolAddr  string `json:"reward_pool_address"`
	FeeFloor        string `json:"fee_floor"`

	NativeToken struct {
		Name          string `json:"name"`
		Symbol        string `json:"symbol"`
		Decimals      uint8  `json:"decimals"`
		Treasury      string `json:"treasury"`
		InitialSupply uint64 `json:"initial_supply"`
	} `json:"native_token"`

	Authorities []GenesisAuthority `json:"authorities"`
}

func parseAddress(s string) (Address, error) {
	var a Address
	if s == "" {
		return a, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("genesis: invalid address %q: %w", s, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("genesis: address %q has wrong length", s)
	}
	copy(a[:], b)
	return a, nil
}

func parseBigInt(s string, fallback *big.Int) (*big.Int, error) {
	if s == "" {
		return fallback, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("genesis: invalid integer %q", s)
	}
	return v, nil
}

// LoadGenesisFile reads and parses the genesis document at path.
func LoadGenesisFile(path string) (*GenesisDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	var doc GenesisDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	return &doc, nil
}

// BuildConfig translates a parsed genesis document into the chain engine's
// runtime Config.
func (doc *GenesisDoc) BuildConfig() (*Config, error) {
	minDiff, err := parseBigInt(doc.Difficulty.MinDifficulty, big.NewInt(1))
	if err != nil {
		return nil, err
	}
	anchorDiff, err := parseBigInt(doc.Difficulty.Genesis, big.NewInt(1<<20))
	if err != nil {
		return nil, err
	}
	blockReward, err := parseBigInt(doc.BlockReward, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	feeFloor, err := parseBigInt(doc.FeeFloor, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	rewardPool, err := parseAddress(doc.RewardPoolAddr)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		NetworkID:      doc.NetworkID,
		ChainID:        doc.ChainID,
		MaxHeaderSize:  doc.MaxHeaderSize,
		MaxTxCount:     doc.MaxTxCount,
		MaxBlockSize:   doc.MaxBlockSize,
		MaxTxSize:      doc.MaxTxSize,
		MaxFrameSize:   doc.MaxFrameSize,
		ClockSkew:      time.Duration(doc.ClockSkewMs) * time.Millisecond,
		MaxPowTarget:   new(big.Int).Lsh(big.NewInt(1), 256),
		BlockReward:    blockReward,
		FeeFloor:       feeFloor,
		RewardPoolAddr: rewardPool,
		Difficulty: &DifficultyParams{
			AnchorHeight:      0,
			AnchorDifficulty:  anchorDiff,
			AnchorTimestampMs: doc.TimestampMs,
			TargetBlockTimeMs: doc.Difficulty.TargetBlockTimeMs,
			HalfLifeMs:        doc.Difficulty.HalfLifeMs,
			MinDifficulty:     minDiff,
		},
	}
	return cfg, nil
}

// GenesisBlock constructs the canonical genesis block described by doc.
func (doc *GenesisDoc) GenesisBlock() (*Block, error) {
	anchorDiff, err := parseBigInt(doc.Difficulty.Genesis, big.NewInt(1<<20))
	if err != nil {
		return nil, err
	}
	header := &BlockHeader{
		Version:      1,
		HeightValue:  0,
		PreviousHash: Hash{},
		TxRootHash:   MerkleRoot(nil),
		TimestampMs:  doc.TimestampMs,
		Difficulty:   anchorDiff,
		Coinbase:     AddressZero,
	}
	return &Block{Header: header, Txs: nil}, nil
}

// Bootstrap applies doc to store (inserting the genesis block if the store
// is empty) and initializes the native coin; it returns the resulting
// runtime Config. Safe to call once per process at startup.
func (doc *GenesisDoc) Bootstrap(store *BlockStore) (*Config, error) {
	cfg, err := doc.BuildConfig()
	if err != nil {
		return nil, err
	}
	block, err := doc.GenesisBlock()
	if err != nil {
		return nil, err
	}
	cfg.GenesisHash = block.Hash()

	existing, err := store.GetHeader(cfg.GenesisHash)
	if err != nil {
		return nil, fmt.Errorf("genesis: look up genesis block: %w", err)
	}
	if existing == nil {
		sb := NewStoredBlock(block, block.Header.Difficulty, time.UnixMilli(doc.TimestampMs), AddressZero, SourceGenesis)
		if err := store.WriteBatch(func(ops *BatchOps) error {
			if err := ops.SaveBlock(sb); err != nil {
				return err
			}
			return ops.ConnectTip(sb)
		}); err != nil {
			return nil, fmt.Errorf("genesis: persist genesis block: %w", err)
		}
	}

	treasury, err := parseAddress(doc.NativeToken.Treasury)
	if err != nil {
		return nil, err
	}
	if err := InitNativeToken(doc.NativeToken.Name, doc.NativeToken.Symbol, doc.NativeToken.Decimals, treasury, doc.NativeToken.InitialSupply); err != nil {
		return nil, err
	}

	authSet := NewAuthoritySet(nil)
	for _, ga := range doc.Authorities {
		addr, err := parseAddress(ga.Address)
		if err != nil {
			return nil, err
		}
		wallet, err := parseAddress(ga.Wallet)
		if err != nil {
			return nil, err
		}
		if wallet.IsZero() {
			wallet = addr
		}
		_, registered, err := loadAuthorityNode(addr)
		if err != nil {
			return nil, err
		}
		if !registered {
			if err := authSet.RegisterCandidateWithWallet(addr, ga.Role, wallet); err != nil {
				return nil, fmt.Errorf("genesis: register authority %s: %w", ga.Address, err)
			}
		}
		n, err := authSet.GetAuthority(addr)
		if err != nil {
			return nil, err
		}
		n.Active = true
		if err := CurrentStore().Set(nodeKey(addr), mustJSON(n)); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
