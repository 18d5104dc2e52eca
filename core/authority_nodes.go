package core

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	crand "crypto/rand"

	"github.com/sirupsen/logrus"
)

// AuthorityRole classifies an authority node's mandate, each with its own
// admission thresholds and weight in RandomElectorate sampling.
type AuthorityRole uint8

const (
	GovernmentNode AuthorityRole = iota + 1
	CentralBankNode
	RegulationNode
	StandardAuthorityNode
	MilitaryNode
	LargeCommerceNode
)

func (r AuthorityRole) String() string {
	switch r {
	case GovernmentNode:
		return "GovernmentNode"
	case CentralBankNode:
		return "CentralBankNode"
	case RegulationNode:
		return "RegulationNode"
	case StandardAuthorityNode:
		return "StandardAuthorityNode"
	case MilitaryNode:
		return "MilitaryNode"
	case LargeCommerceNode:
		return "LargeCommerceNode"
	default:
		return "Unknown"
	}
}

// admissionRules are the public/authority vote counts a candidate needs
// before RecordVote promotes it to active.
var admissionRules = map[AuthorityRole]struct {
	PublicVotes uint32
	AuthVotes   uint32
}{
	GovernmentNode:        {PublicVotes: 5_000, AuthVotes: 20},
	CentralBankNode:       {PublicVotes: 4_000, AuthVotes: 18},
	RegulationNode:        {PublicVotes: 3_000, AuthVotes: 15},
	StandardAuthorityNode: {PublicVotes: 500, AuthVotes: 10},
	MilitaryNode:          {PublicVotes: 2_000, AuthVotes: 12},
	LargeCommerceNode:     {PublicVotes: 1_000, AuthVotes: 8},
}

// roleWeights biases RandomElectorate sampling frequency by role.
var roleWeights = map[AuthorityRole]int{
	GovernmentNode:        6,
	CentralBankNode:       5,
	RegulationNode:        4,
	StandardAuthorityNode: 3,
	MilitaryNode:          2,
	LargeCommerceNode:     2,
}

const (
	authorityPenaltyThreshold uint32  = 100
	authoritySlashFraction    float64 = 0.25
)

// AuthorityNode is a registered candidate or active authority.
type AuthorityNode struct {
	Addr        Address       `json:"addr"`
	Wallet      Address       `json:"wallet"`
	Role        AuthorityRole `json:"role"`
	Active      bool          `json:"active"`
	PublicVotes uint32        `json:"pv"`
	AuthVotes   uint32        `json:"av"`
	CreatedAt   int64         `json:"since"`
}

// AuthoritySet keeps authority-node registration and admission voting over
// the shared state store.
type AuthoritySet struct {
	logger *logrus.Logger
}

// NewAuthoritySet constructs a set logging through lg.
func NewAuthoritySet(lg *logrus.Logger) *AuthoritySet { return &AuthoritySet{logger: lg} }

func nodeKey(addr Address) []byte { return []byte("authority:node:" + addr.Hex()) }

func authorityVoteKey(id Hash, voter Address) []byte {
	return append(append([]byte("authority:vote:"), id[:]...), voter.Bytes()...)
}

func hashFromAddress(addr Address) Hash {
	var h Hash
	sum := sha256.Sum256(addr[:])
	copy(h[:], sum[:])
	return h
}

func mustJSON(v any) []byte { b, _ := json.Marshal(v); return b }

func loadAuthorityNode(addr Address) (AuthorityNode, bool, error) {
	var n AuthorityNode
	raw, err := CurrentStore().Get(nodeKey(addr))
	if errors.Is(err, ErrNotFound) {
		return n, false, nil
	}
	if err != nil {
		return n, false, err
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return n, false, err
	}
	return n, true, nil
}

// RegisterCandidateWithWallet submits addr as a candidate for role, with a
// payment wallet that may differ from its network identity.
func (as *AuthoritySet) RegisterCandidateWithWallet(addr Address, role AuthorityRole, wallet Address) error {
	if role < GovernmentNode || role > LargeCommerceNode {
		return errors.New("authority: invalid role")
	}
	if wallet.IsZero() {
		return errors.New("authority: wallet required")
	}
	if _, exists, err := loadAuthorityNode(addr); err != nil {
		return err
	} else if exists {
		return errors.New("authority: already registered")
	}
	n := AuthorityNode{Addr: addr, Wallet: wallet, Role: role, CreatedAt: time.Now().Unix()}
	if err := CurrentStore().Set(nodeKey(addr), mustJSON(n)); err != nil {
		return err
	}
	if as.logger != nil {
		as.logger.Printf("authority candidate %s registered for role %s", addr.Short(), role)
	}
	return nil
}

// RegisterCandidate registers addr for role using addr as its own wallet.
func (as *AuthoritySet) RegisterCandidate(addr Address, role AuthorityRole) error {
	return as.RegisterCandidateWithWallet(addr, role, addr)
}

// RecordVote registers a vote for candidate from voter, classified as an
// authority vote if voter is itself a registered node, else a public vote.
// Once both thresholds for the candidate's role are met it is activated.
func (as *AuthoritySet) RecordVote(voter, candidate Address) error {
	n, exists, err := loadAuthorityNode(candidate)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("authority: candidate not found")
	}

	vk := authorityVoteKey(hashFromAddress(candidate), voter)
	if _, err := CurrentStore().Get(vk); err == nil {
		return errors.New("authority: duplicate vote")
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := CurrentStore().Set(vk, []byte{0x01}); err != nil {
		return err
	}

	if _, isAuthority, err := loadAuthorityNode(voter); err != nil {
		return err
	} else if isAuthority {
		n.AuthVotes++
	} else {
		n.PublicVotes++
	}

	rule := admissionRules[n.Role]
	if !n.Active && n.PublicVotes >= rule.PublicVotes && n.AuthVotes >= rule.AuthVotes {
		n.Active = true
		if as.logger != nil {
			as.logger.Printf("node %s promoted to ACTIVE %s", candidate.Short(), n.Role)
		}
	}
	return CurrentStore().Set(nodeKey(candidate), mustJSON(n))
}

// RandomElectorate samples up to size distinct active authority addresses,
// weighted by role, using cryptographic randomness.
func (as *AuthoritySet) RandomElectorate(size int) ([]Address, error) {
	if size <= 0 {
		return nil, errors.New("authority: size must be >0")
	}
	it := CurrentStore().Iterator([]byte("authority:node:"))
	defer it.Close()
	var pool []Address
	for it.Next() {
		var n AuthorityNode
		if err := json.Unmarshal(it.Value(), &n); err != nil {
			return nil, err
		}
		if !n.Active {
			continue
		}
		w := roleWeights[n.Role]
		for i := 0; i < w; i++ {
			pool = append(pool, n.Addr)
		}
	}
	if len(pool) == 0 {
		return nil, errors.New("authority: no active authority nodes")
	}
	if err := shuffleAddresses(pool); err != nil {
		return nil, err
	}
	sel := uniqueAddresses(pool)
	if len(sel) < size {
		size = len(sel)
	}
	return sel[:size], nil
}

// GetAuthority returns the registered authority node for addr.
func (as *AuthoritySet) GetAuthority(addr Address) (AuthorityNode, error) {
	n, exists, err := loadAuthorityNode(addr)
	if err != nil {
		return AuthorityNode{}, err
	}
	if !exists {
		return AuthorityNode{}, errors.New("authority: not found")
	}
	return n, nil
}

// ListAuthorities returns every registered node, or only active ones.
func (as *AuthoritySet) ListAuthorities(activeOnly bool) ([]AuthorityNode, error) {
	it := CurrentStore().Iterator([]byte("authority:node:"))
	defer it.Close()
	var out []AuthorityNode
	for it.Next() {
		var n AuthorityNode
		if err := json.Unmarshal(it.Value(), &n); err != nil {
			return nil, err
		}
		if activeOnly && !n.Active {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// ApplyPenalty records misbehaviour points for addr, slashing and
// deactivating it once the accumulated penalty crosses the threshold.
func (as *AuthoritySet) ApplyPenalty(addr Address, points uint32, reason string, spm *StakePenaltyManager) error {
	if spm == nil {
		return errors.New("authority: penalty manager required")
	}
	if err := spm.Penalize(addr, points, reason); err != nil {
		return err
	}
	if spm.PenaltyOf(addr) < authorityPenaltyThreshold {
		return nil
	}
	if _, err := spm.SlashStake(addr, authoritySlashFraction); err != nil {
		return err
	}
	if err := spm.ResetPenalty(addr); err != nil {
		return err
	}
	n, exists, err := loadAuthorityNode(addr)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("authority: not found")
	}
	n.Active = false
	if err := CurrentStore().Set(nodeKey(addr), mustJSON(n)); err != nil {
		return err
	}
	if as.logger != nil {
		as.logger.Printf("authority node %s slashed and deactivated", addr.Short())
	}
	return nil
}

// Deregister removes addr's registration and every vote cast for it.
func (as *AuthoritySet) Deregister(addr Address) error {
	if _, exists, err := loadAuthorityNode(addr); err != nil {
		return err
	} else if !exists {
		return errors.New("authority: not found")
	}
	if err := CurrentStore().Delete(nodeKey(addr)); err != nil {
		return err
	}
	h := hashFromAddress(addr)
	prefix := append([]byte("authority:vote:"), h[:]...)
	it := CurrentStore().Iterator(prefix)
	defer it.Close()
	for it.Next() {
		if err := CurrentStore().Delete(it.Key()); err != nil {
			return err
		}
	}
	if as.logger != nil {
		as.logger.Printf("authority node %s deregistered", addr.Short())
	}
	return nil
}

// IsAuthority reports whether addr is a registered and active authority.
func (as *AuthoritySet) IsAuthority(addr Address) bool {
	n, exists, err := loadAuthorityNode(addr)
	if err != nil || !exists {
		return false
	}
	return n.Active
}

func uniqueAddresses(in []Address) []Address {
	seen := make(map[Address]struct{}, len(in))
	out := make([]Address, 0, len(in))
	for _, a := range in {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// shuffleAddresses performs an in-place Fisher-Yates shuffle driven by
// crypto/rand, avoiding math/rand in anything that influences electorate
// selection.
func shuffleAddresses(a []Address) error {
	for i := len(a) - 1; i > 0; i-- {
		j, err := cryptoRandInt(i + 1)
		if err != nil {
			return err
		}
		a[i], a[j] = a[j], a[i]
	}
	return nil
}

func cryptoRandInt(n int) (int, error) {
	max := big.NewInt(int64(n))
	v, err := crand.Int(crand.Reader, max)
	if err != nil {
		return 0, fmt.Errorf("authority: random index: %w", err)
	}
	return int(v.Int64()), nil
}
