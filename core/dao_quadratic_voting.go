package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// QuadraticVoteRecord stores a single quadratic vote, weighted by the
// square root of tokens committed.
type QuadraticVoteRecord struct {
	ProposalID string    `json:"proposal_id"`
	Voter      Address   `json:"voter"`
	Weight     uint64    `json:"weight"`
	Approve    bool      `json:"approve"`
	Timestamp  time.Time `json:"timestamp"`
}

var qvMu sync.Mutex

// QuadraticWeight converts a token amount into quadratic voting power.
func QuadraticWeight(tokens uint64) uint64 {
	return uint64(math.Sqrt(float64(tokens)))
}

func quadraticVoteKey(proposalID string, voter Address) []byte {
	return []byte(fmt.Sprintf("qvote:%s:%s", proposalID, hex.EncodeToString(voter[:])))
}

// SubmitQuadraticVote records a vote weighted by the square root of the
// voter's committed native-coin balance.
func SubmitQuadraticVote(proposalID string, voter Address, tokens uint64, approve bool) error {
	if NativeBalance(voter) < tokens {
		return fmt.Errorf("dao: insufficient native balance to commit %d tokens", tokens)
	}
	rec := QuadraticVoteRecord{
		ProposalID: proposalID,
		Voter:      voter,
		Weight:     QuadraticWeight(tokens),
		Approve:    approve,
		Timestamp:  time.Now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	qvMu.Lock()
	defer qvMu.Unlock()
	return CurrentStore().Set(quadraticVoteKey(proposalID, voter), raw)
}

// QuadraticResults tallies the quadratic votes recorded for a proposal.
func QuadraticResults(proposalID string) (forWeight, againstWeight uint64, err error) {
	prefix := []byte("qvote:" + proposalID + ":")
	it := CurrentStore().Iterator(prefix)
	defer it.Close()
	for it.Next() {
		var rec QuadraticVoteRecord
		if err = json.Unmarshal(it.Value(), &rec); err != nil {
			return
		}
		if rec.Approve {
			forWeight += rec.Weight
		} else {
			againstWeight += rec.Weight
		}
	}
	return forWeight, againstWeight, nil
}
