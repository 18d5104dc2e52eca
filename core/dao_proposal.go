package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DAOProposal is an on-chain governance proposal within a DAO.
type DAOProposal struct {
	ID          string    `json:"id"`
	DAOID       string    `json:"dao_id"`
	Creator     Address   `json:"creator"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
	Executed    bool      `json:"executed"`
}

var (
	ErrInvalidState = errors.New("dao: proposal already executed")
	ErrNotReady     = errors.New("dao: voting window not closed")
)

func proposalKey(id string) []byte { return []byte(fmt.Sprintf("dao:proposal:%s", id)) }

// CreateDAOProposal opens a new proposal under daoID; creator must already
// be a member.
func CreateDAOProposal(daoID string, creator Address, desc string, dur time.Duration) (*DAOProposal, error) {
	if daoID == "" {
		return nil, fmt.Errorf("dao: dao id required")
	}
	d, err := DAOInfo(daoID)
	if err != nil {
		return nil, err
	}
	if !d.Members[hex.EncodeToString(creator[:])] {
		return nil, ErrMemberMissing
	}
	p := &DAOProposal{
		ID:          uuid.New().String(),
		DAOID:       daoID,
		Creator:     creator,
		Description: desc,
		Deadline:    time.Now().UTC().Add(dur),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := CurrentStore().Set(proposalKey(p.ID), raw); err != nil {
		return nil, err
	}
	_ = Broadcast("dao:proposal:new", raw)
	return p, nil
}

// VoteDAOProposal casts a quadratic vote; voter must be a DAO member.
func VoteDAOProposal(id string, voter Address, tokens uint64, approve bool) error {
	p, err := loadProposal(id)
	if err != nil {
		return err
	}
	d, err := DAOInfo(p.DAOID)
	if err != nil {
		return err
	}
	if !d.Members[hex.EncodeToString(voter[:])] {
		return ErrMemberMissing
	}
	return SubmitQuadraticVote(id, voter, tokens, approve)
}

// TallyDAOProposal returns the quadratic vote weights for and against.
func TallyDAOProposal(id string) (uint64, uint64, error) {
	return QuadraticResults(id)
}

// ExecuteDAOProposal finalizes a proposal once its deadline has passed,
// broadcasting the outcome.
func ExecuteDAOProposal(id string) error {
	p, err := loadProposal(id)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrInvalidState
	}
	if time.Now().UTC().Before(p.Deadline) {
		return ErrNotReady
	}
	forW, againstW, err := QuadraticResults(id)
	if err != nil {
		return err
	}
	p.Executed = true
	updated, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := CurrentStore().Set(proposalKey(p.ID), updated); err != nil {
		return err
	}
	if forW > againstW {
		_ = Broadcast("dao:proposal:passed", updated)
	} else {
		_ = Broadcast("dao:proposal:failed", updated)
	}
	return nil
}

func loadProposal(id string) (*DAOProposal, error) {
	raw, err := CurrentStore().Get(proposalKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p DAOProposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
