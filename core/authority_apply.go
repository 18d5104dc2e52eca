package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AuthAppStatus is the lifecycle state of an authority-node application.
type AuthAppStatus uint8

const (
	AuthPending AuthAppStatus = iota + 1
	AuthApproved
	AuthRejected
)

// AuthApplication is a pending or resolved application for authority-node
// status, decided by a sampled electorate rather than the open-ended
// RecordVote path used for direct candidacy.
type AuthApplication struct {
	ID           Hash          `json:"id"`
	Candidate    Address       `json:"candidate"`
	Role         AuthorityRole `json:"role"`
	Description  string        `json:"description"`
	Electorate   []Address     `json:"electorate"`
	VotesFor     uint32        `json:"votes_for"`
	VotesAgainst uint32        `json:"votes_against"`
	Deadline     int64         `json:"deadline_unix"`
	Status       AuthAppStatus `json:"status"`
	ExecutedAt   int64         `json:"executed_unix,omitempty"`
}

func (a *AuthApplication) marshal() []byte { b, _ := json.Marshal(a); return b }

// AuthVoteRule sets quorum and majority thresholds for one role.
type AuthVoteRule struct {
	Quorum   int
	Majority int // percentage, 1-100
}

// AuthorityApplierConfig controls electorate size, voting window, and
// per-role quorum/majority rules.
type AuthorityApplierConfig struct {
	ElectorateSize int
	VotePeriod     time.Duration
	Rules          map[AuthorityRole]AuthVoteRule
}

// AuthorityApplier runs electorate-voted applications for authority-node
// admission, handing approved candidates to an AuthoritySet.
type AuthorityApplier struct {
	mu     sync.Mutex
	logger *logrus.Logger
	auth   *AuthoritySet
	cfg    AuthorityApplierConfig
	nextID uint64
}

// NewAuthorityApplier constructs an applier against auth, using cfg or
// sane defaults (5-member electorate, 72h voting window) when cfg is nil.
func NewAuthorityApplier(lg *logrus.Logger, auth *AuthoritySet, cfg *AuthorityApplierConfig) *AuthorityApplier {
	ap := &AuthorityApplier{logger: lg, auth: auth}
	if cfg != nil {
		ap.cfg = *cfg
	} else {
		ap.cfg.ElectorateSize = 5
		ap.cfg.VotePeriod = 72 * time.Hour
	}
	if ap.cfg.Rules == nil {
		ap.cfg.Rules = make(map[AuthorityRole]AuthVoteRule)
	}
	return ap
}

func appKey(id Hash) []byte { return append([]byte("authapply:app:"), id[:]...) }

func appVoteKey(id Hash, voter Address) []byte {
	return append(append([]byte("authapply:vote:"), id[:]...), voter.Bytes()...)
}

func containsAddr(list []Address, addr Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func loadApplication(id Hash) (AuthApplication, bool, error) {
	var app AuthApplication
	raw, err := CurrentStore().Get(appKey(id))
	if errors.Is(err, ErrNotFound) {
		return app, false, nil
	}
	if err != nil {
		return app, false, err
	}
	if err := json.Unmarshal(raw, &app); err != nil {
		return app, false, err
	}
	return app, true, nil
}

// SubmitApplication opens a new application for candidate, sampling an
// electorate from the currently active authority set.
func (ap *AuthorityApplier) SubmitApplication(candidate Address, role AuthorityRole, desc string) (Hash, error) {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	if ap.auth.IsAuthority(candidate) {
		return Hash{}, errors.New("authority: candidate already active")
	}
	elect, err := ap.auth.RandomElectorate(ap.cfg.ElectorateSize)
	if err != nil {
		return Hash{}, err
	}
	ap.nextID++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, ap.nextID)
	h := sha256.Sum256(append(candidate.Bytes(), buf...))
	var id Hash
	copy(id[:], h[:])

	app := &AuthApplication{
		ID:          id,
		Candidate:   candidate,
		Role:        role,
		Description: desc,
		Electorate:  elect,
		Deadline:    time.Now().Add(ap.cfg.VotePeriod).Unix(),
		Status:      AuthPending,
	}
	if err := CurrentStore().Set(appKey(id), app.marshal()); err != nil {
		return Hash{}, err
	}
	if ap.logger != nil {
		ap.logger.Printf("authority application %s submitted", id.Hex())
	}
	return id, nil
}

// VoteApplication casts voter's ballot on application id; voter must be a
// member of the sampled electorate and may vote only once.
func (ap *AuthorityApplier) VoteApplication(voter Address, id Hash, approve bool) error {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	app, exists, err := loadApplication(id)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("authority: application not found")
	}
	if app.Status != AuthPending {
		return errors.New("authority: application not pending")
	}
	if !containsAddr(app.Electorate, voter) {
		return errors.New("authority: voter not in electorate")
	}
	vk := appVoteKey(id, voter)
	if _, err := CurrentStore().Get(vk); err == nil {
		return errors.New("authority: duplicate vote")
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := CurrentStore().Set(vk, []byte{0x01}); err != nil {
		return err
	}
	if approve {
		app.VotesFor++
	} else {
		app.VotesAgainst++
	}
	return CurrentStore().Set(appKey(id), app.marshal())
}

// FinalizeApplication resolves application id once its deadline has passed,
// registering the candidate with auth when quorum and majority are met.
func (ap *AuthorityApplier) FinalizeApplication(id Hash) error {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	app, exists, err := loadApplication(id)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("authority: application not found")
	}
	if app.Status != AuthPending {
		return errors.New("authority: already finalised")
	}
	if time.Now().Unix() < app.Deadline {
		return errors.New("authority: voting period not ended")
	}
	rule := ap.cfg.Rules[app.Role]
	if rule.Quorum == 0 {
		rule.Quorum = len(app.Electorate)
		rule.Majority = 51
	}
	total := int(app.VotesFor + app.VotesAgainst)
	if total >= rule.Quorum && rule.Quorum > 0 && int(app.VotesFor)*100/total >= rule.Majority {
		if err := ap.auth.RegisterCandidate(app.Candidate, app.Role); err != nil {
			return err
		}
		app.Status = AuthApproved
		app.ExecutedAt = time.Now().Unix()
		if ap.logger != nil {
			ap.logger.Printf("authority application %s approved", id.Hex())
		}
	} else {
		app.Status = AuthRejected
		if ap.logger != nil {
			ap.logger.Printf("authority application %s rejected", id.Hex())
		}
	}
	return CurrentStore().Set(appKey(id), app.marshal())
}

// Tick finalises every pending application whose deadline has passed.
func (ap *AuthorityApplier) Tick(now time.Time) {
	it := CurrentStore().Iterator([]byte("authapply:app:"))
	defer it.Close()
	var expired []Hash
	for it.Next() {
		var app AuthApplication
		if err := json.Unmarshal(it.Value(), &app); err != nil {
			continue
		}
		if app.Status == AuthPending && now.Unix() >= app.Deadline {
			expired = append(expired, app.ID)
		}
	}
	for _, id := range expired {
		_ = ap.FinalizeApplication(id)
	}
}

// GetApplication returns the stored application for id.
func (ap *AuthorityApplier) GetApplication(id Hash) (AuthApplication, bool, error) {
	return loadApplication(id)
}

// ListApplications returns applications filtered by status, or all when
// status is zero.
func (ap *AuthorityApplier) ListApplications(status AuthAppStatus) ([]AuthApplication, error) {
	it := CurrentStore().Iterator([]byte("authapply:app:"))
	defer it.Close()
	var out []AuthApplication
	for it.Next() {
		var app AuthApplication
		if err := json.Unmarshal(it.Value(), &app); err != nil {
			return nil, err
		}
		if status == 0 || app.Status == status {
			out = append(out, app)
		}
	}
	return out, nil
}
