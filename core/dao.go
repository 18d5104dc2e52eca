package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DAO represents a decentralised governance body tracked alongside the
// chain.
type DAO struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Creator Address         `json:"creator"`
	Members map[string]bool `json:"members"`
	Created time.Time       `json:"created"`
}

var (
	ErrDAOExists     = errors.New("dao: already exists")
	ErrDAONotFound   = errors.New("dao: not found")
	ErrMemberExists  = errors.New("dao: member already added")
	ErrMemberMissing = errors.New("dao: member not part of dao")
)

func daoKey(id string) []byte { return []byte(fmt.Sprintf("dao:meta:%s", id)) }

// CreateDAO initializes a new DAO with creator as its sole initial member.
func CreateDAO(name string, creator Address) (*DAO, error) {
	if name == "" {
		return nil, errors.New("dao: name required")
	}
	id := uuid.New().String()
	d := &DAO{
		ID:      id,
		Name:    name,
		Creator: creator,
		Members: map[string]bool{hex.EncodeToString(creator[:]): true},
		Created: time.Now().UTC(),
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	if err := CurrentStore().Set(daoKey(id), data); err != nil {
		return nil, err
	}
	_ = Broadcast("dao:new", data)
	return d, nil
}

// JoinDAO registers member with an existing DAO.
func JoinDAO(id string, member Address) error {
	d, err := loadDAO(id)
	if err != nil {
		return err
	}
	m := hex.EncodeToString(member[:])
	if d.Members[m] {
		return ErrMemberExists
	}
	d.Members[m] = true
	return saveDAO(d, "dao:join")
}

// LeaveDAO removes member from the DAO.
func LeaveDAO(id string, member Address) error {
	d, err := loadDAO(id)
	if err != nil {
		return err
	}
	m := hex.EncodeToString(member[:])
	if !d.Members[m] {
		return ErrMemberMissing
	}
	delete(d.Members, m)
	return saveDAO(d, "dao:leave")
}

// DAOInfo returns metadata for the DAO with the given id.
func DAOInfo(id string) (*DAO, error) { return loadDAO(id) }

// ListDAOs returns every DAO recorded in the state store.
func ListDAOs() ([]DAO, error) {
	it := CurrentStore().Iterator([]byte("dao:meta:"))
	defer it.Close()
	var out []DAO
	for it.Next() {
		var d DAO
		if err := json.Unmarshal(it.Value(), &d); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// IsMember reports whether addr belongs to DAO id.
func IsMember(id string, addr Address) (bool, error) {
	d, err := loadDAO(id)
	if err != nil {
		return false, err
	}
	return d.Members[hex.EncodeToString(addr[:])], nil
}

func loadDAO(id string) (*DAO, error) {
	raw, err := CurrentStore().Get(daoKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDAONotFound
	}
	if err != nil {
		return nil, err
	}
	var d DAO
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func saveDAO(d *DAO, topic string) error {
	updated, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := CurrentStore().Set(daoKey(d.ID), updated); err != nil {
		return err
	}
	_ = Broadcast(topic, updated)
	return nil
}
