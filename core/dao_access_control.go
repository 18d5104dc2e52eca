package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DAORole is a role-weighted permission level within governance access
// control, assigned and read through DAOAccessControl.
type DAORole uint8

const (
	DAORoleMember DAORole = iota + 1
	DAORoleAdmin
)

// DAOMember records a role-control entry for an address, independent of
// (but usually paired with) plain DAO.Members set membership.
type DAOMember struct {
	Addr    Address   `json:"addr"`
	Role    DAORole   `json:"role"`
	AddedAt time.Time `json:"added_at"`
}

var ErrMemberNotFound = errors.New("dao: member not found in access control")

// DAOAccessControl manages role assignment over the shared state store.
type DAOAccessControl struct {
	mu sync.RWMutex
}

// NewDAOAccessControl returns an access controller backed by CurrentStore.
func NewDAOAccessControl() *DAOAccessControl { return &DAOAccessControl{} }

func accessMemberKey(addr Address) []byte { return []byte(fmt.Sprintf("dao:access:%x", addr[:])) }

// AddMember assigns role to addr.
func (d *DAOAccessControl) AddMember(addr Address, role DAORole) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := CurrentStore().Get(accessMemberKey(addr)); err == nil {
		return ErrMemberExists
	}
	m := DAOMember{Addr: addr, Role: role, AddedAt: time.Now().UTC()}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return CurrentStore().Set(accessMemberKey(addr), raw)
}

// RemoveMember deletes addr's access-control entry.
func (d *DAOAccessControl) RemoveMember(addr Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := CurrentStore().Get(accessMemberKey(addr)); errors.Is(err, ErrNotFound) {
		return ErrMemberNotFound
	}
	return CurrentStore().Delete(accessMemberKey(addr))
}

// RoleOf returns addr's assigned role.
func (d *DAOAccessControl) RoleOf(addr Address) (DAORole, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	raw, err := CurrentStore().Get(accessMemberKey(addr))
	if errors.Is(err, ErrNotFound) {
		return 0, ErrMemberNotFound
	}
	if err != nil {
		return 0, err
	}
	var m DAOMember
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, err
	}
	return m.Role, nil
}

// IsMember reports whether addr has any access-control entry.
func (d *DAOAccessControl) IsMember(addr Address) bool {
	_, err := d.RoleOf(addr)
	return err == nil
}

// ListMembers returns the access-control entries holding role; role==0
// returns all entries.
func (d *DAOAccessControl) ListMembers(role DAORole) ([]DAOMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	it := CurrentStore().Iterator([]byte("dao:access:"))
	defer it.Close()
	var out []DAOMember
	for it.Next() {
		var m DAOMember
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			return nil, err
		}
		if role != 0 && m.Role != role {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
