// Package matrix projects roles, actions and permissions into the authorization grid and its exports.
package matrix

import (
	"time"

	"github.com/odyssey-erp/authmatrix/internal/rbac"
)

// Snapshot is an immutable view of the three tables taken in one read.
type Snapshot struct {
	Roles       []rbac.Role       `json:"roles"`
	Actions     []rbac.Action     `json:"actions"`
	Permissions []rbac.Permission `json:"permissions"`
	LoadedAt    time.Time         `json:"loaded_at"`

	index rbac.Index
}

// NewSnapshot builds a snapshot and its resolver index. The slices are owned by the snapshot.
func NewSnapshot(roles []rbac.Role, actions []rbac.Action, perms []rbac.Permission, loadedAt time.Time) *Snapshot {
	if roles == nil {
		roles = []rbac.Role{}
	}
	if actions == nil {
		actions = []rbac.Action{}
	}
	if perms == nil {
		perms = []rbac.Permission{}
	}
	return &Snapshot{
		Roles:       roles,
		Actions:     actions,
		Permissions: perms,
		LoadedAt:    loadedAt,
		index:       rbac.NewIndex(perms),
	}
}

// Resolve returns the decision for a pair, denied when no row exists.
func (s *Snapshot) Resolve(roleID, actionID int64) rbac.PermissionState {
	return s.index.Resolve(roleID, actionID)
}

// Role looks up a role by id.
func (s *Snapshot) Role(id int64) (rbac.Role, bool) {
	for _, r := range s.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return rbac.Role{}, false
}

// Action looks up an action by id.
func (s *Snapshot) Action(id int64) (rbac.Action, bool) {
	for _, a := range s.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return rbac.Action{}, false
}
