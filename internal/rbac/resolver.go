package rbac

// PermissionState is the effective decision for a (role, action) pair.
type PermissionState struct {
	Status     Status   `json:"status"`
	LimitValue *float64 `json:"limit_value"`
	Conditions *string  `json:"conditions"`
	// Explicit is false when no row exists and the state is the default deny.
	Explicit bool `json:"explicit"`
}

type pairKey struct {
	roleID   int64
	actionID int64
}

// Index answers Resolve in constant time over a fixed permission set.
type Index struct {
	byPair map[pairKey]Permission
}

// NewIndex builds an index over perms. Should perms contain duplicates for a pair, the last one wins.
func NewIndex(perms []Permission) Index {
	byPair := make(map[pairKey]Permission, len(perms))
	for _, p := range perms {
		byPair[pairKey{p.RoleID, p.ActionID}] = p
	}
	return Index{byPair: byPair}
}

// Lookup returns the stored row for the pair, if any.
func (ix Index) Lookup(roleID, actionID int64) (Permission, bool) {
	p, ok := ix.byPair[pairKey{roleID, actionID}]
	return p, ok
}

// Resolve returns the decision for the pair, falling back to denied when no row exists.
func (ix Index) Resolve(roleID, actionID int64) PermissionState {
	p, ok := ix.Lookup(roleID, actionID)
	if !ok {
		return PermissionState{Status: StatusDenied}
	}
	return stateOf(p)
}

// Resolve scans perms for the pair. Use NewIndex when resolving many pairs against the same set.
func Resolve(perms []Permission, roleID, actionID int64) PermissionState {
	for i := len(perms) - 1; i >= 0; i-- {
		if perms[i].RoleID == roleID && perms[i].ActionID == actionID {
			return stateOf(perms[i])
		}
	}
	return PermissionState{Status: StatusDenied}
}

func stateOf(p Permission) PermissionState {
	st := PermissionState{Status: p.Status, Explicit: true}
	if !st.Status.Valid() {
		st.Status = StatusDenied
	}
	if p.LimitValue != nil {
		v := *p.LimitValue
		st.LimitValue = &v
	}
	if p.Conditions != nil {
		c := *p.Conditions
		st.Conditions = &c
	}
	return st
}
