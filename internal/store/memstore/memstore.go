// Package memstore is an in-memory store driver with the same constraints as the Postgres schema.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/authmatrix/internal/auth"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
	"github.com/odyssey-erp/authmatrix/internal/store"
)

type txKey struct{}

type tables struct {
	roles       map[int64]rbac.Role
	actions     map[int64]rbac.Action
	permissions map[int64]rbac.Permission
	profiles    map[int64]rbac.Profile
	accounts    map[int64]auth.Account
	audit       []shared.AuditLog
	seq         map[store.Table]int64
}

func (t tables) clone() tables {
	return tables{
		roles:       maps.Clone(t.roles),
		actions:     maps.Clone(t.actions),
		permissions: maps.Clone(t.permissions),
		profiles:    maps.Clone(t.profiles),
		accounts:    maps.Clone(t.accounts),
		audit:       slices.Clone(t.audit),
		seq:         maps.Clone(t.seq),
	}
}

// Store keeps every table in memory. A single mutex serialises access; RunInTx holds it for
// the whole callback and restores the previous state when the callback fails.
type Store struct {
	mu  sync.Mutex
	t   tables
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns a store seeded with the system roles.
func New() *Store {
	s := &Store{
		t: tables{
			roles:       map[int64]rbac.Role{},
			actions:     map[int64]rbac.Action{},
			permissions: map[int64]rbac.Permission{},
			profiles:    map[int64]rbac.Profile{},
			accounts:    map[int64]auth.Account{},
			seq:         map[store.Table]int64{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, seed := range []rbac.Role{
		{Name: rbac.RoleNameViewOnly, Description: "Read-only access to the matrix", Color: "#6b7280", IsSystemRole: true},
		{Name: rbac.RoleNameEditView, Description: "Can edit the matrix and catalog", Color: "#2563eb", IsSystemRole: true},
		{Name: rbac.RoleNameAdmin, Description: "Full access including user management", Color: "#dc2626", IsSystemRole: true},
	} {
		if _, err := s.InsertRole(context.Background(), seed); err != nil {
			panic(err)
		}
	}
	return s
}

func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx runs fn atomically. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := s.t.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.t = saved
		return err
	}
	return nil
}

// RunInReadTx runs fn while writers are held off.
func (s *Store) RunInReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) next(table store.Table) int64 {
	s.t.seq[table]++
	return s.t.seq[table]
}

func notFound(table store.Table) error {
	return fmt.Errorf("memstore: %s: %w", table, shared.ErrNotFound)
}

func duplicate(table store.Table, column string) error {
	return fmt.Errorf("memstore: %s: %s: %w", table, column, shared.ErrDuplicate)
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	defer s.lock(ctx)()
	out := slices.Collect(maps.Values(s.t.roles))
	slices.SortFunc(out, func(a, b rbac.Role) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	defer s.lock(ctx)()
	r, ok := s.t.roles[id]
	if !ok {
		return rbac.Role{}, notFound(store.TableRoles)
	}
	return r, nil
}

func (s *Store) roleNameTaken(name string, except int64) bool {
	for _, r := range s.t.roles {
		if r.Name == name && r.ID != except {
			return true
		}
	}
	return false
}

func (s *Store) InsertRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	defer s.lock(ctx)()
	if s.roleNameTaken(role.Name, 0) {
		return rbac.Role{}, duplicate(store.TableRoles, "name")
	}
	if role.Color == "" {
		role.Color = rbac.DefaultRoleColor
	}
	role.ID = s.next(store.TableRoles)
	role.CreatedAt = s.now()
	role.UpdatedAt = role.CreatedAt
	s.t.roles[role.ID] = role
	return role, nil
}

func (s *Store) UpdateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	defer s.lock(ctx)()
	current, ok := s.t.roles[role.ID]
	if !ok {
		return rbac.Role{}, notFound(store.TableRoles)
	}
	if s.roleNameTaken(role.Name, role.ID) {
		return rbac.Role{}, duplicate(store.TableRoles, "name")
	}
	current.Name = role.Name
	current.Description = role.Description
	current.Color = role.Color
	current.UpdatedAt = s.now()
	s.t.roles[role.ID] = current
	return current, nil
}

// DeleteRole removes the role, its permission rows, and clears profile assignments.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	defer s.lock(ctx)()
	if _, ok := s.t.roles[id]; !ok {
		return notFound(store.TableRoles)
	}
	delete(s.t.roles, id)
	maps.DeleteFunc(s.t.permissions, func(_ int64, p rbac.Permission) bool { return p.RoleID == id })
	for pid, p := range s.t.profiles {
		if p.RoleID != nil && *p.RoleID == id {
			p.RoleID = nil
			s.t.profiles[pid] = p
		}
	}
	return nil
}

func (s *Store) ListActions(ctx context.Context, filter store.ActionFilter) ([]rbac.Action, error) {
	defer s.lock(ctx)()
	category := strings.TrimSpace(filter.Category)
	out := make([]rbac.Action, 0, len(s.t.actions))
	for _, a := range s.t.actions {
		if category != "" && a.Category != category {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b rbac.Action) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetAction(ctx context.Context, id int64) (rbac.Action, error) {
	defer s.lock(ctx)()
	a, ok := s.t.actions[id]
	if !ok {
		return rbac.Action{}, notFound(store.TableActions)
	}
	return a, nil
}

func (s *Store) actionNameTaken(name string, except int64) bool {
	for _, a := range s.t.actions {
		if a.Name == name && a.ID != except {
			return true
		}
	}
	return false
}

func (s *Store) InsertAction(ctx context.Context, action rbac.Action) (rbac.Action, error) {
	defer s.lock(ctx)()
	if s.actionNameTaken(action.Name, 0) {
		return rbac.Action{}, duplicate(store.TableActions, "name")
	}
	action.ID = s.next(store.TableActions)
	action.CreatedAt = s.now()
	action.UpdatedAt = action.CreatedAt
	s.t.actions[action.ID] = action
	return action, nil
}

func (s *Store) UpdateAction(ctx context.Context, action rbac.Action) (rbac.Action, error) {
	defer s.lock(ctx)()
	current, ok := s.t.actions[action.ID]
	if !ok {
		return rbac.Action{}, notFound(store.TableActions)
	}
	if s.actionNameTaken(action.Name, action.ID) {
		return rbac.Action{}, duplicate(store.TableActions, "name")
	}
	current.Name = action.Name
	current.Description = action.Description
	current.Category = action.Category
	current.UpdatedAt = s.now()
	s.t.actions[action.ID] = current
	return current, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	defer s.lock(ctx)()
	out := make([]rbac.Permission, 0, len(s.t.permissions))
	for _, p := range s.t.permissions {
		out = append(out, clonePermission(p))
	}
	slices.SortFunc(out, func(a, b rbac.Permission) int {
		if c := cmp.Compare(a.RoleID, b.RoleID); c != 0 {
			return c
		}
		return cmp.Compare(a.ActionID, b.ActionID)
	})
	return out, nil
}

func (s *Store) findPermission(roleID, actionID int64) (rbac.Permission, bool) {
	for _, p := range s.t.permissions {
		if p.RoleID == roleID && p.ActionID == actionID {
			return p, true
		}
	}
	return rbac.Permission{}, false
}

func (s *Store) FindPermission(ctx context.Context, roleID, actionID int64) (rbac.Permission, error) {
	defer s.lock(ctx)()
	p, ok := s.findPermission(roleID, actionID)
	if !ok {
		return rbac.Permission{}, notFound(store.TablePermissions)
	}
	return clonePermission(p), nil
}

func (s *Store) InsertPermission(ctx context.Context, perm rbac.Permission) (rbac.Permission, error) {
	defer s.lock(ctx)()
	if _, ok := s.t.roles[perm.RoleID]; !ok {
		return rbac.Permission{}, notFound(store.TableRoles)
	}
	if _, ok := s.t.actions[perm.ActionID]; !ok {
		return rbac.Permission{}, notFound(store.TableActions)
	}
	if !perm.Status.Valid() {
		return rbac.Permission{}, fmt.Errorf("memstore: permissions: status %q: %w", perm.Status, shared.ErrValidation)
	}
	if _, ok := s.findPermission(perm.RoleID, perm.ActionID); ok {
		return rbac.Permission{}, duplicate(store.TablePermissions, "role_id, action_id")
	}
	perm = clonePermission(perm)
	perm.ID = s.next(store.TablePermissions)
	perm.UpdatedAt = s.now()
	s.t.permissions[perm.ID] = perm
	return clonePermission(perm), nil
}

func (s *Store) UpdatePermission(ctx context.Context, id int64, patch rbac.PermissionPatch) (rbac.Permission, error) {
	defer s.lock(ctx)()
	p, ok := s.t.permissions[id]
	if !ok {
		return rbac.Permission{}, notFound(store.TablePermissions)
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return rbac.Permission{}, fmt.Errorf("memstore: permissions: status %q: %w", *patch.Status, shared.ErrValidation)
		}
		p.Status = *patch.Status
	}
	if patch.LimitValue != nil {
		v := *patch.LimitValue
		p.LimitValue = &v
	}
	if patch.Conditions != nil {
		c := *patch.Conditions
		p.Conditions = &c
	}
	p.UpdatedAt = s.now()
	s.t.permissions[id] = p
	return clonePermission(p), nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]rbac.Profile, error) {
	defer s.lock(ctx)()
	out := make([]rbac.Profile, 0, len(s.t.profiles))
	for _, p := range s.t.profiles {
		out = append(out, cloneProfile(p))
	}
	slices.SortFunc(out, func(a, b rbac.Profile) int {
		if c := strings.Compare(a.FullName, b.FullName); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, id int64) (rbac.Profile, error) {
	defer s.lock(ctx)()
	p, ok := s.t.profiles[id]
	if !ok {
		return rbac.Profile{}, notFound(store.TableProfiles)
	}
	return cloneProfile(p), nil
}

func (s *Store) InsertProfile(ctx context.Context, profile rbac.Profile) (rbac.Profile, error) {
	defer s.lock(ctx)()
	if _, ok := s.t.accounts[profile.ID]; !ok {
		return rbac.Profile{}, notFound(store.TableAccounts)
	}
	if _, ok := s.t.profiles[profile.ID]; ok {
		return rbac.Profile{}, duplicate(store.TableProfiles, "id")
	}
	if profile.RoleID != nil {
		if _, ok := s.t.roles[*profile.RoleID]; !ok {
			return rbac.Profile{}, notFound(store.TableRoles)
		}
	}
	profile = cloneProfile(profile)
	profile.CreatedAt = s.now()
	s.t.profiles[profile.ID] = profile
	return cloneProfile(profile), nil
}

func (s *Store) UpdateProfileRole(ctx context.Context, id int64, roleID *int64) (rbac.Profile, error) {
	defer s.lock(ctx)()
	p, ok := s.t.profiles[id]
	if !ok {
		return rbac.Profile{}, notFound(store.TableProfiles)
	}
	if roleID != nil {
		if _, ok := s.t.roles[*roleID]; !ok {
			return rbac.Profile{}, notFound(store.TableRoles)
		}
		v := *roleID
		p.RoleID = &v
	} else {
		p.RoleID = nil
	}
	s.t.profiles[id] = p
	return cloneProfile(p), nil
}

func (s *Store) CountProfiles(ctx context.Context) (int, error) {
	defer s.lock(ctx)()
	return len(s.t.profiles), nil
}

func (s *Store) InsertAccount(ctx context.Context, account auth.Account) (auth.Account, error) {
	defer s.lock(ctx)()
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	for _, a := range s.t.accounts {
		if a.Email == account.Email {
			return auth.Account{}, duplicate(store.TableAccounts, "email")
		}
	}
	account.ID = s.next(store.TableAccounts)
	account.CreatedAt = s.now()
	s.t.accounts[account.ID] = account
	return account, nil
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (auth.Account, error) {
	defer s.lock(ctx)()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range s.t.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return auth.Account{}, notFound(store.TableAccounts)
}

// DeleteAccount removes the account and its profile.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	defer s.lock(ctx)()
	if _, ok := s.t.accounts[id]; !ok {
		return notFound(store.TableAccounts)
	}
	delete(s.t.accounts, id)
	delete(s.t.profiles, id)
	return nil
}

func (s *Store) InsertAuditLog(ctx context.Context, log shared.AuditLog) error {
	defer s.lock(ctx)()
	if log.At.IsZero() {
		log.At = s.now()
	}
	log.Meta = maps.Clone(log.Meta)
	s.t.audit = append(s.t.audit, log)
	return nil
}

// ListAuditLogs returns entries newest first.
func (s *Store) ListAuditLogs(ctx context.Context, filter store.AuditFilter) ([]shared.AuditLog, error) {
	defer s.lock(ctx)()
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	entity := strings.TrimSpace(filter.Entity)
	action := strings.TrimSpace(filter.Action)
	matched := make([]shared.AuditLog, 0)
	for i := len(s.t.audit) - 1; i >= 0; i-- {
		entry := s.t.audit[i]
		switch {
		case !filter.From.IsZero() && entry.At.Before(filter.From):
		case !filter.To.IsZero() && !entry.At.Before(filter.To):
		case filter.ActorID > 0 && entry.ActorID != filter.ActorID:
		case entity != "" && entry.Entity != entity:
		case action != "" && entry.Action != action:
		default:
			matched = append(matched, entry)
		}
	}
	slices.SortStableFunc(matched, func(a, b shared.AuditLog) int { return b.At.Compare(a.At) })
	offset := max(filter.Offset, 0)
	if offset >= len(matched) {
		return []shared.AuditLog{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func clonePermission(p rbac.Permission) rbac.Permission {
	if p.LimitValue != nil {
		v := *p.LimitValue
		p.LimitValue = &v
	}
	if p.Conditions != nil {
		c := *p.Conditions
		p.Conditions = &c
	}
	return p
}

func cloneProfile(p rbac.Profile) rbac.Profile {
	if p.RoleID != nil {
		v := *p.RoleID
		p.RoleID = &v
	}
	return p
}
