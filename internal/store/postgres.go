package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/authmatrix/internal/auth"
	"github.com/odyssey-erp/authmatrix/internal/platform/db"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// dbtx is satisfied by both the pool and an open transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres constructs the Postgres driver.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// RunInTx runs fn in a write transaction (db.WithTx). Nested calls join the outer transaction.
func (s *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// RunInReadTx runs fn in a read-only transaction so several reads share one snapshot.
func (s *Postgres) RunInReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *Postgres) conn(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// translate maps driver errors onto the shared sentinels.
func translate(table Table, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("store: %s: %w", table, shared.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("store: %s: %s: %w", table, pgErr.ConstraintName, shared.ErrDuplicate)
		case pgForeignKeyViolation:
			return fmt.Errorf("store: %s: %s: %w", table, pgErr.ConstraintName, shared.ErrNotFound)
		}
	}
	return fmt.Errorf("store: %s: %w", table, err)
}

const roleColumns = `id, name, description, color, is_system_role, created_at, updated_at`

func scanRole(row pgx.Row) (rbac.Role, error) {
	var r rbac.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Color, &r.IsSystemRole, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListRoles returns roles ordered by name.
func (s *Postgres) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name, id`)
	if err != nil {
		return nil, translate(TableRoles, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Role, error) {
		return scanRole(row)
	})
	return out, translate(TableRoles, err)
}

func (s *Postgres) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	r, err := scanRole(s.conn(ctx).QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	return r, translate(TableRoles, err)
}

func (s *Postgres) InsertRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	r, err := scanRole(s.conn(ctx).QueryRow(ctx, `
INSERT INTO roles (name, description, color, is_system_role)
VALUES ($1, $2, $3, $4)
RETURNING `+roleColumns, role.Name, role.Description, role.Color, role.IsSystemRole))
	return r, translate(TableRoles, err)
}

func (s *Postgres) UpdateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	r, err := scanRole(s.conn(ctx).QueryRow(ctx, `
UPDATE roles SET name = $2, description = $3, color = $4, updated_at = NOW()
WHERE id = $1
RETURNING `+roleColumns, role.ID, role.Name, role.Description, role.Color))
	return r, translate(TableRoles, err)
}

func (s *Postgres) DeleteRole(ctx context.Context, id int64) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return translate(TableRoles, err)
	}
	if tag.RowsAffected() == 0 {
		return translate(TableRoles, pgx.ErrNoRows)
	}
	return nil
}

const actionColumns = `id, name, description, category, created_at, updated_at`

func scanAction(row pgx.Row) (rbac.Action, error) {
	var a rbac.Action
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Category, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// ListActions returns the catalog ordered by category then name.
func (s *Postgres) ListActions(ctx context.Context, filter ActionFilter) ([]rbac.Action, error) {
	rows, err := s.conn(ctx).Query(ctx, `
SELECT `+actionColumns+` FROM actions
WHERE ($1::text IS NULL OR category = $1)
ORDER BY category, name, id`, optionalText(filter.Category))
	if err != nil {
		return nil, translate(TableActions, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Action, error) {
		return scanAction(row)
	})
	return out, translate(TableActions, err)
}

func (s *Postgres) GetAction(ctx context.Context, id int64) (rbac.Action, error) {
	a, err := scanAction(s.conn(ctx).QueryRow(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = $1`, id))
	return a, translate(TableActions, err)
}

func (s *Postgres) InsertAction(ctx context.Context, action rbac.Action) (rbac.Action, error) {
	a, err := scanAction(s.conn(ctx).QueryRow(ctx, `
INSERT INTO actions (name, description, category)
VALUES ($1, $2, $3)
RETURNING `+actionColumns, action.Name, action.Description, action.Category))
	return a, translate(TableActions, err)
}

func (s *Postgres) UpdateAction(ctx context.Context, action rbac.Action) (rbac.Action, error) {
	a, err := scanAction(s.conn(ctx).QueryRow(ctx, `
UPDATE actions SET name = $2, description = $3, category = $4, updated_at = NOW()
WHERE id = $1
RETURNING `+actionColumns, action.ID, action.Name, action.Description, action.Category))
	return a, translate(TableActions, err)
}

const permissionColumns = `id, role_id, action_id, status, limit_value, conditions, updated_at`

func scanPermission(row pgx.Row) (rbac.Permission, error) {
	var (
		p          rbac.Permission
		status     string
		limit      pgtype.Float8
		conditions pgtype.Text
	)
	if err := row.Scan(&p.ID, &p.RoleID, &p.ActionID, &status, &limit, &conditions, &p.UpdatedAt); err != nil {
		return rbac.Permission{}, err
	}
	p.Status = rbac.Status(status)
	if limit.Valid {
		v := limit.Float64
		p.LimitValue = &v
	}
	if conditions.Valid {
		c := conditions.String
		p.Conditions = &c
	}
	return p, nil
}

func (s *Postgres) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY role_id, action_id`)
	if err != nil {
		return nil, translate(TablePermissions, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Permission, error) {
		return scanPermission(row)
	})
	return out, translate(TablePermissions, err)
}

func (s *Postgres) FindPermission(ctx context.Context, roleID, actionID int64) (rbac.Permission, error) {
	p, err := scanPermission(s.conn(ctx).QueryRow(ctx, `
SELECT `+permissionColumns+` FROM permissions WHERE role_id = $1 AND action_id = $2`, roleID, actionID))
	return p, translate(TablePermissions, err)
}

func (s *Postgres) InsertPermission(ctx context.Context, perm rbac.Permission) (rbac.Permission, error) {
	p, err := scanPermission(s.conn(ctx).QueryRow(ctx, `
INSERT INTO permissions (role_id, action_id, status, limit_value, conditions)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+permissionColumns,
		perm.RoleID, perm.ActionID, string(perm.Status), pgFloat8(perm.LimitValue), pgText(perm.Conditions)))
	return p, translate(TablePermissions, err)
}

// UpdatePermission changes only the columns set on patch.
func (s *Postgres) UpdatePermission(ctx context.Context, id int64, patch rbac.PermissionPatch) (rbac.Permission, error) {
	var status pgtype.Text
	if patch.Status != nil {
		status = pgtype.Text{String: string(*patch.Status), Valid: true}
	}
	p, err := scanPermission(s.conn(ctx).QueryRow(ctx, `
UPDATE permissions SET
	status      = COALESCE($2, status),
	limit_value = CASE WHEN $3::boolean THEN $4 ELSE limit_value END,
	conditions  = CASE WHEN $5::boolean THEN $6 ELSE conditions END,
	updated_at  = NOW()
WHERE id = $1
RETURNING `+permissionColumns,
		id, status,
		patch.LimitValue != nil, pgFloat8(patch.LimitValue),
		patch.Conditions != nil, pgText(patch.Conditions)))
	return p, translate(TablePermissions, err)
}

const profileColumns = `id, full_name, email, role_id, created_at`

func scanProfile(row pgx.Row) (rbac.Profile, error) {
	var (
		p      rbac.Profile
		roleID pgtype.Int8
	)
	if err := row.Scan(&p.ID, &p.FullName, &p.Email, &roleID, &p.CreatedAt); err != nil {
		return rbac.Profile{}, err
	}
	if roleID.Valid {
		v := roleID.Int64
		p.RoleID = &v
	}
	return p, nil
}

func (s *Postgres) ListProfiles(ctx context.Context) ([]rbac.Profile, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY full_name, id`)
	if err != nil {
		return nil, translate(TableProfiles, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Profile, error) {
		return scanProfile(row)
	})
	return out, translate(TableProfiles, err)
}

func (s *Postgres) GetProfile(ctx context.Context, id int64) (rbac.Profile, error) {
	p, err := scanProfile(s.conn(ctx).QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	return p, translate(TableProfiles, err)
}

func (s *Postgres) InsertProfile(ctx context.Context, profile rbac.Profile) (rbac.Profile, error) {
	p, err := scanProfile(s.conn(ctx).QueryRow(ctx, `
INSERT INTO profiles (id, full_name, email, role_id)
VALUES ($1, $2, $3, $4)
RETURNING `+profileColumns, profile.ID, profile.FullName, profile.Email, pgInt8(profile.RoleID)))
	return p, translate(TableProfiles, err)
}

func (s *Postgres) UpdateProfileRole(ctx context.Context, id int64, roleID *int64) (rbac.Profile, error) {
	p, err := scanProfile(s.conn(ctx).QueryRow(ctx, `
UPDATE profiles SET role_id = $2 WHERE id = $1
RETURNING `+profileColumns, id, pgInt8(roleID)))
	return p, translate(TableProfiles, err)
}

func (s *Postgres) CountProfiles(ctx context.Context) (int, error) {
	var n int
	err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n)
	return n, translate(TableProfiles, err)
}

const accountColumns = `id, email, password_hash, is_active, created_at`

func scanAccount(row pgx.Row) (auth.Account, error) {
	var a auth.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.IsActive, &a.CreatedAt)
	return a, err
}

func (s *Postgres) InsertAccount(ctx context.Context, account auth.Account) (auth.Account, error) {
	a, err := scanAccount(s.conn(ctx).QueryRow(ctx, `
INSERT INTO accounts (email, password_hash, is_active)
VALUES ($1, $2, $3)
RETURNING `+accountColumns, account.Email, account.PasswordHash, account.IsActive))
	return a, translate(TableAccounts, err)
}

func (s *Postgres) FindAccountByEmail(ctx context.Context, email string) (auth.Account, error) {
	a, err := scanAccount(s.conn(ctx).QueryRow(ctx, `
SELECT `+accountColumns+` FROM accounts WHERE email = $1`, strings.ToLower(strings.TrimSpace(email))))
	return a, translate(TableAccounts, err)
}

func (s *Postgres) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return translate(TableAccounts, err)
	}
	if tag.RowsAffected() == 0 {
		return translate(TableAccounts, pgx.ErrNoRows)
	}
	return nil
}

func (s *Postgres) InsertAuditLog(ctx context.Context, log shared.AuditLog) error {
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: audit_logs: encode meta: %w", err)
	}
	_, err = s.conn(ctx).Exec(ctx, `
INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, payload, log.At)
	return translate(TableAuditLogs, err)
}

// ListAuditLogs returns entries newest first.
func (s *Postgres) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]shared.AuditLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var actor pgtype.Int8
	if filter.ActorID > 0 {
		actor = pgtype.Int8{Int64: filter.ActorID, Valid: true}
	}
	rows, err := s.conn(ctx).Query(ctx, `
SELECT actor_id, action, entity, entity_id, meta, occurred_at
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR action = $5)
ORDER BY occurred_at DESC, id DESC
LIMIT $6 OFFSET $7`,
		pgTimestamptz(filter.From), pgTimestamptz(filter.To), actor,
		optionalText(filter.Entity), optionalText(filter.Action),
		limit, max(filter.Offset, 0))
	if err != nil {
		return nil, translate(TableAuditLogs, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shared.AuditLog, error) {
		var (
			entry shared.AuditLog
			meta  []byte
		)
		if err := row.Scan(&entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &meta, &entry.At); err != nil {
			return shared.AuditLog{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Meta); err != nil {
				return shared.AuditLog{}, err
			}
		}
		return entry, nil
	})
	return out, translate(TableAuditLogs, err)
}
