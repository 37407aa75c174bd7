package rbac

import (
	"fmt"
	"strings"
	"time"
)

// Status is the decision recorded for a (role, action) pair.
type Status string

const (
	StatusDenied      Status = "denied"
	StatusGranted     Status = "granted"
	StatusConditional Status = "conditional"
)

// ParseStatus normalises raw input. The legacy spelling "allowed" maps to StatusGranted.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatusGranted), "allowed":
		return StatusGranted, nil
	case string(StatusDenied):
		return StatusDenied, nil
	case string(StatusConditional):
		return StatusConditional, nil
	default:
		return "", fmt.Errorf("unknown permission status %q", raw)
	}
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDenied, StatusGranted, StatusConditional:
		return true
	}
	return false
}

// Next returns the status that follows s in the edit cycle denied → granted → conditional → denied.
// Unknown values restart the cycle at granted, as if they were denied.
func (s Status) Next() Status {
	switch s {
	case StatusGranted:
		return StatusConditional
	case StatusConditional:
		return StatusDenied
	default:
		return StatusGranted
	}
}

// Label is the human readable form shown in the PDF export.
func (s Status) Label() string {
	switch s {
	case StatusGranted:
		return "Granted"
	case StatusConditional:
		return "Conditional"
	default:
		return "Denied"
	}
}

// Reserved role names. Capability is derived from these exact strings.
const (
	RoleNameViewOnly = "View Only"
	RoleNameEditView = "Edit & View"
	RoleNameAdmin    = "Admin"
)

// DefaultRoleColor is applied when a role is created without a color.
const DefaultRoleColor = "#6b7280"

// Role is an organizational grouping that permissions attach to.
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Color        string    `json:"color"`
	IsSystemRole bool      `json:"is_system_role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Action is a catalogued operation that can be granted to roles.
type Action struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is one stored matrix cell. At most one exists per (RoleID, ActionID).
type Permission struct {
	ID         int64     `json:"id"`
	RoleID     int64     `json:"role_id"`
	ActionID   int64     `json:"action_id"`
	Status     Status    `json:"status"`
	LimitValue *float64  `json:"limit_value"`
	Conditions *string   `json:"conditions"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PermissionPatch lists the columns to change on an existing row. Nil fields are left untouched.
type PermissionPatch struct {
	Status     *Status
	LimitValue *float64
	Conditions *string
}

// Profile is the console-facing identity of an account.
type Profile struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	RoleID    *int64    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}
