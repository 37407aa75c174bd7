package users

import (
	"strings"
	"time"
)

// User is a profile joined with its role and derived capability.
type User struct {
	ID         int64     `json:"id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	RoleID     *int64    `json:"role_id"`
	RoleName   *string   `json:"role_name"`
	Capability string    `json:"capability"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProvisionInput creates an account and its profile in one step.
type ProvisionInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
	FullName string `json:"full_name" validate:"required,max=200"`
	RoleID   *int64 `json:"role_id" validate:"omitempty,gt=0"`
}

func (in *ProvisionInput) normalise() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
}

// AssignRoleInput sets or clears a profile's role. A null role_id clears it.
type AssignRoleInput struct {
	RoleID *int64 `json:"role_id" validate:"omitempty,gt=0"`
}
