package rbac

import "context"

// Capability is the console access level derived from a profile's role.
// The zero value is CapabilityView so an unset capability never grants more.
type Capability int

const (
	CapabilityView Capability = iota
	CapabilityEdit
	CapabilityAdmin
)

// CapabilityOf maps a role name to a capability. Only the exact reserved names qualify;
// nil, unknown and near-miss names such as "admin" resolve to CapabilityView.
func CapabilityOf(roleName *string) Capability {
	if roleName == nil {
		return CapabilityView
	}
	switch *roleName {
	case RoleNameAdmin:
		return CapabilityAdmin
	case RoleNameEditView:
		return CapabilityEdit
	default:
		return CapabilityView
	}
}

// CanEdit reports whether c may change the matrix and catalog.
func CanEdit(c Capability) bool {
	return c >= CapabilityEdit
}

// CanAdminister reports whether c may manage users and role assignments.
func CanAdminister(c Capability) bool {
	return c >= CapabilityAdmin
}

func (c Capability) String() string {
	switch c {
	case CapabilityAdmin:
		return "admin"
	case CapabilityEdit:
		return "edit"
	default:
		return "view"
	}
}

// MarshalText renders the capability by name in JSON payloads.
func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Principal is the authenticated actor for one request.
type Principal struct {
	AccountID  int64      `json:"account_id"`
	Profile    *Profile   `json:"profile,omitempty"`
	RoleName   *string    `json:"role_name"`
	Capability Capability `json:"capability"`
}

// NewPrincipal derives the capability from the role name.
func NewPrincipal(profile Profile, roleName *string) Principal {
	p := profile
	return Principal{
		AccountID:  profile.ID,
		Profile:    &p,
		RoleName:   roleName,
		Capability: CapabilityOf(roleName),
	}
}

type principalKey struct{}

// ContextWithPrincipal stores p on ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the gate middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
