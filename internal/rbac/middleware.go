package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/authmatrix/internal/platform/httpx"
	"github.com/odyssey-erp/authmatrix/internal/shared"
)

// ProfileSource resolves the session account to its profile and role.
type ProfileSource interface {
	GetProfile(ctx context.Context, id int64) (Profile, error)
	GetRole(ctx context.Context, id int64) (Role, error)
}

// DenialMetrics counts requests rejected for insufficient capability.
type DenialMetrics interface {
	GateDenied(capability string)
}

// Gate attaches the request principal and enforces capability checks.
type Gate struct {
	Profiles ProfileSource
	Logger   *slog.Logger
	Metrics  DenialMetrics
}

// Authenticate loads the principal for the session user. The capability is computed on every
// request so role changes take effect immediately.
func (g Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.principal(r)
		if err != nil {
			if !errors.Is(err, shared.ErrUnauthorized) {
				g.logger().Error("rbac load principal", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireEdit rejects principals without edit capability.
func (g Gate) RequireEdit(next http.Handler) http.Handler {
	return g.require(CapabilityEdit, CanEdit)(next)
}

// RequireAdmin rejects principals without admin capability.
func (g Gate) RequireAdmin(next http.Handler) http.Handler {
	return g.require(CapabilityAdmin, CanAdminister)(next)
}

func (g Gate) require(required Capability, allowed func(Capability) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if !allowed(principal.Capability) {
				if g.Metrics != nil {
					g.Metrics.GateDenied(required.String())
				}
				g.logger().Warn("rbac capability denied",
					slog.Int64("account_id", principal.AccountID),
					slog.String("have", principal.Capability.String()),
					slog.String("need", required.String()),
					slog.String("path", r.URL.Path),
				)
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g Gate) principal(r *http.Request) (Principal, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return Principal{}, shared.ErrUnauthorized
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return Principal{}, shared.ErrUnauthorized
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		g.logger().Error("rbac parse user id", slog.String("value", raw))
		return Principal{}, shared.ErrUnauthorized
	}
	return LoadPrincipal(r.Context(), g.Profiles, id)
}

// LoadPrincipal builds the principal for an account id. A missing profile is unauthorized;
// a dangling role reference resolves to no role.
func LoadPrincipal(ctx context.Context, profiles ProfileSource, accountID int64) (Principal, error) {
	profile, err := profiles.GetProfile(ctx, accountID)
	if errors.Is(err, shared.ErrNotFound) {
		return Principal{}, shared.ErrUnauthorized
	}
	if err != nil {
		return Principal{}, err
	}
	var roleName *string
	if profile.RoleID != nil {
		role, err := profiles.GetRole(ctx, *profile.RoleID)
		switch {
		case err == nil:
			name := role.Name
			roleName = &name
		case errors.Is(err, shared.ErrNotFound):
		default:
			return Principal{}, err
		}
	}
	return NewPrincipal(profile, roleName), nil
}

func (g Gate) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}
