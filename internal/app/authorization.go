/**
 * @description
 * Role-based authorization. Every privileged operation names an explicit
 * requirement instead of comparing role levels generically, because the
 * super_admin-only operations are exact matches.
 */
package app

import (
	"context"
	"errors"
	"log"

	"github.com/parivartan/core-service/internal/domain"
	"github.com/parivartan/core-service/internal/store"
)

// Requirement is the capability an operation demands of its caller.
type Requirement int

const (
	RequireAuthenticated Requirement = iota
	RequireAdminOrAbove
	RequireSuperAdminOnly
)

func (r Requirement) String() string {
	switch r {
	case RequireAdminOrAbove:
		return "admin_or_above"
	case RequireSuperAdminOnly:
		return "super_admin_only"
	default:
		return "authenticated"
	}
}

// SatisfiedBy reports whether role meets the requirement.
func (r Requirement) SatisfiedBy(role domain.Role) bool {
	switch r {
	case RequireSuperAdminOnly:
		return role == domain.RoleSuperAdmin
	case RequireAdminOrAbove:
		return role == domain.RoleAdmin || role == domain.RoleSuperAdmin
	case RequireAuthenticated:
		return role.Valid()
	default:
		return false
	}
}

// Authorizer resolves a caller's current role and checks it against a requirement.
type Authorizer struct {
	repo store.Repository
}

func NewAuthorizer(repo store.Repository) *Authorizer {
	return &Authorizer{repo: repo}
}

// CallerRole returns the caller's role. A principal without a role row is a viewer.
func (a *Authorizer) CallerRole(ctx context.Context, caller *domain.Principal) (domain.Role, error) {
	if caller == nil || caller.ID == "" {
		return 0, ErrUnauthorized
	}
	role, err := a.repo.GetUserRole(ctx, caller.ID)
	if err != nil {
		if errors.Is(err, store.ErrRoleNotFound) {
			return domain.RoleViewer, nil
		}
		return 0, upstream("lookup caller role", err)
	}
	return role, nil
}

// Require returns the caller's role if it satisfies req, ErrForbidden otherwise.
func (a *Authorizer) Require(ctx context.Context, caller *domain.Principal, req Requirement) (domain.Role, error) {
	role, err := a.CallerRole(ctx, caller)
	if err != nil {
		return 0, err
	}
	if !req.SatisfiedBy(role) {
		log.Printf("level=info component=authz user_id=%s role=%s requirement=%s outcome=forbidden", caller.ID, role, req)
		return role, ErrForbidden
	}
	return role, nil
}

// requirementForGrant is the requirement to assign target to someone.
func requirementForGrant(target domain.Role) Requirement {
	if target == domain.RoleSuperAdmin {
		return RequireSuperAdminOnly
	}
	return RequireAdminOrAbove
}
