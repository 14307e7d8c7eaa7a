/**
 * @description
 * AdminService implements user provisioning, role assignment and user deletion.
 * Authorization and validation run first and short-circuit with no side effects.
 *
 * @dependencies
 * - internal/store: Repository for profiles and role assignments.
 * - pkg/authprovider: Admin client of the external auth provider.
 */
package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/parivartan/core-service/internal/domain"
	"github.com/parivartan/core-service/internal/store"
	"github.com/parivartan/core-service/pkg/authprovider"
)

// IdentityProvider provisions and deletes principals in the external auth provider.
type IdentityProvider interface {
	CreateUser(ctx context.Context, email, password, fullName string) (*authprovider.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

type AdminService struct {
	repo       store.Repository
	authorizer *Authorizer
	provider   IdentityProvider
	validator  *UserValidator
	events     *EventPublisher
	now        func() time.Time
}

func NewAdminService(repo store.Repository, provider IdentityProvider, validator *UserValidator, events *EventPublisher) *AdminService {
	return &AdminService{
		repo:       repo,
		authorizer: NewAuthorizer(repo),
		provider:   provider,
		validator:  validator,
		events:     events,
		now:        time.Now,
	}
}

// CreateUser provisions a principal in the auth provider, then its profile and single role row.
// If the store writes fail the provider principal is left in place.
func (s *AdminService) CreateUser(ctx context.Context, caller *domain.Principal, req domain.CreateUserRequest) (*domain.UserWithRole, error) {
	if _, err := s.authorizer.Require(ctx, caller, RequireSuperAdminOnly); err != nil {
		return nil, err
	}
	role, err := s.validator.ValidateCreateUser(&req)
	if err != nil {
		return nil, err
	}

	user, err := s.provider.CreateUser(ctx, req.Email, req.Password, req.FullName)
	if err != nil {
		if errors.Is(err, authprovider.ErrUserExists) {
			return nil, newValidationError("email", "A user with this email already exists")
		}
		return nil, upstream("create auth provider user", err)
	}

	err = s.repo.RunInTx(ctx, func(repo store.Repository) error {
		if err := repo.CreateProfile(ctx, domain.Profile{UserID: user.ID, Email: req.Email, FullName: req.FullName}); err != nil {
			return err
		}
		return repo.ReplaceUserRole(ctx, user.ID, role)
	})
	if err != nil {
		log.Printf("level=error component=admin op=create_user caller_id=%s user_id=%s msg=\"profile/role write failed after provider create; principal not rolled back\" err=%v", caller.ID, user.ID, err)
		return nil, upstream("create profile and role", err)
	}

	log.Printf("level=info component=admin op=create_user outcome=created caller_id=%s user_id=%s role=%s", caller.ID, user.ID, role)
	s.events.Publish(ctx, domain.EventUserCreated, domain.UserCreatedEvent{
		UserID:    user.ID,
		Email:     req.Email,
		Role:      role.String(),
		CreatedBy: caller.ID,
		Timestamp: s.now().UTC(),
	})

	return &domain.UserWithRole{
		UserID:   user.ID,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     role.String(),
	}, nil
}

// SetUserRole replaces the target's role. Granting super_admin, or changing the role of a
// current super_admin, requires a super_admin caller.
func (s *AdminService) SetUserRole(ctx context.Context, caller *domain.Principal, targetUserID string, rawRole string) (*domain.RoleAssignment, error) {
	callerRole, err := s.authorizer.Require(ctx, caller, RequireAdminOrAbove)
	if err != nil {
		return nil, err
	}

	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, newValidationError("user_id", "User ID is required")
	}
	targetRole, ok := domain.ParseRole(rawRole)
	if !ok {
		return nil, newValidationError("role", "Role must be one of viewer, member, admin, super_admin")
	}
	if !requirementForGrant(targetRole).SatisfiedBy(callerRole) {
		return nil, ErrForbidden
	}

	var previous domain.Role
	err = s.repo.RunInTx(ctx, func(repo store.Repository) error {
		if _, err := repo.GetProfile(ctx, targetUserID); err != nil {
			return err
		}
		current, err := repo.GetUserRole(ctx, targetUserID)
		if err != nil && !errors.Is(err, store.ErrRoleNotFound) {
			return err
		}
		if current == domain.RoleSuperAdmin && !RequireSuperAdminOnly.SatisfiedBy(callerRole) {
			return ErrForbidden
		}
		previous = current
		return repo.ReplaceUserRole(ctx, targetUserID, targetRole)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrForbidden):
		return nil, ErrForbidden
	case errors.Is(err, store.ErrProfileNotFound):
		return nil, ErrNotFound
	default:
		return nil, upstream("replace user role", err)
	}

	log.Printf("level=info component=admin op=set_user_role outcome=updated caller_id=%s user_id=%s role=%s previous_role=%s", caller.ID, targetUserID, targetRole, previous)
	assignment := &domain.RoleAssignment{UserID: targetUserID, Role: targetRole.String()}
	if previous.Valid() {
		assignment.PreviousRole = previous.String()
	}
	s.events.Publish(ctx, domain.EventUserRoleChanged, domain.RoleChangedEvent{
		UserID:       targetUserID,
		Role:         assignment.Role,
		PreviousRole: assignment.PreviousRole,
		ChangedBy:    caller.ID,
		Timestamp:    s.now().UTC(),
	})
	return assignment, nil
}

// DeleteUser removes every row referencing the target and then the provider principal.
// A principal already missing from the provider counts as deleted.
func (s *AdminService) DeleteUser(ctx context.Context, caller *domain.Principal, targetUserID string) (*domain.UserDeletion, error) {
	if _, err := s.authorizer.Require(ctx, caller, RequireSuperAdminOnly); err != nil {
		return nil, err
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, newValidationError("user_id", "User ID is required")
	}
	if targetUserID == caller.ID {
		return nil, newValidationError("user_id", "You cannot delete your own account")
	}

	cleanup, err := s.repo.DeleteUserRows(ctx, targetUserID)
	if err != nil {
		return nil, upstream("delete user rows", err)
	}

	if err := s.provider.DeleteUser(ctx, targetUserID); err != nil {
		if !errors.Is(err, authprovider.ErrUserNotFound) {
			return nil, upstream("delete auth provider user", err)
		}
		log.Printf("level=info component=admin op=delete_user user_id=%s msg=\"principal already absent from auth provider\"", targetUserID)
	}

	log.Printf("level=info component=admin op=delete_user outcome=deleted caller_id=%s user_id=%s cleaned=%d skipped=%d", caller.ID, targetUserID, len(cleanup.Cleaned), len(cleanup.Skipped))
	s.events.Publish(ctx, domain.EventUserDeleted, domain.UserDeletedEvent{
		UserID:    targetUserID,
		DeletedBy: caller.ID,
		Timestamp: s.now().UTC(),
	})

	cleaned := cleanup.Cleaned
	if cleaned == nil {
		cleaned = []string{}
	}
	return &domain.UserDeletion{
		UserID:        targetUserID,
		Deleted:       true,
		CleanedTables: cleaned,
		SkippedTables: cleanup.Skipped,
	}, nil
}

// ListUsers returns every profile with its current role.
func (s *AdminService) ListUsers(ctx context.Context, caller *domain.Principal) ([]domain.UserWithRole, error) {
	if _, err := s.authorizer.Require(ctx, caller, RequireAdminOrAbove); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsersWithRoles(ctx)
	if err != nil {
		return nil, upstream("list users", err)
	}
	if users == nil {
		users = []domain.UserWithRole{}
	}
	return users, nil
}

// CallerRole returns the caller's own role.
func (s *AdminService) CallerRole(ctx context.Context, caller *domain.Principal) (domain.Role, error) {
	return s.authorizer.Require(ctx, caller, RequireAuthenticated)
}
