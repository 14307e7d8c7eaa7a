/**
 * @description
 * This file defines the identity and role model of the core service: principals
 * resolved from bearer tokens, profile rows, and the totally ordered role enumeration.
 */
package domain

import (
	"strings"
	"time"
)

// Role is a privilege level. The zero value is not a valid role.
type Role int

const (
	RoleViewer     Role = 1
	RoleMember     Role = 2
	RoleAdmin      Role = 3
	RoleSuperAdmin Role = 4
)

var roleNames = map[Role]string{
	RoleViewer:     "viewer",
	RoleMember:     "member",
	RoleAdmin:      "admin",
	RoleSuperAdmin: "super_admin",
}

// ParseRole maps the wire name of a role to its level.
func ParseRole(raw string) (Role, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for role, name := range roleNames {
		if name == normalized {
			return role, true
		}
	}
	return 0, false
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Principal is the authenticated caller of a request.
type Principal struct {
	ID    string
	Email string
	Name  string
}

// Profile is the application-side record of a principal.
type Profile struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// UserWithRole is a profile joined with its current role.
type UserWithRole struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// CreateUserRequest is the payload accepted by the user provisioning endpoint.
type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// SetUserRoleRequest is the payload accepted by the role assignment endpoint.
type SetUserRoleRequest struct {
	Role string `json:"role"`
}

// RoleAssignment is returned after a successful role change.
type RoleAssignment struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	PreviousRole string `json:"previous_role,omitempty"`
}

// UserDeletion summarizes a completed user deletion.
type UserDeletion struct {
	UserID        string   `json:"user_id"`
	Deleted       bool     `json:"deleted"`
	CleanedTables []string `json:"cleaned_tables"`
	SkippedTables []string `json:"skipped_tables,omitempty"`
}
