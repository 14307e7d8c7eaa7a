package app

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/parivartan/core-service/internal/domain"
)

const (
	minPasswordLength = 8
	// The auth provider hashes passwords with bcrypt, which ignores bytes past 72.
	maxPasswordLength = 72
	minFullNameLength = 2
	maxFullNameLength = 100
	maxEmailLength    = 254
)

// UserValidator enforces the provisioning policy for new principals.
type UserValidator struct {
	allowedDomain string
}

func NewUserValidator(allowedDomain string) *UserValidator {
	return &UserValidator{allowedDomain: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(allowedDomain), "@"))}
}

// ValidateCreateUser normalizes the request in place and returns the requested role.
func (v *UserValidator) ValidateCreateUser(req *domain.CreateUserRequest) (domain.Role, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.Join(strings.Fields(req.FullName), " ")

	if req.Email == "" {
		return 0, newValidationError("email", "Email is required")
	}
	if len(req.Email) > maxEmailLength {
		return 0, newValidationError("email", "Email is too long")
	}
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		return 0, newValidationError("email", "Email address is invalid")
	}
	if v.allowedDomain != "" && !strings.HasSuffix(req.Email, "@"+v.allowedDomain) {
		return 0, newValidationError("email", fmt.Sprintf("Email must be a @%s address", v.allowedDomain))
	}

	passwordLength := len(req.Password)
	if passwordLength < minPasswordLength {
		return 0, newValidationError("password", fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	if passwordLength > maxPasswordLength {
		return 0, newValidationError("password", fmt.Sprintf("Password must be at most %d characters", maxPasswordLength))
	}

	nameLength := utf8.RuneCountInString(req.FullName)
	if nameLength < minFullNameLength {
		return 0, newValidationError("full_name", fmt.Sprintf("Full name must be at least %d characters", minFullNameLength))
	}
	if nameLength > maxFullNameLength {
		return 0, newValidationError("full_name", fmt.Sprintf("Full name must be at most %d characters", maxFullNameLength))
	}

	if strings.TrimSpace(req.Role) == "" {
		return domain.RoleMember, nil
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		return 0, newValidationError("role", "Role must be one of viewer, member, admin, super_admin")
	}
	return role, nil
}
