/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation of the core service. Application services depend on this interface only,
 * which keeps the authorization and payment logic testable against in-memory fakes.
 *
 * @dependencies
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/parivartan/core-service/internal/domain"
)

var (
	ErrProfileNotFound   = errors.New("profile not found")
	ErrProfileExists     = errors.New("profile already exists")
	ErrRoleNotFound      = errors.New("role not found")
	ErrTwoFactorNotFound = errors.New("two-factor record not found")
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrPaymentNotFound   = errors.New("payment transaction not found")
	ErrDuplicatePayment  = errors.New("payment id already exists")
	ErrDonationExists    = errors.New("donation already exists for payment transaction")
	ErrReceiptNotFound   = errors.New("receipt not found")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// RunInTx executes fn against a repository bound to a single transaction.
	// Nested calls join the outer transaction.
	RunInTx(ctx context.Context, fn func(repo Repository) error) error

	// Profiles and roles
	CreateProfile(ctx context.Context, profile domain.Profile) error
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	ListUsersWithRoles(ctx context.Context) ([]domain.UserWithRole, error)
	GetUserRole(ctx context.Context, userID string) (domain.Role, error)
	ReplaceUserRole(ctx context.Context, userID string, role domain.Role) error
	DeleteUserRows(ctx context.Context, userID string) (*UserCleanupResult, error)

	// Two-factor authentication
	GetTwoFactor(ctx context.Context, userID string) (*domain.TwoFactorRecord, error)
	SaveTwoFactorSetup(ctx context.Context, userID string, recoveryCodeHashes []string) error
	EnableTwoFactor(ctx context.Context, userID string, secret string) error
	DisableTwoFactor(ctx context.Context, userID string) error

	// Campaigns, payments and settlement
	GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error)
	CreatePaymentTransaction(ctx context.Context, txn *domain.PaymentTransaction) error
	GetPaymentTransaction(ctx context.Context, paymentID string) (*domain.PaymentTransaction, error)
	// LockPaymentTransaction reads the row with a write lock; only meaningful inside RunInTx.
	LockPaymentTransaction(ctx context.Context, paymentID string) (*domain.PaymentTransaction, error)
	UpdatePaymentStatus(ctx context.Context, params UpdatePaymentStatusParams) error
	LinkPaymentDonation(ctx context.Context, paymentID string, donationID string) error
	ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.PaymentTransaction, error)
	CreateDonation(ctx context.Context, donation *domain.Donation) error
	CreateReceipt(ctx context.Context, receipt *domain.Receipt) error
	GetReceiptByDonationID(ctx context.Context, donationID string) (*domain.Receipt, error)
}

// UpdatePaymentStatusParams carries a status transition of a payment transaction.
type UpdatePaymentStatusParams struct {
	PaymentID       string
	Status          domain.PaymentStatus
	TransactionID   *string
	GatewayResponse map[string]interface{}
	VerifiedAt      *time.Time
}

// UserCleanupResult lists the tables touched by a best-effort user cleanup.
type UserCleanupResult struct {
	Cleaned []string
	Skipped []string
}
