/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for profiles, role assignments, two-factor state, campaigns,
 * payment transactions, donations and receipts.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parivartan/core-service/internal/domain"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db   dbtx
	inTx bool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isInvalidTextRepresentation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func isUndefinedTableError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "42P01" || pgErr.Code == "42703")
}

func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(repo Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresRepository{db: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateProfile(ctx context.Context, profile domain.Profile) error {
	query := `
		INSERT INTO profiles (id, email, full_name)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.Exec(ctx, query, profile.UserID, profile.Email, profile.FullName); err != nil {
		if isUniqueViolation(err) {
			return ErrProfileExists
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var profile domain.Profile
	query := "SELECT id::text, email, full_name, created_at FROM profiles WHERE id = $1"
	err := r.db.QueryRow(ctx, query, userID).Scan(&profile.UserID, &profile.Email, &profile.FullName, &profile.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidTextRepresentation(err) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *PostgresRepository) ListUsersWithRoles(ctx context.Context) ([]domain.UserWithRole, error) {
	query := `
		SELECT p.id::text, p.email, p.full_name, COALESCE(ur.role, 'viewer'), p.created_at
		FROM profiles p
		LEFT JOIN user_roles ur ON ur.user_id = p.id
		ORDER BY p.created_at DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.UserWithRole
	for rows.Next() {
		var u domain.UserWithRole
		if err := rows.Scan(&u.UserID, &u.Email, &u.FullName, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) GetUserRole(ctx context.Context, userID string) (domain.Role, error) {
	var raw string
	err := r.db.QueryRow(ctx, "SELECT role FROM user_roles WHERE user_id = $1", userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidTextRepresentation(err) {
			return 0, ErrRoleNotFound
		}
		return 0, err
	}
	role, ok := domain.ParseRole(raw)
	if !ok {
		return 0, fmt.Errorf("unknown role %q stored for user %s", raw, userID)
	}
	return role, nil
}

// ReplaceUserRole deletes any existing role rows and inserts exactly one, atomically.
func (r *PostgresRepository) ReplaceUserRole(ctx context.Context, userID string, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %d", role)
	}
	return r.RunInTx(ctx, func(repo Repository) error {
		txRepo := repo.(*PostgresRepository)
		if _, err := txRepo.db.Exec(ctx, "DELETE FROM user_roles WHERE user_id = $1", userID); err != nil {
			return fmt.Errorf("delete existing role: %w", err)
		}
		if _, err := txRepo.db.Exec(ctx,
			"INSERT INTO user_roles (id, user_id, role) VALUES ($1, $2, $3)",
			uuid.NewString(), userID, role.String(),
		); err != nil {
			return fmt.Errorf("insert role: %w", err)
		}
		return nil
	})
}

// userReferenceCleanup lists every table referencing a principal, in deletion order.
// Tables owned by other parts of the platform may be absent and are skipped.
var userReferenceCleanup = []struct {
	table     string
	statement string
}{
	{"push_subscriptions", "DELETE FROM push_subscriptions WHERE user_id = $1"},
	{"notifications", "DELETE FROM notifications WHERE user_id = $1"},
	{"chatbot_conversations", "DELETE FROM chatbot_conversations WHERE user_id = $1"},
	{"event_attendance", "DELETE FROM event_attendance WHERE user_id = $1"},
	{"achievements", "DELETE FROM achievements WHERE user_id = $1"},
	{"comments", "DELETE FROM comments WHERE user_id = $1"},
	{"posts", "DELETE FROM posts WHERE author_id = $1"},
	{"messages", "DELETE FROM messages WHERE sender_id = $1"},
	{"chat_members", "DELETE FROM chat_members WHERE user_id = $1"},
	// Settled money keeps its audit trail; only the principal reference is removed.
	{"donations", "UPDATE donations SET user_id = NULL WHERE user_id = $1"},
	{"payment_transactions", "UPDATE payment_transactions SET user_id = NULL WHERE user_id = $1"},
	{"two_factor_auth", "DELETE FROM two_factor_auth WHERE user_id = $1"},
	{"user_roles", "DELETE FROM user_roles WHERE user_id = $1"},
	{"profiles", "DELETE FROM profiles WHERE id = $1"},
}

// DeleteUserRows removes every row referencing userID. Each table runs under its own
// savepoint so a missing or failing table is skipped without aborting the rest.
func (r *PostgresRepository) DeleteUserRows(ctx context.Context, userID string) (*UserCleanupResult, error) {
	result := &UserCleanupResult{}
	err := r.RunInTx(ctx, func(repo Repository) error {
		txRepo := repo.(*PostgresRepository)
		for _, step := range userReferenceCleanup {
			sp, err := txRepo.db.Begin(ctx)
			if err != nil {
				return fmt.Errorf("savepoint %s: %w", step.table, err)
			}
			if _, err := sp.Exec(ctx, step.statement, userID); err != nil {
				_ = sp.Rollback(ctx)
				result.Skipped = append(result.Skipped, step.table)
				if !isUndefinedTableError(err) {
					log.Printf("level=warn component=store op=delete_user_rows table=%s user_id=%s msg=\"cleanup step failed; continuing\" err=%v", step.table, userID, err)
				}
				continue
			}
			if err := sp.Commit(ctx); err != nil {
				return fmt.Errorf("release savepoint %s: %w", step.table, err)
			}
			result.Cleaned = append(result.Cleaned, step.table)
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (r *PostgresRepository) GetTwoFactor(ctx context.Context, userID string) (*domain.TwoFactorRecord, error) {
	record := domain.TwoFactorRecord{UserID: userID}
	query := "SELECT secret, enabled, recovery_codes, updated_at FROM two_factor_auth WHERE user_id = $1"
	err := r.db.QueryRow(ctx, query, userID).Scan(&record.Secret, &record.Enabled, &record.RecoveryCodeHashes, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTwoFactorNotFound
		}
		return nil, err
	}
	return &record, nil
}

// SaveTwoFactorSetup stores fresh recovery-code digests and leaves 2FA disabled until verified.
func (r *PostgresRepository) SaveTwoFactorSetup(ctx context.Context, userID string, recoveryCodeHashes []string) error {
	query := `
		INSERT INTO two_factor_auth (user_id, secret, enabled, recovery_codes, updated_at)
		VALUES ($1, NULL, FALSE, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET secret = NULL, enabled = FALSE, recovery_codes = EXCLUDED.recovery_codes, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, userID, recoveryCodeHashes)
	return err
}

func (r *PostgresRepository) EnableTwoFactor(ctx context.Context, userID string, secret string) error {
	query := `
		INSERT INTO two_factor_auth (user_id, secret, enabled, updated_at)
		VALUES ($1, $2, TRUE, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET secret = EXCLUDED.secret, enabled = TRUE, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, userID, secret)
	return err
}

func (r *PostgresRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	query := `
		UPDATE two_factor_auth
		SET enabled = FALSE, secret = NULL, recovery_codes = '{}', updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTwoFactorNotFound
	}
	return nil
}

func (r *PostgresRepository) GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	var c domain.Campaign
	query := `
		SELECT id::text, title, COALESCE(upi_id, ''), target_amount::float8, current_amount::float8, status
		FROM campaigns
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, campaignID).Scan(&c.ID, &c.Title, &c.UPIID, &c.TargetAmount, &c.CurrentAmount, &c.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		// Malformed uuid input cannot match any campaign.
		if isInvalidTextRepresentation(err) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) CreatePaymentTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	gatewayResponse, err := json.Marshal(nonNilMap(txn.GatewayResponse))
	if err != nil {
		return fmt.Errorf("marshal gateway response: %w", err)
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}

	query := `
		INSERT INTO payment_transactions (id, payment_id, campaign_id, user_id, amount, gateway, status, gateway_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		txn.ID,
		txn.PaymentID,
		txn.CampaignID,
		txn.UserID,
		txn.Amount,
		txn.Gateway,
		string(txn.Status),
		string(gatewayResponse),
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return err
	}
	return nil
}

const paymentTransactionColumns = `
	id::text, payment_id, campaign_id::text, user_id::text, amount::float8, gateway, status,
	transaction_id, gateway_response, donation_id::text, verified_at, created_at, updated_at
`

func scanPaymentTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var (
		txn         domain.PaymentTransaction
		status      string
		rawResponse []byte
	)
	err := row.Scan(
		&txn.ID,
		&txn.PaymentID,
		&txn.CampaignID,
		&txn.UserID,
		&txn.Amount,
		&txn.Gateway,
		&status,
		&txn.TransactionID,
		&rawResponse,
		&txn.DonationID,
		&txn.VerifiedAt,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.Status = domain.PaymentStatus(status)
	txn.GatewayResponse = map[string]interface{}{}
	if len(rawResponse) > 0 {
		if err := json.Unmarshal(rawResponse, &txn.GatewayResponse); err != nil {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return &txn, nil
}

func (r *PostgresRepository) GetPaymentTransaction(ctx context.Context, paymentID string) (*domain.PaymentTransaction, error) {
	query := "SELECT " + paymentTransactionColumns + " FROM payment_transactions WHERE payment_id = $1"
	txn, err := scanPaymentTransaction(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return txn, nil
}

func (r *PostgresRepository) LockPaymentTransaction(ctx context.Context, paymentID string) (*domain.PaymentTransaction, error) {
	// Use FOR UPDATE so concurrent settlements of the same payment serialize here.
	query := "SELECT " + paymentTransactionColumns + " FROM payment_transactions WHERE payment_id = $1 FOR UPDATE"
	txn, err := scanPaymentTransaction(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return txn, nil
}

func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, params UpdatePaymentStatusParams) error {
	gatewayResponse, err := json.Marshal(nonNilMap(params.GatewayResponse))
	if err != nil {
		return fmt.Errorf("marshal gateway response: %w", err)
	}

	query := `
		UPDATE payment_transactions
		SET status = $2,
		    transaction_id = COALESCE($3, transaction_id),
		    gateway_response = $4::jsonb,
		    verified_at = $5,
		    updated_at = NOW()
		WHERE payment_id = $1
	`
	tag, err := r.db.Exec(ctx, query, params.PaymentID, string(params.Status), params.TransactionID, string(gatewayResponse), params.VerifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PostgresRepository) LinkPaymentDonation(ctx context.Context, paymentID string, donationID string) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE payment_transactions SET donation_id = $2, updated_at = NOW() WHERE payment_id = $1",
		paymentID, donationID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PostgresRepository) ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + paymentTransactionColumns + `
		FROM payment_transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentTransaction
	for rows.Next() {
		txn, err := scanPaymentTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateDonation(ctx context.Context, donation *domain.Donation) error {
	if donation.ID == "" {
		donation.ID = uuid.NewString()
	}
	query := `
		INSERT INTO donations (
			id, campaign_id, user_id, amount, donor_name, is_anonymous, message,
			payment_method, payment_id, payment_transaction_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		donation.ID,
		donation.CampaignID,
		donation.UserID,
		donation.Amount,
		donation.DonorName,
		donation.IsAnonymous,
		donation.Message,
		donation.PaymentMethod,
		donation.PaymentID,
		donation.PaymentTransactionID,
	).Scan(&donation.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDonationExists
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) CreateReceipt(ctx context.Context, receipt *domain.Receipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	query := `
		INSERT INTO receipts (id, donation_id, receipt_number)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query, receipt.ID, receipt.DonationID, receipt.ReceiptNumber).Scan(&receipt.CreatedAt)
}

func (r *PostgresRepository) GetReceiptByDonationID(ctx context.Context, donationID string) (*domain.Receipt, error) {
	var receipt domain.Receipt
	query := "SELECT id::text, donation_id::text, receipt_number, created_at FROM receipts WHERE donation_id = $1"
	err := r.db.QueryRow(ctx, query, donationID).Scan(&receipt.ID, &receipt.DonationID, &receipt.ReceiptNumber, &receipt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		if isInvalidTextRepresentation(err) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
