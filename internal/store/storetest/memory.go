// Package storetest provides an in-memory store.Repository for service and handler tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parivartan/core-service/internal/domain"
	"github.com/parivartan/core-service/internal/store"
)

type memoryDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	profiles      map[string]domain.Profile
	roles         map[string][]domain.Role
	twoFactor     map[string]domain.TwoFactorRecord
	campaigns     map[string]domain.Campaign
	payments      map[string]domain.PaymentTransaction
	donations     map[string]domain.Donation
	donationByTxn map[string]string
	receipts      map[string]domain.Receipt

	failures map[string]error
}

// MemoryRepository implements store.Repository on maps. RunInTx serializes
// transactions and restores a snapshot when fn fails.
type MemoryRepository struct {
	db   *memoryDB
	inTx bool
}

var _ store.Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{db: &memoryDB{
		profiles:      map[string]domain.Profile{},
		roles:         map[string][]domain.Role{},
		twoFactor:     map[string]domain.TwoFactorRecord{},
		campaigns:     map[string]domain.Campaign{},
		payments:      map[string]domain.PaymentTransaction{},
		donations:     map[string]domain.Donation{},
		donationByTxn: map[string]string{},
		receipts:      map[string]domain.Receipt{},
		failures:      map[string]error{},
	}}
}

// FailOn makes every later call of the named repository method return err.
// A nil err clears the failure.
func (r *MemoryRepository) FailOn(method string, err error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err == nil {
		delete(r.db.failures, method)
		return
	}
	r.db.failures[method] = err
}

// AddCampaign seeds a campaign.
func (r *MemoryRepository) AddCampaign(c domain.Campaign) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c.Status == "" {
		c.Status = "active"
	}
	r.db.campaigns[c.ID] = c
}

// AddUser seeds a profile with a single role row.
func (r *MemoryRepository) AddUser(userID, email, fullName string, role domain.Role) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.profiles[userID] = domain.Profile{UserID: userID, Email: email, FullName: fullName, CreatedAt: time.Now().UTC()}
	r.db.roles[userID] = []domain.Role{role}
}

// AddPayment seeds a payment transaction as-is.
func (r *MemoryRepository) AddPayment(txn domain.PaymentTransaction) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	txn.GatewayResponse = copyMap(txn.GatewayResponse)
	r.db.payments[txn.PaymentID] = txn
}

// RoleRows returns every role row stored for userID.
func (r *MemoryRepository) RoleRows(userID string) []domain.Role {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return append([]domain.Role(nil), r.db.roles[userID]...)
}

// HasProfile reports whether a profile row exists for userID.
func (r *MemoryRepository) HasProfile(userID string) bool {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, ok := r.db.profiles[userID]
	return ok
}

// ProfileCount returns the number of stored profiles.
func (r *MemoryRepository) ProfileCount() int {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.profiles)
}

// RoleRowCount returns the number of role rows across all users.
func (r *MemoryRepository) RoleRowCount() int {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, rows := range r.db.roles {
		n += len(rows)
	}
	return n
}

// PaymentCount returns the number of stored payment transactions.
func (r *MemoryRepository) PaymentCount() int {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.payments)
}

// Payment returns a copy of the stored transaction.
func (r *MemoryRepository) Payment(paymentID string) (domain.PaymentTransaction, bool) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	txn, ok := r.db.payments[paymentID]
	txn.GatewayResponse = copyMap(txn.GatewayResponse)
	return txn, ok
}

// Donations returns every stored donation.
func (r *MemoryRepository) Donations() []domain.Donation {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]domain.Donation, 0, len(r.db.donations))
	for _, d := range r.db.donations {
		out = append(out, d)
	}
	return out
}

// ReceiptCount returns the number of stored receipts.
func (r *MemoryRepository) ReceiptCount() int {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.receipts)
}

func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(repo store.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	if err := r.fail("RunInTx"); err != nil {
		return err
	}

	r.db.txMu.Lock()
	defer r.db.txMu.Unlock()

	snapshot := r.db.snapshot()
	if err := fn(&MemoryRepository{db: r.db, inTx: true}); err != nil {
		r.db.restore(snapshot)
		return err
	}
	return nil
}

func (r *MemoryRepository) CreateProfile(ctx context.Context, profile domain.Profile) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["CreateProfile"]; err != nil {
		return err
	}
	if _, ok := r.db.profiles[profile.UserID]; ok {
		return store.ErrProfileExists
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	r.db.profiles[profile.UserID] = profile
	return nil
}

func (r *MemoryRepository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["GetProfile"]; err != nil {
		return nil, err
	}
	profile, ok := r.db.profiles[userID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}
	return &profile, nil
}

func (r *MemoryRepository) ListUsersWithRoles(ctx context.Context) ([]domain.UserWithRole, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["ListUsersWithRoles"]; err != nil {
		return nil, err
	}
	users := make([]domain.UserWithRole, 0, len(r.db.profiles))
	for id, p := range r.db.profiles {
		role := domain.RoleViewer
		if rows := r.db.roles[id]; len(rows) > 0 {
			role = rows[0]
		}
		users = append(users, domain.UserWithRole{UserID: id, Email: p.Email, FullName: p.FullName, Role: role.String(), CreatedAt: p.CreatedAt})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (r *MemoryRepository) GetUserRole(ctx context.Context, userID string) (domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["GetUserRole"]; err != nil {
		return 0, err
	}
	rows := r.db.roles[userID]
	if len(rows) == 0 {
		return 0, store.ErrRoleNotFound
	}
	return rows[0], nil
}

func (r *MemoryRepository) ReplaceUserRole(ctx context.Context, userID string, role domain.Role) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["ReplaceUserRole"]; err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role %d", role)
	}
	r.db.roles[userID] = []domain.Role{role}
	return nil
}

func (r *MemoryRepository) DeleteUserRows(ctx context.Context, userID string) (*store.UserCleanupResult, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["DeleteUserRows"]; err != nil {
		return nil, err
	}

	result := &store.UserCleanupResult{}
	for id, d := range r.db.donations {
		if d.UserID != nil && *d.UserID == userID {
			d.UserID = nil
			r.db.donations[id] = d
		}
	}
	result.Cleaned = append(result.Cleaned, "donations")
	for id, txn := range r.db.payments {
		if txn.UserID != nil && *txn.UserID == userID {
			txn.UserID = nil
			r.db.payments[id] = txn
		}
	}
	result.Cleaned = append(result.Cleaned, "payment_transactions")
	delete(r.db.twoFactor, userID)
	delete(r.db.roles, userID)
	delete(r.db.profiles, userID)
	result.Cleaned = append(result.Cleaned, "two_factor_auth", "user_roles", "profiles")
	return result, nil
}

func (r *MemoryRepository) GetTwoFactor(ctx context.Context, userID string) (*domain.TwoFactorRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["GetTwoFactor"]; err != nil {
		return nil, err
	}
	record, ok := r.db.twoFactor[userID]
	if !ok {
		return nil, store.ErrTwoFactorNotFound
	}
	record.RecoveryCodeHashes = append([]string(nil), record.RecoveryCodeHashes...)
	return &record, nil
}

func (r *MemoryRepository) SaveTwoFactorSetup(ctx context.Context, userID string, recoveryCodeHashes []string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["SaveTwoFactorSetup"]; err != nil {
		return err
	}
	r.db.twoFactor[userID] = domain.TwoFactorRecord{
		UserID:             userID,
		RecoveryCodeHashes: append([]string(nil), recoveryCodeHashes...),
		UpdatedAt:          time.Now().UTC(),
	}
	return nil
}

func (r *MemoryRepository) EnableTwoFactor(ctx context.Context, userID string, secret string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["EnableTwoFactor"]; err != nil {
		return err
	}
	record := r.db.twoFactor[userID]
	record.UserID = userID
	record.Secret = &secret
	record.Enabled = true
	record.UpdatedAt = time.Now().UTC()
	r.db.twoFactor[userID] = record
	return nil
}

func (r *MemoryRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["DisableTwoFactor"]; err != nil {
		return err
	}
	record, ok := r.db.twoFactor[userID]
	if !ok {
		return store.ErrTwoFactorNotFound
	}
	record.Enabled = false
	record.Secret = nil
	record.RecoveryCodeHashes = nil
	record.UpdatedAt = time.Now().UTC()
	r.db.twoFactor[userID] = record
	return nil
}

func (r *MemoryRepository) GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["GetCampaign"]; err != nil {
		return nil, err
	}
	c, ok := r.db.campaigns[campaignID]
	if !ok {
		return nil, store.ErrCampaignNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) CreatePaymentTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["CreatePaymentTransaction"]; err != nil {
		return err
	}
	if _, ok := r.db.payments[txn.PaymentID]; ok {
		return store.ErrDuplicatePayment
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	txn.CreatedAt, txn.UpdatedAt = now, now
	stored := *txn
	stored.GatewayResponse = copyMap(txn.GatewayResponse)
	r.db.payments[txn.PaymentID] = stored
	return nil
}

func (r *MemoryRepository) GetPaymentTransaction(ctx context.Context, paymentID string) (*domain.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["GetPaymentTransaction"]; err != nil {
		return nil, err
	}
	return r.db.loadPayment(paymentID)
}

func (r *MemoryRepository) LockPaymentTransaction(ctx context.Context, paymentID string) (*domain.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["LockPaymentTransaction"]; err != nil {
		return nil, err
	}
	return r.db.loadPayment(paymentID)
}

func (r *MemoryRepository) UpdatePaymentStatus(ctx context.Context, params store.UpdatePaymentStatusParams) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["UpdatePaymentStatus"]; err != nil {
		return err
	}
	txn, ok := r.db.payments[params.PaymentID]
	if !ok {
		return store.ErrPaymentNotFound
	}
	txn.Status = params.Status
	if params.TransactionID != nil {
		id := *params.TransactionID
		txn.TransactionID = &id
	}
	txn.GatewayResponse = copyMap(params.GatewayResponse)
	txn.VerifiedAt = params.VerifiedAt
	txn.UpdatedAt = time.Now().UTC()
	r.db.payments[params.PaymentID] = txn
	return nil
}

func (r *MemoryRepository) LinkPaymentDonation(ctx context.Context, paymentID string, donationID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["LinkPaymentDonation"]; err != nil {
		return err
	}
	txn, ok := r.db.payments[paymentID]
	if !ok {
		return store.ErrPaymentNotFound
	}
	txn.DonationID = &donationID
	r.db.payments[paymentID] = txn
	return nil
}

func (r *MemoryRepository) ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["ListStalePendingPayments"]; err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	var stale []domain.PaymentTransaction
	for _, txn := range r.db.payments {
		if txn.Status == domain.PaymentStatusPending && txn.CreatedAt.Before(createdBefore) {
			stale = append(stale, txn)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *MemoryRepository) CreateDonation(ctx context.Context, donation *domain.Donation) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["CreateDonation"]; err != nil {
		return err
	}
	if _, ok := r.db.donationByTxn[donation.PaymentTransactionID]; ok {
		return store.ErrDonationExists
	}
	if donation.ID == "" {
		donation.ID = uuid.NewString()
	}
	donation.CreatedAt = time.Now().UTC()
	r.db.donations[donation.ID] = *donation
	r.db.donationByTxn[donation.PaymentTransactionID] = donation.ID
	return nil
}

func (r *MemoryRepository) CreateReceipt(ctx context.Context, receipt *domain.Receipt) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["CreateReceipt"]; err != nil {
		return err
	}
	if _, ok := r.db.receipts[receipt.DonationID]; ok {
		return fmt.Errorf("receipt already exists for donation %s", receipt.DonationID)
	}
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	receipt.CreatedAt = time.Now().UTC()
	r.db.receipts[receipt.DonationID] = *receipt
	return nil
}

func (r *MemoryRepository) GetReceiptByDonationID(ctx context.Context, donationID string) (*domain.Receipt, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failures["GetReceiptByDonationID"]; err != nil {
		return nil, err
	}
	receipt, ok := r.db.receipts[donationID]
	if !ok {
		return nil, store.ErrReceiptNotFound
	}
	return &receipt, nil
}

func (r *MemoryRepository) fail(method string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.failures[method]
}

func (db *memoryDB) loadPayment(paymentID string) (*domain.PaymentTransaction, error) {
	txn, ok := db.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	txn.GatewayResponse = copyMap(txn.GatewayResponse)
	return &txn, nil
}

type memorySnapshot struct {
	profiles      map[string]domain.Profile
	roles         map[string][]domain.Role
	twoFactor     map[string]domain.TwoFactorRecord
	payments      map[string]domain.PaymentTransaction
	donations     map[string]domain.Donation
	donationByTxn map[string]string
	receipts      map[string]domain.Receipt
}

func (db *memoryDB) snapshot() memorySnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := memorySnapshot{
		profiles:      make(map[string]domain.Profile, len(db.profiles)),
		roles:         make(map[string][]domain.Role, len(db.roles)),
		twoFactor:     make(map[string]domain.TwoFactorRecord, len(db.twoFactor)),
		payments:      make(map[string]domain.PaymentTransaction, len(db.payments)),
		donations:     make(map[string]domain.Donation, len(db.donations)),
		donationByTxn: make(map[string]string, len(db.donationByTxn)),
		receipts:      make(map[string]domain.Receipt, len(db.receipts)),
	}
	for k, v := range db.profiles {
		s.profiles[k] = v
	}
	for k, v := range db.roles {
		s.roles[k] = append([]domain.Role(nil), v...)
	}
	for k, v := range db.twoFactor {
		v.RecoveryCodeHashes = append([]string(nil), v.RecoveryCodeHashes...)
		s.twoFactor[k] = v
	}
	for k, v := range db.payments {
		v.GatewayResponse = copyMap(v.GatewayResponse)
		s.payments[k] = v
	}
	for k, v := range db.donations {
		s.donations[k] = v
	}
	for k, v := range db.donationByTxn {
		s.donationByTxn[k] = v
	}
	for k, v := range db.receipts {
		s.receipts[k] = v
	}
	return s
}

func (db *memoryDB) restore(s memorySnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.profiles = s.profiles
	db.roles = s.roles
	db.twoFactor = s.twoFactor
	db.payments = s.payments
	db.donations = s.donations
	db.donationByTxn = s.donationByTxn
	db.receipts = s.receipts
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
