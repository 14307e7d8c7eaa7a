/**
 * @description
 * PaymentService drives a donation attempt from initiation through confirmation
 * to settlement. Settlement (status update, donation, receipt, back-fill) always
 * runs in a single store transaction holding a row lock on the payment.
 *
 * @dependencies
 * - internal/store: Repository for campaigns, payments, donations and receipts.
 * - github.com/google/uuid: Donation and receipt identifiers.
 */
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parivartan/core-service/internal/domain"
	"github.com/parivartan/core-service/internal/store"
)

const (
	paymentIDRandomLength = 9
	base36Alphabet        = "0123456789abcdefghijklmnopqrstuvwxyz"
	currencyINR           = "INR"
	maxDonorNameLength    = 100
	maxDonationMessageLen = 500
	maxPaymentAmount      = 10000000
)

// Settlement channels recorded on donation.settled events.
const (
	settledViaWebhook      = "webhook"
	settledViaVerification = "user_confirmation"
	settledViaConsumer     = "gateway_event"
)

type PaymentService struct {
	repo           store.Repository
	events         *EventPublisher
	limiter        RateLimiter
	limitPerMinute int
	now            func() time.Time
}

func NewPaymentService(repo store.Repository, events *EventPublisher) *PaymentService {
	return &PaymentService{
		repo:   repo,
		events: events,
		now:    time.Now,
	}
}

// SetRateLimiter bounds payment initiations per caller (or client address).
func (s *PaymentService) SetRateLimiter(limiter RateLimiter, perMinute int) {
	s.limiter = limiter
	s.limitPerMinute = perMinute
}

// InitiatePayment validates the request, records a pending transaction carrying the
// donor metadata and returns the gateway redirect payload. caller may be nil.
func (s *PaymentService) InitiatePayment(ctx context.Context, caller *domain.Principal, rateSubject string, req domain.InitiatePaymentRequest) (*domain.PaymentInitiation, error) {
	campaignID := strings.TrimSpace(req.CampaignID)
	if campaignID == "" {
		return nil, newValidationError("campaign_id", "Campaign ID is required")
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return nil, newValidationError("amount", "Amount must be greater than zero")
	}
	if req.Amount > maxPaymentAmount {
		return nil, newValidationError("amount", "Amount exceeds the maximum allowed donation")
	}
	amount := math.Round(req.Amount*100) / 100
	if amount <= 0 {
		return nil, newValidationError("amount", "Amount must be greater than zero")
	}

	gateway := strings.ToLower(strings.TrimSpace(req.Gateway))
	if gateway == "" {
		gateway = domain.GatewayUPI
	}
	if !supportedGateway(gateway) {
		return nil, newValidationError("gateway", fmt.Sprintf("Unsupported payment gateway %q", req.Gateway))
	}

	metadata, err := donorMetadata(req)
	if err != nil {
		return nil, err
	}

	if caller != nil && caller.ID != "" {
		rateSubject = caller.ID
	}
	if err := enforceRateLimit(ctx, s.limiter, rateLimitScopePaymentInitiate, rateSubject, s.limitPerMinute); err != nil {
		return nil, err
	}

	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			return nil, ErrNotFound
		}
		return nil, upstream("load campaign", err)
	}
	if gateway == domain.GatewayUPI && strings.TrimSpace(campaign.UPIID) == "" {
		return nil, newValidationError("gateway", "This campaign does not accept UPI payments")
	}

	paymentID, err := generatePaymentID(s.now())
	if err != nil {
		return nil, upstream("generate payment id", err)
	}

	txn := &domain.PaymentTransaction{
		ID:              uuid.NewString(),
		PaymentID:       paymentID,
		CampaignID:      campaign.ID,
		Amount:          amount,
		Gateway:         gateway,
		Status:          domain.PaymentStatusPending,
		GatewayResponse: metadata,
	}
	if caller != nil && caller.ID != "" {
		userID := caller.ID
		txn.UserID = &userID
	}

	if err := s.repo.CreatePaymentTransaction(ctx, txn); err != nil {
		return nil, upstream("create payment transaction", err)
	}

	log.Printf("level=info component=payments op=initiate outcome=pending payment_id=%s campaign_id=%s gateway=%s amount=%s", txn.PaymentID, txn.CampaignID, gateway, formatAmount(amount))
	s.events.Publish(ctx, domain.EventPaymentInitiated, s.paymentEvent(txn))

	initiation := &domain.PaymentInitiation{
		PaymentID:     txn.PaymentID,
		TransactionID: txn.ID,
		CampaignID:    txn.CampaignID,
		Amount:        amount,
		Currency:      currencyINR,
		Gateway:       gateway,
		Status:        domain.PaymentStatusPending,
	}
	switch gateway {
	case domain.GatewayUPI:
		initiation.UPIURL = buildUPIURL(campaign, amount, txn.PaymentID)
	default:
		initiation.Checkout = map[string]interface{}{
			"gateway":     gateway,
			"order_id":    txn.PaymentID,
			"amount":      amount,
			"currency":    currencyINR,
			"description": "Donation to " + campaign.Title,
		}
	}
	return initiation, nil
}

// GetPayment returns the public view of a payment transaction.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentView, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, newValidationError("payment_id", "Payment ID is required")
	}
	txn, err := s.repo.GetPaymentTransaction(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			return nil, ErrNotFound
		}
		return nil, upstream("load payment transaction", err)
	}
	view := txn.View()
	return &view, nil
}

// GetReceipt returns the receipt issued for a donation.
func (s *PaymentService) GetReceipt(ctx context.Context, donationID string) (*domain.Receipt, error) {
	donationID = strings.TrimSpace(donationID)
	if donationID == "" {
		return nil, newValidationError("donation_id", "Donation ID is required")
	}
	receipt, err := s.repo.GetReceiptByDonationID(ctx, donationID)
	if err != nil {
		if errors.Is(err, store.ErrReceiptNotFound) {
			return nil, ErrNotFound
		}
		return nil, upstream("load receipt", err)
	}
	return receipt, nil
}

func (s *PaymentService) paymentEvent(txn *domain.PaymentTransaction) domain.PaymentEvent {
	return domain.PaymentEvent{
		PaymentID:  txn.PaymentID,
		CampaignID: txn.CampaignID,
		UserID:     txn.UserID,
		Amount:     txn.Amount,
		Gateway:    txn.Gateway,
		Status:     txn.Status,
		Timestamp:  s.now().UTC(),
	}
}

func supportedGateway(gateway string) bool {
	switch gateway {
	case domain.GatewayUPI, domain.GatewayRazorpay, domain.GatewayPaytm:
		return true
	default:
		return false
	}
}

func donorMetadata(req domain.InitiatePaymentRequest) (map[string]interface{}, error) {
	metadata := map[string]interface{}{}
	isAnonymous := req.IsAnonymous != nil && *req.IsAnonymous
	metadata[domain.MetaIsAnonymous] = isAnonymous

	if req.DonorName != nil {
		name := strings.Join(strings.Fields(*req.DonorName), " ")
		if len([]rune(name)) > maxDonorNameLength {
			return nil, newValidationError("donor_name", fmt.Sprintf("Donor name must be at most %d characters", maxDonorNameLength))
		}
		if name != "" {
			metadata[domain.MetaDonorName] = name
		}
	}
	if req.Message != nil {
		message := strings.TrimSpace(*req.Message)
		if len([]rune(message)) > maxDonationMessageLen {
			return nil, newValidationError("message", fmt.Sprintf("Message must be at most %d characters", maxDonationMessageLen))
		}
		if message != "" {
			metadata[domain.MetaMessage] = message
		}
	}
	return metadata, nil
}

// generatePaymentID returns PAY-<epoch millis>-<9 random base36 chars>.
func generatePaymentID(now time.Time) (string, error) {
	suffix, err := randomBase36(paymentIDRandomLength)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PAY-%d-%s", now.UnixMilli(), suffix), nil
}

func randomBase36(n int) (string, error) {
	alphabetSize := big.NewInt(int64(len(base36Alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		buf[i] = base36Alphabet[idx.Int64()]
	}
	return string(buf), nil
}

// generateReceiptNumber returns RCP-<epoch millis>-<first 8 chars of the donation id>.
func generateReceiptNumber(now time.Time, donationID string) string {
	prefix := donationID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("RCP-%d-%s", now.UnixMilli(), prefix)
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

func upiEscape(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// buildUPIURL builds a upi://pay deep link with the payment id as transaction reference.
func buildUPIURL(campaign *domain.Campaign, amount float64, paymentID string) string {
	params := []struct{ key, value string }{
		{"pa", campaign.UPIID},
		{"pn", campaign.Title},
		{"am", formatAmount(amount)},
		{"cu", currencyINR},
		{"tn", "Donation for " + campaign.Title},
		{"tr", paymentID},
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p.key+"="+upiEscape(p.value))
	}
	return "upi://pay?" + strings.Join(parts, "&")
}
