package domain

import (
	"time"
)

// PaymentStatus is the state of a payment transaction.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

// Supported payment gateways.
const (
	GatewayUPI      = "upi"
	GatewayRazorpay = "razorpay"
	GatewayPaytm    = "paytm"
)

// Keys of the donor metadata stored in a pending transaction's gateway response.
const (
	MetaDonorName   = "donor_name"
	MetaMessage     = "message"
	MetaIsAnonymous = "is_anonymous"
)

const AnonymousDonorName = "Anonymous"

// Campaign is a fundraising target. Only read by this service.
type Campaign struct {
	ID            string
	Title         string
	UPIID         string
	TargetAmount  float64
	CurrentAmount float64
	Status        string
}

// PaymentTransaction records one payment attempt against a campaign.
type PaymentTransaction struct {
	ID              string
	PaymentID       string
	CampaignID      string
	UserID          *string
	Amount          float64
	Gateway         string
	Status          PaymentStatus
	TransactionID   *string
	GatewayResponse map[string]interface{}
	DonationID      *string
	VerifiedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Donation is the immutable settlement record of a successful payment.
type Donation struct {
	ID                   string    `json:"id"`
	CampaignID           string    `json:"campaign_id"`
	UserID               *string   `json:"user_id,omitempty"`
	Amount               float64   `json:"amount"`
	DonorName            string    `json:"donor_name"`
	IsAnonymous          bool      `json:"is_anonymous"`
	Message              *string   `json:"message,omitempty"`
	PaymentMethod        string    `json:"payment_method"`
	PaymentID            string    `json:"payment_id"`
	PaymentTransactionID string    `json:"payment_transaction_id"`
	CreatedAt            time.Time `json:"created_at"`
}

// Receipt is the one-to-one companion of a donation.
type Receipt struct {
	ID            string    `json:"id"`
	DonationID    string    `json:"donation_id"`
	ReceiptNumber string    `json:"receipt_number"`
	CreatedAt     time.Time `json:"created_at"`
}

// InitiatePaymentRequest is the payload accepted by the payment initiation endpoint.
type InitiatePaymentRequest struct {
	CampaignID  string  `json:"campaign_id"`
	Amount      float64 `json:"amount"`
	DonorName   *string `json:"donor_name,omitempty"`
	Message     *string `json:"message,omitempty"`
	IsAnonymous *bool   `json:"is_anonymous,omitempty"`
	Gateway     string  `json:"gateway"`
}

// PaymentInitiation is returned to the client after a pending transaction was created.
type PaymentInitiation struct {
	PaymentID     string                 `json:"payment_id"`
	TransactionID string                 `json:"transaction_id"`
	CampaignID    string                 `json:"campaign_id"`
	Amount        float64                `json:"amount"`
	Currency      string                 `json:"currency"`
	Gateway       string                 `json:"gateway"`
	Status        PaymentStatus          `json:"status"`
	UPIURL        string                 `json:"upi_url,omitempty"`
	Checkout      map[string]interface{} `json:"checkout,omitempty"`
}

// PaymentWebhookRequest is the payload delivered by a gateway callback.
type PaymentWebhookRequest struct {
	PaymentID       string                 `json:"payment_id"`
	TransactionID   string                 `json:"transaction_id"`
	Status          string                 `json:"status"`
	GatewayResponse map[string]interface{} `json:"gateway_response"`
}

// VerifyPaymentRequest is the payload of the user-confirmed fallback verification.
type VerifyPaymentRequest struct {
	PaymentID     string `json:"payment_id"`
	UserConfirmed bool   `json:"user_confirmed"`
}

// PaymentView is the public projection of a payment transaction.
type PaymentView struct {
	PaymentID     string        `json:"payment_id"`
	CampaignID    string        `json:"campaign_id"`
	Amount        float64       `json:"amount"`
	Gateway       string        `json:"gateway"`
	Status        PaymentStatus `json:"status"`
	TransactionID *string       `json:"transaction_id,omitempty"`
	DonationID    *string       `json:"donation_id,omitempty"`
	VerifiedAt    *time.Time    `json:"verified_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// SettlementResult describes the outcome of a webhook or verification call.
type SettlementResult struct {
	PaymentID      string        `json:"payment_id"`
	Status         PaymentStatus `json:"status"`
	DonationID     *string       `json:"donation_id,omitempty"`
	ReceiptNumber  *string       `json:"receipt_number,omitempty"`
	AlreadySettled bool          `json:"already_settled,omitempty"`
	Ignored        bool          `json:"ignored,omitempty"`
}

// View projects a transaction to its public representation.
func (t *PaymentTransaction) View() PaymentView {
	return PaymentView{
		PaymentID:     t.PaymentID,
		CampaignID:    t.CampaignID,
		Amount:        t.Amount,
		Gateway:       t.Gateway,
		Status:        t.Status,
		TransactionID: t.TransactionID,
		DonationID:    t.DonationID,
		VerifiedAt:    t.VerifiedAt,
		CreatedAt:     t.CreatedAt,
	}
}
