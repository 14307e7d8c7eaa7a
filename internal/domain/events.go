package domain

import "time"

// Routing keys published on the events exchange.
const (
	EventUserCreated          = "user.created"
	EventUserRoleChanged      = "user.role.changed"
	EventUserDeleted          = "user.deleted"
	EventPaymentInitiated     = "payment.initiated"
	EventPaymentStatusUpdated = "payment.status.updated"
	EventDonationSettled      = "donation.settled"
	EventPaymentPendingStale  = "payment.pending.stale"
)

// Routing keys consumed from the events exchange.
const (
	EventGatewayStatusSuccess = "payment.gateway.status.success"
	EventGatewayStatusFailed  = "payment.gateway.status.failed"
	EventGatewayStatusPending = "payment.gateway.status.pending"
)

type UserCreatedEvent struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedBy string    `json:"created_by"`
	Timestamp time.Time `json:"timestamp"`
}

type RoleChangedEvent struct {
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	PreviousRole string    `json:"previous_role,omitempty"`
	ChangedBy    string    `json:"changed_by"`
	Timestamp    time.Time `json:"timestamp"`
}

type UserDeletedEvent struct {
	UserID    string    `json:"user_id"`
	DeletedBy string    `json:"deleted_by"`
	Timestamp time.Time `json:"timestamp"`
}

type PaymentEvent struct {
	PaymentID  string        `json:"payment_id"`
	CampaignID string        `json:"campaign_id"`
	UserID     *string       `json:"user_id,omitempty"`
	Amount     float64       `json:"amount"`
	Gateway    string        `json:"gateway"`
	Status     PaymentStatus `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
}

type DonationSettledEvent struct {
	DonationID    string    `json:"donation_id"`
	PaymentID     string    `json:"payment_id"`
	CampaignID    string    `json:"campaign_id"`
	Amount        float64   `json:"amount"`
	ReceiptNumber string    `json:"receipt_number"`
	SettledVia    string    `json:"settled_via"`
	Timestamp     time.Time `json:"timestamp"`
}

// GatewayStatusEvent is the broker-delivered equivalent of a webhook callback.
type GatewayStatusEvent struct {
	PaymentID       string                 `json:"payment_id"`
	TransactionID   string                 `json:"transaction_id"`
	Status          string                 `json:"status"`
	GatewayResponse map[string]interface{} `json:"gateway_response"`
}
