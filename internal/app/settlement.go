package app

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/parivartan/core-service/internal/domain"
	"github.com/parivartan/core-service/internal/store"
)

// settlementOutcome is collected inside the transaction and published after commit.
type settlementOutcome struct {
	result        domain.SettlementResult
	txn           *domain.PaymentTransaction
	statusChanged bool
	donation      *domain.Donation
	receiptNumber string
}

// HandleWebhook applies a gateway callback. Transitions are monotone: a terminal
// transaction ignores a different status, and a repeated success settles at most once.
func (s *PaymentService) HandleWebhook(ctx context.Context, req domain.PaymentWebhookRequest) (*domain.SettlementResult, error) {
	return s.applyGatewayStatus(ctx, req, settledViaWebhook)
}

func (s *PaymentService) applyGatewayStatus(ctx context.Context, req domain.PaymentWebhookRequest, via string) (*domain.SettlementResult, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, newValidationError("payment_id", "Payment ID is required")
	}
	status, ok := normalizePaymentStatus(req.Status)
	if !ok {
		return nil, newValidationError("status", "Status must be one of pending, success, failed")
	}
	var gatewayTxnID *string
	if trimmed := strings.TrimSpace(req.TransactionID); trimmed != "" {
		gatewayTxnID = &trimmed
	}

	var outcome settlementOutcome
	err := s.repo.RunInTx(ctx, func(repo store.Repository) error {
		txn, err := repo.LockPaymentTransaction(ctx, paymentID)
		if err != nil {
			return err
		}
		outcome = settlementOutcome{txn: txn, result: domain.SettlementResult{PaymentID: txn.PaymentID, Status: txn.Status, DonationID: txn.DonationID}}

		if txn.Status.Terminal() && txn.Status != status {
			outcome.result.Ignored = true
			log.Printf("level=warn component=payments op=webhook payment_id=%s current_status=%s requested_status=%s msg=\"terminal payment; transition ignored\"", paymentID, txn.Status, status)
			return nil
		}

		if txn.Status != status || gatewayTxnID != nil || len(req.GatewayResponse) > 0 {
			params := store.UpdatePaymentStatusParams{
				PaymentID:       paymentID,
				Status:          status,
				TransactionID:   gatewayTxnID,
				GatewayResponse: mergeGatewayResponse(txn.GatewayResponse, req.GatewayResponse),
				VerifiedAt:      nil,
			}
			if status == domain.PaymentStatusSuccess {
				verifiedAt := s.now().UTC()
				if txn.VerifiedAt != nil {
					verifiedAt = *txn.VerifiedAt
				}
				params.VerifiedAt = &verifiedAt
			}
			if err := repo.UpdatePaymentStatus(ctx, params); err != nil {
				return err
			}
			outcome.statusChanged = txn.Status != status
			txn.Status = status
			txn.GatewayResponse = params.GatewayResponse
			txn.VerifiedAt = params.VerifiedAt
			if gatewayTxnID != nil {
				txn.TransactionID = gatewayTxnID
			}
			outcome.result.Status = status
		}

		if status == domain.PaymentStatusSuccess {
			return s.settleLocked(ctx, repo, txn, &outcome)
		}
		return nil
	})
	if err != nil {
		return nil, s.settlementError("apply gateway status", err)
	}

	s.publishSettlement(ctx, &outcome, via)
	return &outcome.result, nil
}

// VerifyPayment is the user-confirmed fallback for gateways without callbacks. A
// confirmation settles a pending payment on the caller's word alone; without
// confirmation the current status is returned unchanged.
func (s *PaymentService) VerifyPayment(ctx context.Context, req domain.VerifyPaymentRequest) (*domain.SettlementResult, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, newValidationError("payment_id", "Payment ID is required")
	}

	if !req.UserConfirmed {
		txn, err := s.repo.GetPaymentTransaction(ctx, paymentID)
		if err != nil {
			return nil, s.settlementError("load payment transaction", err)
		}
		return &domain.SettlementResult{PaymentID: txn.PaymentID, Status: txn.Status, DonationID: txn.DonationID}, nil
	}

	var outcome settlementOutcome
	err := s.repo.RunInTx(ctx, func(repo store.Repository) error {
		txn, err := repo.LockPaymentTransaction(ctx, paymentID)
		if err != nil {
			return err
		}
		outcome = settlementOutcome{txn: txn, result: domain.SettlementResult{PaymentID: txn.PaymentID, Status: txn.Status, DonationID: txn.DonationID}}

		switch txn.Status {
		case domain.PaymentStatusFailed:
			return nil
		case domain.PaymentStatusPending:
			verifiedAt := s.now().UTC()
			response := mergeGatewayResponse(txn.GatewayResponse, map[string]interface{}{"verification": "user_confirmed"})
			if err := repo.UpdatePaymentStatus(ctx, store.UpdatePaymentStatusParams{
				PaymentID:       paymentID,
				Status:          domain.PaymentStatusSuccess,
				GatewayResponse: response,
				VerifiedAt:      &verifiedAt,
			}); err != nil {
				return err
			}
			txn.Status = domain.PaymentStatusSuccess
			txn.GatewayResponse = response
			txn.VerifiedAt = &verifiedAt
			outcome.statusChanged = true
			outcome.result.Status = domain.PaymentStatusSuccess
		}
		return s.settleLocked(ctx, repo, txn, &outcome)
	})
	if err != nil {
		return nil, s.settlementError("verify payment", err)
	}

	if outcome.statusChanged {
		log.Printf("level=warn component=payments op=verify payment_id=%s msg=\"payment settled on user confirmation without gateway proof\"", paymentID)
	}
	s.publishSettlement(ctx, &outcome, settledViaVerification)
	return &outcome.result, nil
}

// settleLocked creates the donation and receipt for a successful transaction and
// back-fills the donation id. It must run inside the transaction holding the row lock.
func (s *PaymentService) settleLocked(ctx context.Context, repo store.Repository, txn *domain.PaymentTransaction, outcome *settlementOutcome) error {
	if txn.DonationID != nil && *txn.DonationID != "" {
		outcome.result.AlreadySettled = true
		outcome.result.DonationID = txn.DonationID
		if receipt, err := repo.GetReceiptByDonationID(ctx, *txn.DonationID); err == nil {
			outcome.result.ReceiptNumber = &receipt.ReceiptNumber
		}
		return nil
	}

	donation := donationFromTransaction(txn)
	if err := repo.CreateDonation(ctx, donation); err != nil {
		return err
	}

	receipt := &domain.Receipt{
		ID:            uuid.NewString(),
		DonationID:    donation.ID,
		ReceiptNumber: generateReceiptNumber(s.now(), donation.ID),
	}
	if err := repo.CreateReceipt(ctx, receipt); err != nil {
		return err
	}
	if err := repo.LinkPaymentDonation(ctx, txn.PaymentID, donation.ID); err != nil {
		return err
	}

	txn.DonationID = &donation.ID
	outcome.donation = donation
	outcome.receiptNumber = receipt.ReceiptNumber
	outcome.result.DonationID = &donation.ID
	outcome.result.ReceiptNumber = &receipt.ReceiptNumber
	return nil
}

func (s *PaymentService) publishSettlement(ctx context.Context, outcome *settlementOutcome, via string) {
	if outcome.txn == nil {
		return
	}
	if outcome.statusChanged {
		log.Printf("level=info component=payments op=status_update payment_id=%s status=%s via=%s", outcome.txn.PaymentID, outcome.txn.Status, via)
		s.events.Publish(ctx, domain.EventPaymentStatusUpdated, s.paymentEvent(outcome.txn))
	}
	if outcome.donation != nil {
		log.Printf("level=info component=payments op=settle outcome=settled payment_id=%s donation_id=%s receipt_number=%s via=%s", outcome.txn.PaymentID, outcome.donation.ID, outcome.receiptNumber, via)
		s.events.Publish(ctx, domain.EventDonationSettled, domain.DonationSettledEvent{
			DonationID:    outcome.donation.ID,
			PaymentID:     outcome.txn.PaymentID,
			CampaignID:    outcome.donation.CampaignID,
			Amount:        outcome.donation.Amount,
			ReceiptNumber: outcome.receiptNumber,
			SettledVia:    via,
			Timestamp:     s.now().UTC(),
		})
	}
}

func (s *PaymentService) settlementError(op string, err error) error {
	var validationErr *ValidationError
	switch {
	case errors.Is(err, store.ErrPaymentNotFound):
		return ErrNotFound
	case errors.As(err, &validationErr):
		return err
	default:
		return upstream(op, err)
	}
}

// donationFromTransaction builds the donation, pulling donor metadata back out of the
// gateway response stored at initiation.
func donationFromTransaction(txn *domain.PaymentTransaction) *domain.Donation {
	isAnonymous, _ := txn.GatewayResponse[domain.MetaIsAnonymous].(bool)
	donorName, _ := txn.GatewayResponse[domain.MetaDonorName].(string)
	donorName = strings.TrimSpace(donorName)
	if isAnonymous || donorName == "" {
		donorName = domain.AnonymousDonorName
	}

	var message *string
	if raw, ok := txn.GatewayResponse[domain.MetaMessage].(string); ok && strings.TrimSpace(raw) != "" {
		trimmed := strings.TrimSpace(raw)
		message = &trimmed
	}

	return &domain.Donation{
		ID:                   uuid.NewString(),
		CampaignID:           txn.CampaignID,
		UserID:               txn.UserID,
		Amount:               txn.Amount,
		DonorName:            donorName,
		IsAnonymous:          isAnonymous,
		Message:              message,
		PaymentMethod:        txn.Gateway,
		PaymentID:            txn.PaymentID,
		PaymentTransactionID: txn.ID,
	}
}

// mergeGatewayResponse overlays incoming gateway fields on the stored payload while
// keeping the donor metadata written at initiation.
func mergeGatewayResponse(stored, incoming map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(stored)+len(incoming))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range incoming {
		switch k {
		case domain.MetaDonorName, domain.MetaMessage, domain.MetaIsAnonymous:
			continue
		}
		merged[k] = v
	}
	return merged
}

func normalizePaymentStatus(raw string) (domain.PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "successful", "succeeded", "captured", "paid", "completed":
		return domain.PaymentStatusSuccess, true
	case "failed", "failure", "declined", "cancelled", "canceled":
		return domain.PaymentStatusFailed, true
	case "pending", "processing", "created", "authorized":
		return domain.PaymentStatusPending, true
	default:
		return "", false
	}
}
