/**
 * @description
 * HTTP handlers for the core service. Handlers decode the request, resolve the
 * caller from context and delegate to the application services; every failure is
 * rendered through writeServiceError so status codes stay uniform.
 */
package api

import (
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/parivartan/core-service/internal/app"
	"github.com/parivartan/core-service/internal/domain"
)

// Handler holds the application services that handlers interact with.
type Handler struct {
	admin         *app.AdminService
	twoFactor     *app.TwoFactorService
	payments      *app.PaymentService
	webhookSecret []byte
}

// NewHandler creates a new Handler. An empty webhookSecret disables signature checks.
func NewHandler(admin *app.AdminService, twoFactor *app.TwoFactorService, payments *app.PaymentService, webhookSecret string) *Handler {
	h := &Handler{admin: admin, twoFactor: twoFactor, payments: payments}
	if secret := strings.TrimSpace(webhookSecret); secret != "" {
		h.webhookSecret = []byte(secret)
	} else {
		log.Println("level=warn component=api msg=\"payment webhook secret not configured; signatures are not verified\"")
	}
	return h
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req domain.CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.admin.CreateUser(r.Context(), caller, req)
	if err != nil {
		writeServiceError(w, "create_user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	users, err := h.admin.ListUsers(r.Context(), caller)
	if err != nil {
		writeServiceError(w, "list_users", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (h *Handler) handleSetUserRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req domain.SetUserRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	assignment, err := h.admin.SetUserRole(r.Context(), caller, chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		writeServiceError(w, "set_user_role", err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	deletion, err := h.admin.DeleteUser(r.Context(), caller, chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, "delete_user", err)
		return
	}
	writeJSON(w, http.StatusOK, deletion)
}

func (h *Handler) handleGetMyRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	role, err := h.admin.CallerRole(r.Context(), caller)
	if err != nil {
		writeServiceError(w, "get_my_role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": caller.ID, "role": role.String()})
}

func (h *Handler) handleSetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	setup, err := h.twoFactor.Setup(r.Context(), caller)
	if err != nil {
		writeServiceError(w, "2fa_setup", err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (h *Handler) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req domain.VerifyTwoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status, err := h.twoFactor.Verify(r.Context(), caller, req)
	if err != nil {
		writeServiceError(w, "2fa_verify", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req domain.DisableTwoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status, err := h.twoFactor.Disable(r.Context(), caller, req)
	if err != nil {
		writeServiceError(w, "2fa_disable", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleTwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	status, err := h.twoFactor.Status(r.Context(), caller)
	if err != nil {
		writeServiceError(w, "2fa_status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.InitiatePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	caller, _ := GetPrincipal(r.Context())
	initiation, err := h.payments.InitiatePayment(r.Context(), caller, clientAddress(r), req)
	if err != nil {
		writeServiceError(w, "payment_initiate", err)
		return
	}
	writeJSON(w, http.StatusOK, initiation)
}

func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readWebhookBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if h.webhookSecret != nil && !verifyWebhookSignature(h.webhookSecret, body, r.Header.Get(webhookSignatureHeader)) {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=rejected reason=signature_mismatch remote=%s", clientAddress(r))
		writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	req, err := decodeWebhookRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.payments.HandleWebhook(r.Context(), req)
	if err != nil {
		writeServiceError(w, "payment_webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.payments.VerifyPayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, "payment_verify", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.payments.GetPayment(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeServiceError(w, "get_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.payments.GetReceipt(r.Context(), chi.URLParam(r, "donationID"))
	if err != nil {
		writeServiceError(w, "get_receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// clientAddress identifies anonymous callers for rate limiting. RealIP middleware
// has already folded proxy headers into RemoteAddr.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
