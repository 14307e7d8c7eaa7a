package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/parivartan/core-service/internal/app"
	"github.com/parivartan/core-service/internal/domain"
	"github.com/parivartan/core-service/internal/store/storetest"
	"github.com/parivartan/core-service/pkg/authprovider"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "test-jwt-secret-with-enough-entropy"
	testWebhookSecret = "whsec_test"
	testCampaignID    = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"

	superAdminID = "11111111-1111-1111-1111-111111111111"
	adminID      = "22222222-2222-2222-2222-222222222222"
	memberID     = "33333333-3333-3333-3333-333333333333"
)

type stubProvider struct {
	mu      sync.Mutex
	deleted []string
}

func (p *stubProvider) CreateUser(ctx context.Context, email, password, fullName string) (*authprovider.User, error) {
	return &authprovider.User{ID: uuid.NewString(), Email: email}, nil
}

func (p *stubProvider) DeleteUser(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, userID)
	return nil
}

type stubLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (l *stubLimiter) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[scope+":"+subject]++
	return l.counts[scope+":"+subject], 42, nil
}

type testServer struct {
	repo    *storetest.MemoryRepository
	handler http.Handler
}

func newTestServer(t *testing.T, paymentLimit int) *testServer {
	t.Helper()
	repo := storetest.NewMemoryRepository()
	repo.AddUser(superAdminID, "root@miet.ac.in", "Root User", domain.RoleSuperAdmin)
	repo.AddUser(adminID, "admin@miet.ac.in", "Admin User", domain.RoleAdmin)
	repo.AddUser(memberID, "member@miet.ac.in", "Member User", domain.RoleMember)
	repo.AddCampaign(domain.Campaign{ID: testCampaignID, Title: "Flood Relief", UPIID: "relief@upi"})

	events := app.NewEventPublisher(nil, "parivartan.events")
	admin := app.NewAdminService(repo, &stubProvider{}, app.NewUserValidator("miet.ac.in"), events)
	twoFactor := app.NewTwoFactorService(repo, "PARIVARTAN")
	payments := app.NewPaymentService(repo, events)
	if paymentLimit > 0 {
		payments.SetRateLimiter(&stubLimiter{counts: map[string]int{}}, paymentLimit)
	}

	verifier := NewTokenVerifier(AuthConfig{JWTSecret: testJWTSecret, ExpectedAudience: "authenticated"})
	h := NewHandler(admin, twoFactor, payments, testWebhookSecret)
	return &testServer{repo: repo, handler: NewRouter(h, verifier, []string{"*"})}
}

func mintToken(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"aud":   "authenticated",
		"email": "user@miet.ac.in",
		"exp":   time.Now().Add(expiresIn).Unix(),
		"iat":   time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateUser_SuperAdminThenForbiddenForMember(t *testing.T) {
	s := newTestServer(t, 0)
	body := map[string]string{
		"email":     "new.student@miet.ac.in",
		"password":  "correct-horse",
		"full_name": "New Student",
		"role":      "member",
	}

	rec := s.do(t, http.MethodPost, "/admin/users", mintToken(t, superAdminID, time.Hour), body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	assert.Equal(t, "new.student@miet.ac.in", created["email"])
	assert.Equal(t, "member", created["role"])
	assert.NotEmpty(t, created["user_id"])
	assert.Len(t, s.repo.RoleRows(created["user_id"].(string)), 1)

	body["email"] = "second@miet.ac.in"
	rec = s.do(t, http.MethodPost, "/admin/users", mintToken(t, memberID, time.Hour), body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden: insufficient permissions", decodeBody(t, rec)["error"])
}

func TestCreateUser_ValidationMessage(t *testing.T) {
	s := newTestServer(t, 0)
	body := map[string]string{"email": "someone@gmail.com", "password": "correct-horse", "full_name": "Some One"}

	rec := s.do(t, http.MethodPost, "/admin/users", mintToken(t, superAdminID, time.Hour), body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email must be a @miet.ac.in address", decodeBody(t, rec)["error"])
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/me/role", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing authorization header", decodeBody(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/me/role", "not-a-jwt", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeBody(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/me/role", mintToken(t, memberID, -time.Hour), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/payments/initiate", "garbage", map[string]interface{}{"campaign_id": testCampaignID, "amount": 10}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a present but invalid token is rejected on optional routes")
}

func TestGetMyRole(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/me/role", mintToken(t, adminID, time.Hour), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", decodeBody(t, rec)["role"])

	rec = s.do(t, http.MethodGet, "/me/role", mintToken(t, uuid.NewString(), time.Hour), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "viewer", decodeBody(t, rec)["role"])
}

func TestSetUserRoleAndDeleteUser(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPut, "/admin/users/"+memberID+"/role", mintToken(t, adminID, time.Hour), map[string]string{"role": "admin"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "admin", decodeBody(t, rec)["role"])

	rec = s.do(t, http.MethodPut, "/admin/users/"+superAdminID+"/role", mintToken(t, adminID, time.Hour), map[string]string{"role": "viewer"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/admin/users/"+uuid.NewString()+"/role", mintToken(t, adminID, time.Hour), map[string]string{"role": "member"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeBody(t, rec)["error"])

	rec = s.do(t, http.MethodDelete, "/admin/users/"+memberID, mintToken(t, adminID, time.Hour), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/admin/users/"+memberID, mintToken(t, superAdminID, time.Hour), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["deleted"])
	assert.False(t, s.repo.HasProfile(memberID))
}

func TestListUsers(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/admin/users", mintToken(t, adminID, time.Hour), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users, ok := decodeBody(t, rec)["users"].([]interface{})
	require.True(t, ok)
	assert.Len(t, users, 3)
}

func TestTwoFactorFlow(t *testing.T) {
	s := newTestServer(t, 0)
	token := mintToken(t, memberID, time.Hour)

	rec := s.do(t, http.MethodPost, "/2fa/setup", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	setup := decodeBody(t, rec)
	secret := setup["secret"].(string)
	assert.Len(t, setup["recovery_codes"], 8)

	rec = s.do(t, http.MethodPost, "/2fa/verify", token, map[string]string{"token": "000000", "secret": "JBSWY3DPEHPK3PXP"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid verification code", decodeBody(t, rec)["error"])

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/2fa/verify", token, map[string]string{"token": code, "secret": secret}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["enabled"])

	rec = s.do(t, http.MethodGet, "/2fa/status", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["enabled"])

	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/2fa/verify", token, map[string]string{"token": code, "secret": secret}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Two-factor authentication is already enabled", decodeBody(t, rec)["error"])

	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/2fa/disable", token, map[string]string{"token": code}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decodeBody(t, rec)["enabled"])
}

func TestPaymentFlow_WebhookSettlesAndReceiptIsReadable(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/payments/initiate", "", map[string]interface{}{
		"campaign_id":  testCampaignID,
		"amount":       500,
		"donor_name":   "Asha Verma",
		"is_anonymous": false,
		"gateway":      "upi",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	initiation := decodeBody(t, rec)
	paymentID := initiation["payment_id"].(string)
	assert.True(t, strings.HasPrefix(initiation["upi_url"].(string), "upi://pay?pa=relief%40upi&pn=Flood%20Relief&am=500&cu=INR"))

	webhook, err := json.Marshal(map[string]interface{}{
		"payment_id":       paymentID,
		"transaction_id":   "UPI-991",
		"status":           "success",
		"gateway_response": map[string]interface{}{"rrn": 991},
	})
	require.NoError(t, err)

	rec = s.do(t, http.MethodPost, "/payments/webhook", "", webhook, map[string]string{webhookSignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	signature := signBody(t, []byte(testWebhookSecret), webhook)
	rec = s.do(t, http.MethodPost, "/payments/webhook", "", webhook, map[string]string{webhookSignatureHeader: signature})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decodeBody(t, rec)
	assert.Equal(t, "success", settled["status"])
	donationID := settled["donation_id"].(string)
	receiptNumber := settled["receipt_number"].(string)

	rec = s.do(t, http.MethodPost, "/payments/webhook", "", webhook, map[string]string{webhookSignatureHeader: "sha256=" + signature})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["already_settled"])
	assert.Len(t, s.repo.Donations(), 1)

	rec = s.do(t, http.MethodGet, "/payments/"+paymentID, "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody(t, rec)
	assert.Equal(t, "success", view["status"])
	assert.Equal(t, donationID, view["donation_id"])
	assert.NotEmpty(t, view["verified_at"])

	rec = s.do(t, http.MethodGet, "/donations/"+donationID+"/receipt", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, receiptNumber, decodeBody(t, rec)["receipt_number"])
}

func TestPaymentFlow_UserConfirmationForAuthenticatedDonor(t *testing.T) {
	s := newTestServer(t, 0)
	token := mintToken(t, memberID, time.Hour)

	rec := s.do(t, http.MethodPost, "/payments/initiate", token, map[string]interface{}{"campaign_id": testCampaignID, "amount": 150}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paymentID := decodeBody(t, rec)["payment_id"].(string)

	txn, ok := s.repo.Payment(paymentID)
	require.True(t, ok)
	require.NotNil(t, txn.UserID)
	assert.Equal(t, memberID, *txn.UserID)

	rec = s.do(t, http.MethodPost, "/payments/verify", token, map[string]interface{}{"payment_id": paymentID, "user_confirmed": false}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decodeBody(t, rec)["status"])

	rec = s.do(t, http.MethodPost, "/payments/verify", token, map[string]interface{}{"payment_id": paymentID, "user_confirmed": true}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody(t, rec)
	assert.Equal(t, "success", result["status"])
	assert.NotEmpty(t, result["receipt_number"])
}

func TestPaymentErrors(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/payments/initiate", "", map[string]interface{}{"campaign_id": testCampaignID, "amount": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Amount must be greater than zero", decodeBody(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/payments/initiate", "", map[string]interface{}{"campaign_id": uuid.NewString(), "amount": 10}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/payments/initiate", "", "{broken", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeBody(t, rec)["error"])

	webhook := []byte(`{"payment_id":"PAY-0-missing","status":"success"}`)
	rec = s.do(t, http.MethodPost, "/payments/webhook", "", webhook, map[string]string{webhookSignatureHeader: signBody(t, []byte(testWebhookSecret), webhook)})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/payments/PAY-0-missing", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentInitiate_RateLimited(t *testing.T) {
	s := newTestServer(t, 1)
	body := map[string]interface{}{"campaign_id": testCampaignID, "amount": 10}

	rec := s.do(t, http.MethodPost, "/payments/initiate", "", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/payments/initiate", "", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
}

func TestCORSAndOptions(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodOptions, "/admin/users", "", nil, map[string]string{
		"Origin":                        "https://app.example",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.String())

	rec = s.do(t, http.MethodOptions, "/payments/initiate", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health", "", nil, map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
