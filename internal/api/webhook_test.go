package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signBody(t *testing.T, secret, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"payment_id":"PAY-1-abc","status":"success"}`)
	signature := signBody(t, secret, body)

	assert.True(t, verifyWebhookSignature(secret, body, signature))
	assert.True(t, verifyWebhookSignature(secret, body, "sha256="+signature))
	assert.False(t, verifyWebhookSignature(secret, body, ""))
	assert.False(t, verifyWebhookSignature(secret, body, "zz-not-hex"))
	assert.False(t, verifyWebhookSignature([]byte("other"), body, signature))
	assert.False(t, verifyWebhookSignature(secret, append(body, ' '), signature))
}

func TestDecodeWebhookRequest(t *testing.T) {
	req, err := decodeWebhookRequest([]byte(`{"payment_id":"PAY-1-abc","transaction_id":"T1","status":"success","gateway_response":{"amount":500}}`))
	require.NoError(t, err)
	assert.Equal(t, "PAY-1-abc", req.PaymentID)
	assert.Equal(t, "success", req.Status)
	assert.Equal(t, "500", req.GatewayResponse["amount"].(interface{ String() string }).String())

	_, err = decodeWebhookRequest([]byte(`not json`))
	assert.Error(t, err)
}
