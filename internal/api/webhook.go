package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/parivartan/core-service/internal/domain"
)

const webhookSignatureHeader = "X-Webhook-Signature"

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
}

// verifyWebhookSignature checks a hex HMAC-SHA256 of the raw body. A "sha256=" prefix is accepted.
func verifyWebhookSignature(secret, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "sha256=")
	if header == "" {
		return false
	}
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

func decodeWebhookRequest(body []byte) (domain.PaymentWebhookRequest, error) {
	var req domain.PaymentWebhookRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	err := decoder.Decode(&req)
	return req, err
}
