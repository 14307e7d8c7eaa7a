package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/parivartan/core-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayEventBody(t *testing.T, event domain.GatewayStatusEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func TestPaymentStatusConsumer_SettlesLikeWebhook(t *testing.T) {
	f := newPaymentFixture()
	initiation := f.initiate(t, domain.InitiatePaymentRequest{CampaignID: testCampaignID, Amount: 300})
	consumer := NewPaymentStatusConsumer(f.service)

	body := gatewayEventBody(t, domain.GatewayStatusEvent{PaymentID: initiation.PaymentID, TransactionID: "pay_Rzp123", Status: "captured"})
	assert.True(t, consumer.HandleMessage(body))
	assert.True(t, consumer.HandleMessage(body), "redelivery is acknowledged")

	txn, _ := f.repo.Payment(initiation.PaymentID)
	assert.Equal(t, domain.PaymentStatusSuccess, txn.Status)
	assert.Len(t, f.repo.Donations(), 1)
}

func TestPaymentStatusConsumer_AcknowledgesUnprocessable(t *testing.T) {
	f := newPaymentFixture()
	consumer := NewPaymentStatusConsumer(f.service)

	assert.True(t, consumer.HandleMessage([]byte("{not json")))
	assert.True(t, consumer.HandleMessage(gatewayEventBody(t, domain.GatewayStatusEvent{Status: "success"})))
	assert.True(t, consumer.HandleMessage(gatewayEventBody(t, domain.GatewayStatusEvent{PaymentID: "PAY-0-missing", Status: "success"})))

	initiation := f.initiate(t, domain.InitiatePaymentRequest{CampaignID: testCampaignID, Amount: 300})
	assert.True(t, consumer.HandleMessage(gatewayEventBody(t, domain.GatewayStatusEvent{PaymentID: initiation.PaymentID, Status: "bogus"})))
}

func TestPaymentStatusConsumer_RetriesStoreFailures(t *testing.T) {
	f := newPaymentFixture()
	initiation := f.initiate(t, domain.InitiatePaymentRequest{CampaignID: testCampaignID, Amount: 300})
	f.repo.FailOn("LockPaymentTransaction", errors.New("connection refused"))
	consumer := NewPaymentStatusConsumer(f.service)

	assert.False(t, consumer.HandleMessage(gatewayEventBody(t, domain.GatewayStatusEvent{PaymentID: initiation.PaymentID, Status: "success"})))
}

func TestReportStalePendingPayments_PublishesOnlyOldPending(t *testing.T) {
	f := newPaymentFixture()
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)

	f.repo.AddPayment(domain.PaymentTransaction{PaymentID: "PAY-1-old", CampaignID: testCampaignID, Amount: 10, Gateway: "upi", Status: domain.PaymentStatusPending, CreatedAt: now.Add(-3 * time.Hour)})
	f.repo.AddPayment(domain.PaymentTransaction{PaymentID: "PAY-2-fresh", CampaignID: testCampaignID, Amount: 10, Gateway: "upi", Status: domain.PaymentStatusPending, CreatedAt: now.Add(-5 * time.Minute)})
	f.repo.AddPayment(domain.PaymentTransaction{PaymentID: "PAY-3-done", CampaignID: testCampaignID, Amount: 10, Gateway: "upi", Status: domain.PaymentStatusSuccess, CreatedAt: now.Add(-3 * time.Hour)})

	jobs := NewJobs(f.repo, NewEventPublisher(f.events, "parivartan.events"), slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	jobs.now = func() time.Time { return now }

	jobs.ReportStalePendingPayments()

	require.Equal(t, 1, f.events.count(domain.EventPaymentPendingStale))
	var event domain.PaymentEvent
	for _, e := range f.events.events {
		if e.routingKey == domain.EventPaymentPendingStale {
			require.NoError(t, json.Unmarshal(e.body, &event))
		}
	}
	assert.Equal(t, "PAY-1-old", event.PaymentID)

	txn, _ := f.repo.Payment("PAY-1-old")
	assert.Equal(t, domain.PaymentStatusPending, txn.Status, "the report never changes status")
}

func TestReportStalePendingPayments_StoreErrorPublishesNothing(t *testing.T) {
	f := newPaymentFixture()
	f.repo.FailOn("ListStalePendingPayments", errors.New("timeout"))

	jobs := NewJobs(f.repo, NewEventPublisher(f.events, "parivartan.events"), slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	jobs.ReportStalePendingPayments()

	assert.Zero(t, f.events.count(domain.EventPaymentPendingStale))
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	f := newPaymentFixture()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := NewJobs(f.repo, NewEventPublisher(f.events, "parivartan.events"), logger, time.Hour)

	assert.Error(t, NewScheduler(jobs, logger, "not a cron spec").Start())

	scheduler := NewScheduler(jobs, logger, "*/5 * * * *")
	require.NoError(t, scheduler.Start())
	<-scheduler.Stop().Done()
}

func TestEventPublisher_FailureIsSwallowed(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("channel closed")}
	events := NewEventPublisher(publisher, "parivartan.events")

	assert.NotPanics(t, func() {
		events.Publish(context.Background(), domain.EventUserCreated, domain.UserCreatedEvent{UserID: memberID})
	})

	var nilPublisher *EventPublisher
	assert.NotPanics(t, func() {
		nilPublisher.Publish(context.Background(), domain.EventUserCreated, nil)
	})
}

func TestRequirementSatisfiedBy(t *testing.T) {
	assert.True(t, RequireSuperAdminOnly.SatisfiedBy(domain.RoleSuperAdmin))
	assert.False(t, RequireSuperAdminOnly.SatisfiedBy(domain.RoleAdmin))
	assert.True(t, RequireAdminOrAbove.SatisfiedBy(domain.RoleAdmin))
	assert.True(t, RequireAdminOrAbove.SatisfiedBy(domain.RoleSuperAdmin))
	assert.False(t, RequireAdminOrAbove.SatisfiedBy(domain.RoleMember))
	assert.True(t, RequireAuthenticated.SatisfiedBy(domain.RoleViewer))
	assert.False(t, RequireAuthenticated.SatisfiedBy(domain.Role(0)))

	assert.Equal(t, RequireSuperAdminOnly, requirementForGrant(domain.RoleSuperAdmin))
	assert.Equal(t, RequireAdminOrAbove, requirementForGrant(domain.RoleAdmin))
	assert.Equal(t, RequireAdminOrAbove, requirementForGrant(domain.RoleMember))

	assert.Equal(t, "authenticated", RequireAuthenticated.String())
	assert.Equal(t, "admin_or_above", RequireAdminOrAbove.String())
	assert.Equal(t, "super_admin_only", RequireSuperAdminOnly.String())
}

func TestRedisRateLimiter_NoClientAllows(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "")
	assert.Equal(t, "parivartan:rate_limit", limiter.prefix)

	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), rateLimitScopeTwoFactor, memberID, 5, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, retryAfter)
}

func TestRedisRateLimiter_KeyLayout(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, " core:limits: ")

	key, ok := limiter.key(rateLimitScopePaymentInitiate, " 203.0.113.7 ")
	require.True(t, ok)
	assert.Equal(t, "core:limits:payment_initiate:203.0.113.7", key)

	_, ok = limiter.key(rateLimitScopeTwoFactor, "  ")
	assert.False(t, ok)
}
