package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parivartan/core-service/pkg/authprovider"
)

type fakeIdentityProvider struct {
	mu          sync.Mutex
	createErr   error
	deleteErr   error
	created     []string
	deleted     []string
	nextUserIDs []string
}

func (p *fakeIdentityProvider) CreateUser(ctx context.Context, email, password, fullName string) (*authprovider.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	id := uuid.NewString()
	if len(p.nextUserIDs) > 0 {
		id, p.nextUserIDs = p.nextUserIDs[0], p.nextUserIDs[1:]
	}
	p.created = append(p.created, email)
	return &authprovider.User{ID: id, Email: email}, nil
}

func (p *fakeIdentityProvider) DeleteUser(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deleted = append(p.deleted, userID)
	return nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	raw, _ := json.Marshal(body)
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: raw})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

func (p *recordingPublisher) count(routingKey string) int {
	n := 0
	for _, key := range p.routingKeys() {
		if key == routingKey {
			n++
		}
	}
	return n
}

// countingLimiter is an in-process fixed window keyed by scope and subject.
type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func newCountingLimiter() *countingLimiter {
	return &countingLimiter{counts: map[string]int{}}
}

func (l *countingLimiter) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, 0, l.err
	}
	key := scope + ":" + subject
	l.counts[key]++
	return l.counts[key], int(window.Seconds()), nil
}
