package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	obsmetrics "github.com/smallbiznis/gymdesk/internal/observability/metrics"
)

const keyPaymentLock = "webhook:payments:lock:%s"

// Deletes the key only while it still carries the caller's token.
const paymentUnlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	errNoLockStore    = errors.New("payment lock store not configured")
	errEmptyPaymentID = errors.New("gateway payment id is empty")
	errNonPositiveTTL = errors.New("payment lock ttl must be positive")
)

type lockStore interface {
	setNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	unlock(ctx context.Context, key, token string) error
}

type redisLockStore struct {
	client *redis.Client
	script *redis.Script
}

func (s redisLockStore) setNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, token, ttl).Result()
}

func (s redisLockStore) unlock(ctx context.Context, key, token string) error {
	return s.script.Run(ctx, s.client, []string{key}, token).Err()
}

// PaymentLock is held while one delivery of a gateway payment is processed.
// Redeliveries arriving at another replica see it busy and back off.
type PaymentLock struct {
	store   lockStore
	ttl     time.Duration
	metrics *obsmetrics.ReconcileMetrics
}

// PaymentLease proves ownership of a gateway payment lock.
type PaymentLease struct {
	GatewayPaymentID string
	token            string
}

func NewPaymentLock(client *redis.Client, ttl time.Duration, metrics *obsmetrics.ReconcileMetrics) *PaymentLock {
	if client == nil {
		return nil
	}
	return newPaymentLock(redisLockStore{client: client, script: redis.NewScript(paymentUnlockScript)}, ttl, metrics)
}

func newPaymentLock(store lockStore, ttl time.Duration, metrics *obsmetrics.ReconcileMetrics) *PaymentLock {
	return &PaymentLock{store: store, ttl: ttl, metrics: metrics}
}

// Acquire returns a nil lease without error when another delivery holds the lock.
func (l *PaymentLock) Acquire(ctx context.Context, gatewayPaymentID string) (*PaymentLease, error) {
	if l == nil || l.store == nil {
		return nil, errNoLockStore
	}
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)
	if gatewayPaymentID == "" {
		return nil, errEmptyPaymentID
	}
	if l.ttl <= 0 {
		return nil, errNonPositiveTTL
	}

	token := uuid.NewString()
	ok, err := l.store.setNX(ctx, fmt.Sprintf(keyPaymentLock, gatewayPaymentID), token, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		l.metrics.IncLockBusy(obsmetrics.LockResourcePayment)
		return nil, nil
	}
	return &PaymentLease{GatewayPaymentID: gatewayPaymentID, token: token}, nil
}

func (l *PaymentLock) Release(ctx context.Context, lease *PaymentLease) error {
	if l == nil || l.store == nil || lease == nil {
		return nil
	}
	return l.store.unlock(ctx, fmt.Sprintf(keyPaymentLock, lease.GatewayPaymentID), lease.token)
}
