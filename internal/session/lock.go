package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"biosummit.app/concierge/common/logger"
)

const lockKeyPrefix = "lock:"

// ErrLockHeld is returned when another worker currently owns the
// conversation.
var ErrLockHeld = errors.New("conversation lock held")

// releaseScript deletes the lock only if the stored token still belongs to
// this holder, so a holder whose lease expired and was reacquired elsewhere
// never deletes the new owner's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while this holder still owns the key.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Locker grants exclusive, renewable, time-bounded ownership of a
// conversation. Absence of the key means the conversation is free; the lease
// TTL is the safety net against a crashed holder.
type Locker struct {
	client *redis.Client
	lease  time.Duration
}

func NewLocker(client *redis.Client, lease time.Duration) *Locker {
	return &Locker{client: client, lease: lease}
}

// Acquire attempts to take the conversation lock. On contention it returns
// ErrLockHeld. On success the returned Lease renews itself in the background
// at half the lease duration until released.
func (l *Locker) Acquire(ctx context.Context, conversationID string) (*Lease, error) {
	token := uuid.NewString()
	key := lockKeyPrefix + conversationID

	ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring conversation lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	lease := &Lease{
		client: l.client,
		key:    key,
		token:  token,
		ttl:    l.lease,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go lease.renewLoop()

	return lease, nil
}

// Lease is a held conversation lock.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func (le *Lease) renewLoop() {
	defer close(le.doneCh)

	ticker := time.NewTicker(le.ttl / 2)
	defer ticker.Stop()

	ctx := logger.WithLogFields(context.Background(), logger.LogFields{
		Component: "concierge.session.lock",
	})

	for {
		select {
		case <-le.stopCh:
			return
		case <-ticker.C:
			// Renewal failures must not abort in-flight work; the lease
			// expiring is the worst case and the lock heals itself.
			res, err := renewScript.Run(ctx, le.client, []string{le.key}, le.token, le.ttl.Milliseconds()).Int()
			if err != nil {
				slog.WarnContext(ctx, "lock renewal failed", "key", le.key, "error", err)
			} else if res == 0 {
				slog.WarnContext(ctx, "lock no longer held, renewal skipped", "key", le.key)
			}
		}
	}
}

// Release stops renewal and deletes the lock if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	close(le.stopCh)
	<-le.doneCh

	if _, err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Result(); err != nil {
		return fmt.Errorf("releasing conversation lock: %w", err)
	}
	return nil
}
