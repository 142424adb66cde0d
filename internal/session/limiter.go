package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var (
	// ErrTooManyAttempts is returned when a sign-in is refused by the attempt limiter.
	ErrTooManyAttempts = errors.New("too many failed sign-in attempts, try again later")
	// ErrLimiterUnavailable wraps backend failures of the attempt limiter.
	ErrLimiterUnavailable = errors.New("attempt limiter unavailable")
)

// AttemptLimiter throttles failed sign-ins per email and per client IP.
// An empty ip skips the IP budget.
type AttemptLimiter interface {
	// Check returns ErrTooManyAttempts when either budget is exhausted.
	Check(ctx context.Context, email, ip string) error
	// RecordFailure consumes one attempt from each budget.
	RecordFailure(ctx context.Context, email, ip string) error
	// Reset restores both budgets after a successful sign-in.
	Reset(ctx context.Context, email, ip string) error
}

func emailKey(email string) string {
	return "signin:email:" + strings.ToLower(strings.TrimSpace(email))
}

func ipKey(ip string) string {
	return "signin:ip:" + ip
}

func limiterKeys(email, ip string) []string {
	keys := []string{emailKey(email)}
	if ip != "" {
		keys = append(keys, ipKey(ip))
	}
	return keys
}

// RedisLimiter is a fixed-window AttemptLimiter shared by every gateway replica.
type RedisLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	window      time.Duration
}

// NewRedisLimiter allows maxAttempts failures per window for each key.
func NewRedisLimiter(client redis.UniversalClient, maxAttempts int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		redis:       client,
		prefix:      "gatewayd:",
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Check implements AttemptLimiter.
func (l *RedisLimiter) Check(ctx context.Context, email, ip string) error {
	for _, key := range limiterKeys(email, ip) {
		count, err := l.redis.Get(ctx, l.prefix+key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
		if count >= int64(l.maxAttempts) {
			return ErrTooManyAttempts
		}
	}
	return nil
}

// RecordFailure implements AttemptLimiter.
func (l *RedisLimiter) RecordFailure(ctx context.Context, email, ip string) error {
	for _, key := range limiterKeys(email, ip) {
		if err := l.incrementWithTTL(ctx, l.prefix+key); err != nil {
			return err
		}
	}
	return nil
}

// Reset implements AttemptLimiter.
func (l *RedisLimiter) Reset(ctx context.Context, email, ip string) error {
	keys := limiterKeys(email, ip)
	for i := range keys {
		keys[i] = l.prefix + keys[i]
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}

func (l *RedisLimiter) incrementWithTTL(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}
	return nil
}

// MemoryLimiter is a process-local AttemptLimiter. Each key owns a token bucket of
// maxAttempts tokens refilled evenly over window; buckets live in a bounded LRU.
type MemoryLimiter struct {
	mu          sync.Mutex
	buckets     *lru.Cache[string, *rate.Limiter]
	maxAttempts int
	refill      rate.Limit
	now         func() time.Time
}

// NewMemoryLimiter tracks at most capacity keys.
func NewMemoryLimiter(maxAttempts int, window time.Duration, capacity int) (*MemoryLimiter, error) {
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if capacity <= 0 {
		capacity = 10000
	}

	buckets, err := lru.New[string, *rate.Limiter](capacity)
	if err != nil {
		return nil, fmt.Errorf("create limiter cache: %w", err)
	}

	return &MemoryLimiter{
		buckets:     buckets,
		maxAttempts: maxAttempts,
		refill:      rate.Every(window / time.Duration(maxAttempts)),
		now:         time.Now,
	}, nil
}

// Check implements AttemptLimiter.
func (l *MemoryLimiter) Check(_ context.Context, email, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, key := range limiterKeys(email, ip) {
		bucket, ok := l.buckets.Get(key)
		if ok && bucket.TokensAt(now) < 1 {
			return ErrTooManyAttempts
		}
	}
	return nil
}

// RecordFailure implements AttemptLimiter.
func (l *MemoryLimiter) RecordFailure(_ context.Context, email, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, key := range limiterKeys(email, ip) {
		bucket, ok := l.buckets.Get(key)
		if !ok {
			bucket = rate.NewLimiter(l.refill, l.maxAttempts)
			l.buckets.Add(key, bucket)
		}
		bucket.AllowN(now, 1)
	}
	return nil
}

// Reset implements AttemptLimiter.
func (l *MemoryLimiter) Reset(_ context.Context, email, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range limiterKeys(email, ip) {
		l.buckets.Remove(key)
	}
	return nil
}
