package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/collector/internal/core/domain"
)

// Client wraps Redis operations shared across collector instances.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	AlertTTL time.Duration `yaml:"alert_ttl"`

	DeadLetterTTL time.Duration `yaml:"dead_letter_ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func retryLockKey(transactionID string) string {
	return fmt.Sprintf("retry_lock:%s", transactionID)
}

func alertKey(transactionID string, reason domain.AlertReason) string {
	return fmt.Sprintf("alert:%s:%s", transactionID, reason)
}

// unlockScript deletes the lock only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock attempts to acquire the retry lock for a transaction on behalf of owner.
func (c *Client) TryLock(ctx context.Context, transactionID, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, retryLockKey(transactionID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Unlock releases the retry lock if owner still holds it.
func (c *Client) Unlock(ctx context.Context, transactionID, owner string) error {
	if err := unlockScript.Run(ctx, c.rdb, []string{retryLockKey(transactionID)}, owner).Err(); err != nil {
		return fmt.Errorf("unlock failed: %w", err)
	}
	return nil
}

// AlertLedger implements storage.AlertLedger on Redis so that alert
// suppression is shared by every collector replica.
type AlertLedger struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAlertLedger creates a ledger whose entries expire after ttl (0 keeps them).
func NewAlertLedger(client *Client, ttl time.Duration) *AlertLedger {
	return &AlertLedger{rdb: client.rdb, ttl: ttl}
}

// MarkRaised records the alert and reports whether it was new.
func (l *AlertLedger) MarkRaised(ctx context.Context, transactionID string, reason domain.AlertReason) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, alertKey(transactionID, reason), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}
