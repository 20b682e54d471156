package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginThrottle counts failed logins per email in redis and blocks further
// attempts once the window limit is hit. It is optional wiring: when no redis
// address is configured the handlers run without one and every login attempt
// stays independent.
type LoginThrottle struct {
	redisdb *redis.Client
	max     int
	window  time.Duration
}

type Config struct {
	Addr        string
	Password    string
	DB          int
	MaxFailures int
	Window      time.Duration
}

func New(cfg Config) *LoginThrottle {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	max := cfg.MaxFailures

	if max <= 0 {
		max = 10
	}

	window := cfg.Window

	if window <= 0 {
		window = 5 * time.Minute
	}

	return &LoginThrottle{
		redisdb: redisdb,
		max:     max,
		window:  window,
	}
}

// this ping function checks redis connectivity

func (t *LoginThrottle) Ping(ctx context.Context) error {
	return t.redisdb.Ping(ctx).Err()
}

// this closes the client

func (t *LoginThrottle) Close() error {
	return t.redisdb.Close()
}

func key(email string) string {
	return "login_fail:" + email
}

// Blocked reports whether this email has exhausted its failure budget.
// Redis trouble fails open: a broken counter must not lock everybody out.
func (t *LoginThrottle) Blocked(ctx context.Context, email string) bool {
	n, err := t.redisdb.Get(ctx, key(email)).Int()

	if err != nil {
		return false
	}

	return n >= t.max
}

func (t *LoginThrottle) RecordFailure(ctx context.Context, email string) error {
	pipe := t.redisdb.TxPipeline()

	pipe.Incr(ctx, key(email))
	pipe.ExpireNX(ctx, key(email), t.window)

	_, err := pipe.Exec(ctx)

	return err
}

// Reset clears the counter after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, email string) error {
	return t.redisdb.Del(ctx, key(email)).Err()
}
