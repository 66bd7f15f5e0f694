package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"marketplace/internal/client"
	"marketplace/internal/util"
)

// Key prefixes, each suffixed by the email they restrict. TTL is the only
// eviction mechanism; there is no cleanup job.
const (
	otpPrefix         = "otp:"
	otpAttemptPrefix  = "otp_attempts:"
	otpRequestPrefix  = "otp_request_count:"
	otpLockPrefix     = "otp_lock:"
	otpSpamLockPrefix = "otp_spam_lock:"
	otpCooldownPrefix = "otp_cooldown:"
)

const opTimeout = 5 * time.Second

// OTPCache is the ephemeral state substrate for the OTP lifecycle: the live
// code, the failure counter, the send counter, and the three restriction
// flags.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(client *client.RedisClient) *OTPCache {
	return &OTPCache{client: client}
}

// SetCode stores the live code for an email, replacing any previous one.
func (c *OTPCache) SetCode(ctx context.Context, email, code string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, otpPrefix+email, code, ttl); err != nil {
		util.Error("Failed to set OTP in cache", zap.String("email", email), zap.Duration("ttl", ttl), zap.Error(err))
		return fmt.Errorf("failed to set OTP in cache: %w", err)
	}
	return nil
}

// GetCode returns the live code, or ("", false, nil) when none exists.
func (c *OTPCache) GetCode(ctx context.Context, email string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	code, err := c.client.Get(ctx, otpPrefix+email)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", false, nil
		}
		util.Error("Failed to get OTP from cache", zap.String("email", email), zap.Error(err))
		return "", false, fmt.Errorf("failed to get OTP from cache: %w", err)
	}
	return code, true, nil
}

// DeleteCodeAndAttempts removes the code and its failure counter together.
// They must never outlive each other.
func (c *OTPCache) DeleteCodeAndAttempts(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, otpPrefix+email, otpAttemptPrefix+email); err != nil {
		util.Error("Failed to delete OTP state", zap.String("email", email), zap.Error(err))
		return fmt.Errorf("failed to delete OTP state: %w", err)
	}
	return nil
}

// GetFailedAttempts returns the failure counter, zero when absent.
func (c *OTPCache) GetFailedAttempts(ctx context.Context, email string) (int, error) {
	return c.getCounter(ctx, otpAttemptPrefix+email)
}

// IncrementFailedAttempts bumps the failure counter, creating it with the
// given TTL when absent.
func (c *OTPCache) IncrementFailedAttempts(ctx context.Context, email string, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, otpAttemptPrefix+email, ttl)
	if err != nil {
		util.Error("Failed to increment OTP attempts", zap.String("email", email), zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}
	return int(count), nil
}

// GetRequestCount returns the send counter for the current spam window.
func (c *OTPCache) GetRequestCount(ctx context.Context, email string) (int, error) {
	return c.getCounter(ctx, otpRequestPrefix+email)
}

// IncrementRequestCount bumps the send counter within the spam window.
func (c *OTPCache) IncrementRequestCount(ctx context.Context, email string, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, otpRequestPrefix+email, ttl)
	if err != nil {
		util.Error("Failed to increment OTP request count", zap.String("email", email), zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP request count: %w", err)
	}
	return int(count), nil
}

func (c *OTPCache) SetAccountLock(ctx context.Context, email string, ttl time.Duration) error {
	return c.setFlag(ctx, otpLockPrefix+email, ttl)
}

func (c *OTPCache) IsAccountLocked(ctx context.Context, email string) (bool, error) {
	return c.hasFlag(ctx, otpLockPrefix+email)
}

// SetSpamLock sets the tier-2 lock. SetNX keeps the TTL fixed: a concurrent
// escalation cannot extend an existing lock.
func (c *OTPCache) SetSpamLock(ctx context.Context, email string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := c.client.SetNX(ctx, otpSpamLockPrefix+email, "locked", ttl); err != nil {
		util.Error("Failed to set OTP spam lock", zap.String("email", email), zap.Error(err))
		return fmt.Errorf("failed to set OTP spam lock: %w", err)
	}
	return nil
}

func (c *OTPCache) IsSpamLocked(ctx context.Context, email string) (bool, error) {
	return c.hasFlag(ctx, otpSpamLockPrefix+email)
}

func (c *OTPCache) SetCooldown(ctx context.Context, email string, ttl time.Duration) error {
	return c.setFlag(ctx, otpCooldownPrefix+email, ttl)
}

func (c *OTPCache) InCooldown(ctx context.Context, email string) (bool, error) {
	return c.hasFlag(ctx, otpCooldownPrefix+email)
}

func (c *OTPCache) getCounter(ctx context.Context, key string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		util.Error("Invalid counter format", zap.String("key", key), zap.String("count_str", countStr), zap.Error(err))
		return 0, fmt.Errorf("invalid counter format: %w", err)
	}
	return count, nil
}

func (c *OTPCache) setFlag(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, "locked", ttl); err != nil {
		util.Error("Failed to set restriction flag", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set restriction flag: %w", err)
	}
	return nil
}

func (c *OTPCache) hasFlag(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	exists, err := c.client.Exists(ctx, key)
	if err != nil {
		util.Error("Failed to check restriction flag", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("failed to check restriction flag: %w", err)
	}
	return exists, nil
}
