package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/client"
	"marketplace/internal/config"
	"marketplace/internal/mail"
	"marketplace/internal/model"
	redisrepo "marketplace/internal/repository/redis"
	"marketplace/internal/util"
)

// OTPService drives the one-time passcode lifecycle: multi-tier send
// throttling, delivery, and verification with bounded retries that escalate
// into a timed account lock.
//
// Throttle state lives in the shared TTL store; concurrent requests may race
// on check-then-set, which the policy tolerates.
type OTPService struct {
	cache    *redisrepo.OTPCache
	mailer   mail.Mailer
	producer *client.KafkaProducer
	policy   config.OTPConfig
	logger   *zap.Logger
}

func NewOTPService(cache *redisrepo.OTPCache, mailer mail.Mailer, producer *client.KafkaProducer, policy config.OTPConfig, logger *zap.Logger) *OTPService {
	return &OTPService{
		cache:    cache,
		mailer:   mailer,
		producer: producer,
		policy:   policy,
		logger:   logger,
	}
}

// CheckRestrictions gates OTP issuance on the three restriction tiers, most
// severe first. Pure read: no counters or flags are touched.
func (s *OTPService) CheckRestrictions(ctx context.Context, email string) error {
	locked, err := s.cache.IsAccountLocked(ctx, email)
	if err != nil {
		return apperror.Internal(err, "could not check account restrictions")
	}
	if locked {
		return apperror.RateLimited("Account locked due to multiple failed attempts. Try again after %d minutes.", int(s.policy.AccountLockTTL.Minutes()))
	}

	spamLocked, err := s.cache.IsSpamLocked(ctx, email)
	if err != nil {
		return apperror.Internal(err, "could not check account restrictions")
	}
	if spamLocked {
		return apperror.RateLimited("Too many OTP requests. Please wait %d minutes before requesting again.", int(s.policy.SpamLockTTL.Minutes()))
	}

	inCooldown, err := s.cache.InCooldown(ctx, email)
	if err != nil {
		return apperror.Internal(err, "could not check account restrictions")
	}
	if inCooldown {
		return apperror.RateLimited("Please wait %d seconds before requesting a new OTP.", int(s.policy.Cooldown.Seconds()))
	}

	return nil
}

// TrackRequest counts a send attempt inside the spam window. At or above the
// threshold it sets the spam lock and fails; the lock TTL is fixed once set.
func (s *OTPService) TrackRequest(ctx context.Context, email string) error {
	count, err := s.cache.GetRequestCount(ctx, email)
	if err != nil {
		return apperror.Internal(err, "could not track OTP request")
	}

	if count >= s.policy.MaxSendsPerWindow {
		if err := s.cache.SetSpamLock(ctx, email, s.policy.SpamLockTTL); err != nil {
			return apperror.Internal(err, "could not track OTP request")
		}
		s.publishEvent(ctx, model.EventOTPSpamLock, email, "", fmt.Sprintf("%d sends in window", count))
		return apperror.RateLimited("Too many OTP requests. Please wait %d minutes before requesting again.", int(s.policy.SpamLockTTL.Minutes()))
	}

	if _, err := s.cache.IncrementRequestCount(ctx, email, s.policy.SpamWindow); err != nil {
		return apperror.Internal(err, "could not track OTP request")
	}
	return nil
}

// Send generates a code, delivers it, and only then stores it. A delivery
// failure must leave no stored code behind: the user can never hold a code
// that was not mailed.
func (s *OTPService) Send(ctx context.Context, name, email, templateID string) error {
	code, err := generateCode()
	if err != nil {
		return apperror.Internal(err, "could not generate OTP")
	}

	payload := map[string]interface{}{"name": name, "otp": code}
	if err := s.mailer.Send(ctx, email, "Verify Your Email", templateID, payload); err != nil {
		return apperror.Internal(err, "could not deliver OTP mail")
	}

	if err := s.cache.SetCode(ctx, email, code, s.policy.CodeTTL); err != nil {
		return apperror.Internal(err, "could not store OTP")
	}
	if err := s.cache.SetCooldown(ctx, email, s.policy.Cooldown); err != nil {
		return apperror.Internal(err, "could not store OTP")
	}

	s.logger.Info("OTP sent",
		util.String("email", email),
		util.String("template", templateID),
	)
	return nil
}

// Verify checks a submitted code. A match deletes the code and its failure
// counter together; reaching the failure threshold escalates to the account
// lock and deletes both as well, so no stale attempt state survives either
// outcome.
func (s *OTPService) Verify(ctx context.Context, email, submitted string) error {
	stored, ok, err := s.cache.GetCode(ctx, email)
	if err != nil {
		return apperror.Internal(err, "could not verify OTP")
	}
	if !ok {
		return apperror.Validation("Invalid or expired OTP.")
	}

	failed, err := s.cache.GetFailedAttempts(ctx, email)
	if err != nil {
		return apperror.Internal(err, "could not verify OTP")
	}

	if stored == submitted {
		if err := s.cache.DeleteCodeAndAttempts(ctx, email); err != nil {
			return apperror.Internal(err, "could not verify OTP")
		}
		return nil
	}

	if failed >= s.policy.MaxFailedVerifies {
		if err := s.cache.SetAccountLock(ctx, email, s.policy.AccountLockTTL); err != nil {
			return apperror.Internal(err, "could not verify OTP")
		}
		if err := s.cache.DeleteCodeAndAttempts(ctx, email); err != nil {
			return apperror.Internal(err, "could not verify OTP")
		}
		s.publishEvent(ctx, model.EventOTPAccountLock, email, "", fmt.Sprintf("%d failed attempts", failed+1))
		return apperror.Validation("Too many failed attempts. Your account is locked for %d minutes.", int(s.policy.AccountLockTTL.Minutes()))
	}

	if _, err := s.cache.IncrementFailedAttempts(ctx, email, s.policy.CodeTTL); err != nil {
		return apperror.Internal(err, "could not verify OTP")
	}
	return apperror.Validation("Incorrect OTP. %d attempts left.", s.policy.MaxFailedVerifies-failed)
}

func (s *OTPService) publishEvent(ctx context.Context, eventType, email, role, detail string) {
	event := model.SecurityEvent{
		EventType: eventType,
		Email:     email,
		Role:      role,
		Detail:    detail,
		At:        time.Now().UTC(),
	}
	if err := s.producer.PublishSecurityEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish security event",
			util.String("event_type", eventType),
			util.ErrorField(err))
	}
}

// generateCode draws a uniformly distributed 4-digit code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()+1000), nil
}
