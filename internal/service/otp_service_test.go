package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/client"
	"marketplace/internal/config"
	"marketplace/internal/mail"
	redisrepo "marketplace/internal/repository/redis"
)

// captureMailer records deliveries and can be told to fail.
type captureMailer struct {
	mu        sync.Mutex
	lastOTP   string
	recipient string
	template  string
	sent      int
	failNext  bool
}

func (m *captureMailer) Send(_ context.Context, recipient, _, templateID string, payload map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("smtp unavailable")
	}
	m.sent++
	m.recipient = recipient
	m.template = templateID
	if otp, ok := payload["otp"].(string); ok {
		m.lastOTP = otp
	}
	return nil
}

func (m *captureMailer) otp() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOTP
}

func testPolicy() config.OTPConfig {
	return config.OTPConfig{
		CodeTTL:           5 * time.Minute,
		Cooldown:          time.Minute,
		SpamWindow:        time.Hour,
		SpamLockTTL:       time.Hour,
		AccountLockTTL:    30 * time.Minute,
		MaxSendsPerWindow: 2,
		MaxFailedVerifies: 2,
	}
}

func newTestOTPService(t *testing.T) (*OTPService, *captureMailer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mailer := &captureMailer{}
	cache := redisrepo.NewOTPCache(client.WrapRedisClient(rdb))
	svc := NewOTPService(cache, mailer, nil, testPolicy(), zap.NewNop())
	return svc, mailer, mr
}

func TestOTPSendDeliversBeforeStoring(t *testing.T) {
	svc, mailer, mr := newTestOTPService(t)
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "Alice", "alice@example.com", mail.TemplateUserActivation))
	assert.Equal(t, 1, mailer.sent)
	assert.Len(t, mailer.otp(), 4)
	assert.True(t, mr.Exists("otp:alice@example.com"))
	assert.True(t, mr.Exists("otp_cooldown:alice@example.com"))
}

func TestOTPSendFailureLeavesNoCode(t *testing.T) {
	svc, mailer, mr := newTestOTPService(t)
	mailer.failNext = true

	err := svc.Send(context.Background(), "Alice", "alice@example.com", mail.TemplateUserActivation)
	require.Error(t, err)
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))
	assert.False(t, mr.Exists("otp:alice@example.com"))
	assert.False(t, mr.Exists("otp_cooldown:alice@example.com"))
}

func TestCheckRestrictionsCooldown(t *testing.T) {
	svc, _, _ := newTestOTPService(t)
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "Alice", "alice@example.com", mail.TemplateUserActivation))

	err := svc.CheckRestrictions(ctx, "alice@example.com")
	require.Error(t, err)
	assert.Equal(t, apperror.KindRateLimited, apperror.KindOf(err))
}

func TestTrackRequestSpamLockOnThirdSend(t *testing.T) {
	svc, _, mr := newTestOTPService(t)
	ctx := context.Background()

	require.NoError(t, svc.TrackRequest(ctx, "alice@example.com"))
	require.NoError(t, svc.TrackRequest(ctx, "alice@example.com"))

	err := svc.TrackRequest(ctx, "alice@example.com")
	require.Error(t, err)
	assert.Equal(t, apperror.KindRateLimited, apperror.KindOf(err))
	assert.True(t, mr.Exists("otp_spam_lock:alice@example.com"))

	// Once locked, the restriction check fails before any send.
	err = svc.CheckRestrictions(ctx, "alice@example.com")
	require.Error(t, err)
	assert.Equal(t, apperror.KindRateLimited, apperror.KindOf(err))
}

func TestSpamLockTTLIsFixedOnceSet(t *testing.T) {
	svc, _, mr := newTestOTPService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.TrackRequest(ctx, "alice@example.com"))
	}
	require.Error(t, svc.TrackRequest(ctx, "alice@example.com"))

	mr.FastForward(30 * time.Minute)
	// A repeat escalation must not extend the remaining lock.
	require.Error(t, svc.TrackRequest(ctx, "alice@example.com"))

	mr.FastForward(30*time.Minute + time.Second)
	assert.False(t, mr.Exists("otp_spam_lock:alice@example.com"))
}

func TestVerifyWithoutIssuedCode(t *testing.T) {
	svc, _, mr := newTestOTPService(t)

	err := svc.Verify(context.Background(), "alice@example.com", "1234")
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	// No counters may be written for a code that was never issued.
	assert.False(t, mr.Exists("otp_attempts:alice@example.com"))
}

func TestVerifyCorrectCodeIsSingleUse(t *testing.T) {
	svc, mailer, mr := newTestOTPService(t)
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "Alice", "alice@example.com", mail.TemplateUserActivation))
	require.NoError(t, svc.Verify(ctx, "alice@example.com", mailer.otp()))

	assert.False(t, mr.Exists("otp:alice@example.com"))
	assert.False(t, mr.Exists("otp_attempts:alice@example.com"))

	// The same code cannot be verified twice.
	err := svc.Verify(ctx, "alice@example.com", mailer.otp())
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestVerifyWrongCodeCountsDown(t *testing.T) {
	svc, mailer, _ := newTestOTPService(t)
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "Alice", "alice@example.com", mail.TemplateUserActivation))
	wrong := "0000"
	if wrong == mailer.otp() {
		wrong = "0001"
	}

	err := svc.Verify(ctx, "alice@example.com", wrong)
	require.Error(t, err)
	assert.Contains(t, apperror.MessageOf(err), "2 attempts left")

	err = svc.Verify(ctx, "alice@example.com", wrong)
	require.Error(t, err)
	assert.Contains(t, apperror.MessageOf(err), "1 attempts left")

	// The right code still works after failures below the threshold.
	require.NoError(t, svc.Verify(ctx, "alice@example.com", mailer.otp()))
}

func TestVerifyThirdFailureLocksAccount(t *testing.T) {
	svc, mailer, mr := newTestOTPService(t)
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "Alice", "alice@example.com", mail.TemplateUserActivation))
	wrong := "0000"
	if wrong == mailer.otp() {
		wrong = "0001"
	}

	require.Error(t, svc.Verify(ctx, "alice@example.com", wrong))
	require.Error(t, svc.Verify(ctx, "alice@example.com", wrong))

	err := svc.Verify(ctx, "alice@example.com", wrong)
	require.Error(t, err)
	assert.Contains(t, apperror.MessageOf(err), "locked")
	assert.True(t, mr.Exists("otp_lock:alice@example.com"))
	assert.False(t, mr.Exists("otp:alice@example.com"))
	assert.False(t, mr.Exists("otp_attempts:alice@example.com"))

	// The correct code is gone with the lock: even the right digits fail now.
	err = svc.Verify(ctx, "alice@example.com", mailer.otp())
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	// And no new code can be requested while locked.
	err = svc.CheckRestrictions(ctx, "alice@example.com")
	require.Error(t, err)
	assert.Equal(t, apperror.KindRateLimited, apperror.KindOf(err))
}

func TestAccountLockExpires(t *testing.T) {
	svc, mailer, mr := newTestOTPService(t)
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "Alice", "alice@example.com", mail.TemplateUserActivation))
	wrong := "0000"
	if wrong == mailer.otp() {
		wrong = "0001"
	}
	for i := 0; i < 3; i++ {
		require.Error(t, svc.Verify(ctx, "alice@example.com", wrong))
	}
	require.True(t, mr.Exists("otp_lock:alice@example.com"))

	mr.FastForward(30*time.Minute + time.Second)
	assert.NoError(t, svc.CheckRestrictions(ctx, "alice@example.com"))
}
