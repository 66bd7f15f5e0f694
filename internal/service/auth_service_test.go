package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/client"
	"marketplace/internal/config"
	"marketplace/internal/hashing"
	"marketplace/internal/model"
	"marketplace/internal/repository/postgres"
	redisrepo "marketplace/internal/repository/redis"
	"marketplace/internal/token"
)

// memoryAccountRepo is an in-memory AccountRepository keyed by role and email.
type memoryAccountRepo struct {
	mu       sync.Mutex
	accounts map[model.Role]map[string]*model.Account
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{accounts: map[model.Role]map[string]*model.Account{
		model.RoleUser:   {},
		model.RoleSeller: {},
	}}
}

func (r *memoryAccountRepo) FindByEmail(_ context.Context, email string, role model.Role) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[role][email]; ok {
		acc := *a
		return &acc, nil
	}
	return nil, postgres.ErrAccountNotFound
}

func (r *memoryAccountRepo) FindByID(_ context.Context, id string, role model.Role) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts[role] {
		if a.ID == id {
			acc := *a
			return &acc, nil
		}
	}
	return nil, postgres.ErrAccountNotFound
}

func (r *memoryAccountRepo) Create(_ context.Context, account *model.Account, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	stored := *account
	r.accounts[role][account.Email] = &stored
	return nil
}

func (r *memoryAccountRepo) UpdatePassword(_ context.Context, email string, role model.Role, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[role][email]
	if !ok {
		return postgres.ErrAccountNotFound
	}
	a.PasswordHash = passwordHash
	return nil
}

func (r *memoryAccountRepo) UpdateStripeID(_ context.Context, sellerID, stripeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts[model.RoleSeller] {
		if a.ID == sellerID {
			a.StripeID = stripeID
			return nil
		}
	}
	return postgres.ErrAccountNotFound
}

func (r *memoryAccountRepo) HealthCheck(context.Context) error { return nil }

func (r *memoryAccountRepo) remove(email string, role model.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts[role], email)
}

type authFixture struct {
	auth      *AuthService
	repo      *memoryAccountRepo
	mailer    *captureMailer
	tokens    *token.Manager
	miniredis *miniredis.Miniredis
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mailer := &captureMailer{}
	cache := redisrepo.NewOTPCache(client.WrapRedisClient(rdb))
	otp := NewOTPService(cache, mailer, nil, testPolicy(), zap.NewNop())

	tokens, err := token.NewManager(config.JWTConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	repo := newMemoryAccountRepo()
	auth := NewAuthService(repo, otp, tokens, hashing.NewPasswordHasher(), nil, zap.NewNop())
	return &authFixture{auth: auth, repo: repo, mailer: mailer, tokens: tokens, miniredis: mr}
}

func (f *authFixture) register(t *testing.T, email, password string, role model.Role) *model.Account {
	t.Helper()
	req := &RegistrationRequest{
		Name:        "Alice",
		Email:       email,
		Password:    password,
		PhoneNumber: "+4712345678",
		Country:     "Norway",
	}
	require.NoError(t, f.auth.RequestRegistrationOTP(context.Background(), req, role))
	account, err := f.auth.VerifyRegistration(context.Background(), &VerifyRegistrationRequest{
		RegistrationRequest: *req,
		OTP:                 f.mailer.otp(),
	}, role)
	require.NoError(t, err)
	return account
}

func TestRegistrationRequiresSellerFields(t *testing.T) {
	f := newAuthFixture(t)

	err := f.auth.RequestRegistrationOTP(context.Background(), &RegistrationRequest{
		Name: "Bob", Email: "bob@example.com", Password: "secret123",
	}, model.RoleSeller)
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	// The same request is fine for a user account.
	assert.NoError(t, f.auth.RequestRegistrationOTP(context.Background(), &RegistrationRequest{
		Name: "Bob", Email: "bob@example.com", Password: "secret123",
	}, model.RoleUser))
}

func TestRegistrationRejectsDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice@example.com", "secret123", model.RoleUser)

	err := f.auth.RequestRegistrationOTP(context.Background(), &RegistrationRequest{
		Name: "Alice", Email: "alice@example.com", Password: "secret123",
	}, model.RoleUser)
	require.Error(t, err)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	// The same email is free in the other role's collection. Throttle state
	// is keyed by email alone, so the earlier send's cooldown must lapse.
	f.miniredis.FastForward(2 * time.Minute)
	assert.NoError(t, f.auth.RequestRegistrationOTP(context.Background(), &RegistrationRequest{
		Name: "Alice", Email: "alice@example.com", Password: "secret123",
		PhoneNumber: "+4712345678", Country: "Norway",
	}, model.RoleSeller))
}

func TestVerifyRegistrationHashesPassword(t *testing.T) {
	f := newAuthFixture(t)
	account := f.register(t, "alice@example.com", "secret123", model.RoleUser)

	stored, err := f.repo.FindByEmail(context.Background(), "alice@example.com", model.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, account.ID, stored.ID)
	assert.NotEqual(t, "secret123", stored.PasswordHash)
	assert.True(t, hashing.NewPasswordHasher().Compare("secret123", stored.PasswordHash))
}

func TestLoginUniformFailureMessage(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice@example.com", "secret123", model.RoleUser)

	_, _, errUnknown := f.auth.Login(context.Background(), "nobody@example.com", "secret123", model.RoleUser)
	_, _, errWrongPw := f.auth.Login(context.Background(), "alice@example.com", "wrong-password", model.RoleUser)

	require.Error(t, errUnknown)
	require.Error(t, errWrongPw)
	assert.Equal(t, apperror.MessageOf(errUnknown), apperror.MessageOf(errWrongPw))
	assert.Equal(t, apperror.KindInvalidCredentials, apperror.KindOf(errUnknown))
	assert.Equal(t, apperror.KindInvalidCredentials, apperror.KindOf(errWrongPw))
}

func TestLoginIsRoleScoped(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice@example.com", "secret123", model.RoleUser)

	_, _, err := f.auth.Login(context.Background(), "alice@example.com", "secret123", model.RoleSeller)
	require.Error(t, err)
	assert.Equal(t, apperror.KindInvalidCredentials, apperror.KindOf(err))
}

func TestRefreshMintsAccessOnly(t *testing.T) {
	f := newAuthFixture(t)
	account := f.register(t, "alice@example.com", "secret123", model.RoleUser)

	_, pair, err := f.auth.Login(context.Background(), "alice@example.com", "secret123", model.RoleUser)
	require.NoError(t, err)

	access, claims, err := f.auth.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.AccountID)
	assert.Equal(t, model.RoleUser, claims.Role)

	got, err := f.tokens.VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.AccountID)

	// An access token must never pass as a refresh token.
	_, _, err = f.auth.Refresh(context.Background(), pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, apperror.KindAuth, apperror.KindOf(err))
}

func TestRefreshFailsForDeletedAccount(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice@example.com", "secret123", model.RoleUser)

	_, pair, err := f.auth.Login(context.Background(), "alice@example.com", "secret123", model.RoleUser)
	require.NoError(t, err)

	f.repo.remove("alice@example.com", model.RoleUser)

	_, _, err = f.auth.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, apperror.KindAuth, apperror.KindOf(err))
}

func TestResetPasswordRejectsSamePassword(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice@example.com", "secret123", model.RoleUser)

	err := f.auth.ResetPassword(context.Background(), "alice@example.com", "secret123", model.RoleUser)
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	require.NoError(t, f.auth.ResetPassword(context.Background(), "alice@example.com", "new-secret-456", model.RoleUser))

	_, _, err = f.auth.Login(context.Background(), "alice@example.com", "secret123", model.RoleUser)
	require.Error(t, err)
	_, _, err = f.auth.Login(context.Background(), "alice@example.com", "new-secret-456", model.RoleUser)
	assert.NoError(t, err)
}

func TestForgotPasswordFlow(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice@example.com", "secret123", model.RoleUser)

	// The registration send left a cooldown behind; let it lapse.
	f.miniredis.FastForward(2 * time.Minute)

	require.NoError(t, f.auth.ForgotPassword(context.Background(), "alice@example.com", model.RoleUser))
	require.NoError(t, f.auth.VerifyForgotPasswordOTP(context.Background(), "alice@example.com", f.mailer.otp()))
	require.NoError(t, f.auth.ResetPassword(context.Background(), "alice@example.com", "brand-new-789", model.RoleUser))

	_, _, err := f.auth.Login(context.Background(), "alice@example.com", "brand-new-789", model.RoleUser)
	assert.NoError(t, err)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	err := f.auth.ForgotPassword(context.Background(), "nobody@example.com", model.RoleUser)
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}
