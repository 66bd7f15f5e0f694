package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/client"
	"marketplace/internal/hashing"
	"marketplace/internal/mail"
	"marketplace/internal/model"
	"marketplace/internal/repository/postgres"
	"marketplace/internal/token"
	"marketplace/internal/util"
)

// RegistrationRequest carries the fields collected before an OTP is issued.
// PhoneNumber and Country are required for sellers only.
type RegistrationRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Country     string `json:"country,omitempty"`
}

// VerifyRegistrationRequest completes a registration with the mailed code.
type VerifyRegistrationRequest struct {
	RegistrationRequest
	OTP string `json:"otp"`
}

// AuthService authenticates credentials and orchestrates the OTP-gated
// registration and password-reset flows. Role is always an explicit input;
// it is never inferred from transport state.
type AuthService struct {
	accounts postgres.AccountRepository
	otp      *OTPService
	tokens   *token.Manager
	hasher   *hashing.PasswordHasher
	producer *client.KafkaProducer
	logger   *zap.Logger
}

func NewAuthService(
	accounts postgres.AccountRepository,
	otp *OTPService,
	tokens *token.Manager,
	hasher *hashing.PasswordHasher,
	producer *client.KafkaProducer,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		otp:      otp,
		tokens:   tokens,
		hasher:   hasher,
		producer: producer,
		logger:   logger,
	}
}

func validateRegistration(req *RegistrationRequest, role model.Role) error {
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return apperror.Validation("Missing required fields.")
	}
	if role == model.RoleSeller && (req.PhoneNumber == "" || req.Country == "") {
		return apperror.Validation("Missing required fields.")
	}
	if !util.IsValidEmail(req.Email) {
		return apperror.Validation("Invalid email format.")
	}
	return nil
}

func activationTemplate(role model.Role) string {
	if role == model.RoleSeller {
		return mail.TemplateSellerActivation
	}
	return mail.TemplateUserActivation
}

func resetTemplate(role model.Role) string {
	if role == model.RoleSeller {
		return mail.TemplateSellerForgotPassword
	}
	return mail.TemplateUserForgotPassword
}

// RequestRegistrationOTP starts a registration: validates the request,
// rejects existing accounts, then runs the restriction gates before mailing
// a code.
func (s *AuthService) RequestRegistrationOTP(ctx context.Context, req *RegistrationRequest, role model.Role) error {
	if !role.Valid() {
		return apperror.Validation("Invalid role.")
	}
	if err := validateRegistration(req, role); err != nil {
		return err
	}

	if _, err := s.accounts.FindByEmail(ctx, req.Email, role); err == nil {
		return apperror.Conflict("An account already exists with this email.")
	} else if !errors.Is(err, postgres.ErrAccountNotFound) {
		return apperror.Internal(err, "could not check existing account")
	}

	if err := s.otp.CheckRestrictions(ctx, req.Email); err != nil {
		return err
	}
	if err := s.otp.TrackRequest(ctx, req.Email); err != nil {
		return err
	}
	return s.otp.Send(ctx, req.Name, req.Email, activationTemplate(role))
}

// VerifyRegistration completes a registration: the OTP must verify before
// the account row is created.
func (s *AuthService) VerifyRegistration(ctx context.Context, req *VerifyRegistrationRequest, role model.Role) (*model.Account, error) {
	if !role.Valid() {
		return nil, apperror.Validation("Invalid role.")
	}
	if err := validateRegistration(&req.RegistrationRequest, role); err != nil {
		return nil, err
	}
	if req.OTP == "" {
		return nil, apperror.Validation("Missing required fields.")
	}

	if _, err := s.accounts.FindByEmail(ctx, req.Email, role); err == nil {
		return nil, apperror.Conflict("An account already exists with this email.")
	} else if !errors.Is(err, postgres.ErrAccountNotFound) {
		return nil, apperror.Internal(err, "could not check existing account")
	}

	if err := s.otp.Verify(ctx, req.Email, req.OTP); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperror.Internal(err, "could not hash password")
	}

	account := &model.Account{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		PhoneNumber:  req.PhoneNumber,
		Country:      req.Country,
	}
	if err := s.accounts.Create(ctx, account, role); err != nil {
		return nil, apperror.Internal(err, "could not create account")
	}

	s.logger.Info("Registration completed",
		util.String("account_id", account.ID),
		util.String("role", string(role)),
	)
	return account, nil
}

// Login verifies a password credential and issues a fresh token pair. The
// client sees one uniform failure message for both unknown email and wrong
// password; the distinction exists only in logs.
func (s *AuthService) Login(ctx context.Context, email, password string, role model.Role) (*model.Account, *token.Pair, error) {
	if !role.Valid() {
		return nil, nil, apperror.Validation("Invalid role.")
	}
	if email == "" || password == "" {
		return nil, nil, apperror.Validation("Email and password are required.")
	}

	account, err := s.accounts.FindByEmail(ctx, email, role)
	if err != nil {
		if errors.Is(err, postgres.ErrAccountNotFound) {
			s.logger.Debug("Login failed: unknown email", util.String("role", string(role)))
			s.publishLoginFailure(ctx, email, role)
			return nil, nil, apperror.InvalidCredentials("Invalid email or password.")
		}
		return nil, nil, apperror.Internal(err, "could not look up account")
	}

	if !s.hasher.Compare(password, account.PasswordHash) {
		s.logger.Debug("Login failed: password mismatch", util.String("account_id", account.ID))
		s.publishLoginFailure(ctx, email, role)
		return nil, nil, apperror.InvalidCredentials("Invalid email or password.")
	}

	pair, err := s.tokens.IssuePair(account.ID, role)
	if err != nil {
		return nil, nil, apperror.Internal(err, "could not issue tokens")
	}

	s.logger.Info("Login succeeded",
		util.String("account_id", account.ID),
		util.String("role", string(role)),
	)
	return account, pair, nil
}

// Refresh exchanges a refresh token for a new access token. The account must
// still exist for the token's role; the refresh token itself is never
// rotated here.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, *token.Claims, error) {
	if refreshToken == "" {
		return "", nil, apperror.Auth("Unauthorized. No refresh token.")
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", nil, apperror.Auth("Token expired or invalid.")
	}

	if _, err := s.accounts.FindByID(ctx, claims.AccountID, claims.Role); err != nil {
		if errors.Is(err, postgres.ErrAccountNotFound) {
			return "", nil, apperror.Auth("Account no longer exists.")
		}
		return "", nil, apperror.Internal(err, "could not look up account")
	}

	access, err := s.tokens.IssueAccess(claims.AccountID, claims.Role)
	if err != nil {
		return "", nil, apperror.Internal(err, "could not issue access token")
	}
	return access, claims, nil
}

// GetAccount loads an account for an authenticated context.
func (s *AuthService) GetAccount(ctx context.Context, id string, role model.Role) (*model.Account, error) {
	account, err := s.accounts.FindByID(ctx, id, role)
	if err != nil {
		if errors.Is(err, postgres.ErrAccountNotFound) {
			return nil, apperror.NotFound("Account not found.")
		}
		return nil, apperror.Internal(err, "could not look up account")
	}
	return account, nil
}

// ForgotPassword starts a password reset for an existing account.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, role model.Role) error {
	if !role.Valid() {
		return apperror.Validation("Invalid role.")
	}
	if email == "" {
		return apperror.Validation("Email is required.")
	}

	account, err := s.accounts.FindByEmail(ctx, email, role)
	if err != nil {
		if errors.Is(err, postgres.ErrAccountNotFound) {
			return apperror.NotFound("No %s account found with this email.", string(role))
		}
		return apperror.Internal(err, "could not look up account")
	}

	if err := s.otp.CheckRestrictions(ctx, email); err != nil {
		return err
	}
	if err := s.otp.TrackRequest(ctx, email); err != nil {
		return err
	}
	return s.otp.Send(ctx, account.Name, email, resetTemplate(role))
}

// VerifyForgotPasswordOTP confirms control of the email before a reset.
func (s *AuthService) VerifyForgotPasswordOTP(ctx context.Context, email, otp string) error {
	if email == "" || otp == "" {
		return apperror.Validation("Email and OTP are required.")
	}
	return s.otp.Verify(ctx, email, otp)
}

// ResetPassword replaces the stored hash. A new password identical to the
// current one is rejected as a no-op change.
func (s *AuthService) ResetPassword(ctx context.Context, email, newPassword string, role model.Role) error {
	if !role.Valid() {
		return apperror.Validation("Invalid role.")
	}
	if email == "" || newPassword == "" {
		return apperror.Validation("Email and new password are required.")
	}

	account, err := s.accounts.FindByEmail(ctx, email, role)
	if err != nil {
		if errors.Is(err, postgres.ErrAccountNotFound) {
			return apperror.NotFound("No %s account found with this email.", string(role))
		}
		return apperror.Internal(err, "could not look up account")
	}

	if s.hasher.Compare(newPassword, account.PasswordHash) {
		return apperror.Validation("New password cannot be the same as the old password.")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperror.Internal(err, "could not hash password")
	}
	if err := s.accounts.UpdatePassword(ctx, email, role, hash); err != nil {
		return apperror.Internal(err, "could not update password")
	}

	event := model.SecurityEvent{
		EventType: model.EventPasswordReset,
		Email:     email,
		Role:      string(role),
		At:        time.Now().UTC(),
	}
	if err := s.producer.PublishSecurityEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish security event", util.ErrorField(err))
	}

	s.logger.Info("Password reset", util.String("account_id", account.ID), util.String("role", string(role)))
	return nil
}

func (s *AuthService) publishLoginFailure(ctx context.Context, email string, role model.Role) {
	event := model.SecurityEvent{
		EventType: model.EventLoginFailed,
		Email:     email,
		Role:      string(role),
		At:        time.Now().UTC(),
	}
	if err := s.producer.PublishSecurityEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish security event", util.ErrorField(err))
	}
}
