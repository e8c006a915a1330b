package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/inkpost/api/internal/domain"
	"github.com/inkpost/api/internal/mail"
	"github.com/inkpost/api/internal/repository"
	"github.com/inkpost/api/pkg/config"
	"github.com/inkpost/api/pkg/crypto"
	jwtpkg "github.com/inkpost/api/pkg/jwt"
)

// Closed error set; the HTTP boundary maps each to a status code.
var (
	ErrValidation         = errors.New("name, email, and password are required")
	ErrDuplicateEmail     = errors.New("this email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidOrExpired   = errors.New("invalid or expired OTP")
	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyVerified    = errors.New("email is already verified")
	ErrEmailDelivery      = errors.New("could not send verification email")
)

// Service handles registration, login and the OTP verification lifecycle.
type Service struct {
	users  repository.UserRepository
	mailer mail.Mailer
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, mailer mail.Mailer, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, mailer: mailer, logger: logger, cfg: cfg}
}

// Register creates an unverified user with a fresh OTP and dispatches the
// code by mail. No credential is minted until the OTP is confirmed.
func (s Service) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return nil, ErrValidation
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	code, err := generateOTP()
	if err != nil {
		return nil, err
	}
	expires := time.Now().UTC().Add(s.cfg.OTPTTL)
	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		IsVerified:   false,
		OTPCode:      &code,
		OTPExpiresAt: &expires,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if err := s.mailer.SendOTP(ctx, user.Email, code); err != nil {
		// The account exists and can recover via resend; the caller still
		// needs to know delivery failed.
		return nil, fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// VerifyOTP confirms the code for an unverified user. On success the
// verification flag flips, OTP state clears, and a credential is minted.
func (s Service) VerifyOTP(ctx context.Context, userID, code string) (*domain.User, string, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return nil, "", ErrInvalidOrExpired
	}
	user, err := s.users.ConsumeOTP(ctx, userID, code, time.Now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidOrExpired
		}
		return nil, "", err
	}
	token, err := s.mintToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user verified", "user_id", user.ID)
	return user, token, nil
}

// ResendOTP stores a new code with a refreshed expiry and dispatches it.
func (s Service) ResendOTP(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}
	code, err := generateOTP()
	if err != nil {
		return err
	}
	expires := time.Now().UTC().Add(s.cfg.OTPTTL)
	if err := s.users.SetOTP(ctx, user.ID, code, expires); err != nil {
		return err
	}
	if err := s.mailer.SendOTP(ctx, user.Email, code); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}
	s.logger.Info("otp resent", "user_id", user.ID)
	return nil
}

// Login authenticates a user and mints a credential. Unknown email and wrong
// password yield the same error to prevent account enumeration.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.mintToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token. Validity is purely signature and
// expiry; there is no server-side session to consult.
func (s Service) Authorize(token string) (*jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("token required")
	}
	return jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
}

// ListUsers returns every account's non-sensitive fields.
func (s Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.ListUsers(ctx)
}

func (s Service) mintToken(user *domain.User) (string, error) {
	return jwtpkg.GenerateToken(user.ID, user.Name, s.cfg.JWTSecret, s.cfg.TokenTTL)
}
