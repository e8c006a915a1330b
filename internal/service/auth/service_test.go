package auth

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/inkpost/api/internal/domain"
	"github.com/inkpost/api/internal/repository"
	"github.com/inkpost/api/pkg/config"
	"github.com/inkpost/api/pkg/crypto"
	jwtpkg "github.com/inkpost/api/pkg/jwt"
)

type stubUserRepository struct {
	users     map[string]*domain.User
	createErr error
}

func newStubUserRepository() *stubUserRepository {
	return &stubUserRepository{users: make(map[string]*domain.User)}
}

func (s *stubUserRepository) CreateUser(_ context.Context, user *domain.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	clone := *user
	s.users[user.ID] = &clone
	return nil
}

func (s *stubUserRepository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubUserRepository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	if user, ok := s.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubUserRepository) ListUsers(_ context.Context) ([]domain.User, error) {
	out := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, *user)
	}
	return out, nil
}

func (s *stubUserRepository) SetOTP(_ context.Context, userID, code string, expiresAt time.Time) error {
	user, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	user.OTPCode = &code
	expires := expiresAt
	user.OTPExpiresAt = &expires
	return nil
}

func (s *stubUserRepository) ConsumeOTP(_ context.Context, userID, code string, now time.Time) (*domain.User, error) {
	user, ok := s.users[userID]
	if !ok || user.OTPCode == nil || *user.OTPCode != code || user.OTPExpiresAt == nil || !user.OTPExpiresAt.After(now) {
		return nil, repository.ErrNotFound
	}
	user.IsVerified = true
	user.OTPCode = nil
	user.OTPExpiresAt = nil
	clone := *user
	return &clone, nil
}

type stubMailer struct {
	sent []struct{ to, code string }
	err  error
}

func (m *stubMailer) SendOTP(_ context.Context, to, code string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, struct{ to, code string }{to, code})
	return nil
}

func newService(repo *stubUserRepository, mailer *stubMailer) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{
		JWTSecret: "test-secret",
		TokenTTL:  24 * time.Hour,
		OTPTTL:    10 * time.Minute,
	}
	return New(repo, mailer, log, cfg)
}

func TestRegisterCreatesUnverifiedUserWithOTP(t *testing.T) {
	repo := newStubUserRepository()
	mailer := &stubMailer{}
	svc := newService(repo, mailer)

	before := time.Now().UTC()
	user, err := svc.Register(context.Background(), "Ada", "ADA@Example.com", "hunter22")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if user.IsVerified {
		t.Fatalf("new user must not be verified")
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected lowercased email, got %q", user.Email)
	}
	if user.OTPCode == nil || len(*user.OTPCode) != 6 {
		t.Fatalf("expected 6-digit OTP, got %v", user.OTPCode)
	}
	if user.OTPExpiresAt == nil {
		t.Fatalf("expected OTP expiry set")
	}
	ttl := user.OTPExpiresAt.Sub(before)
	if ttl < 9*time.Minute || ttl > 11*time.Minute {
		t.Fatalf("expected OTP expiry about 10 minutes ahead, got %s", ttl)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "ada@example.com" || mailer.sent[0].code != *user.OTPCode {
		t.Fatalf("unexpected mail dispatch: %+v", mailer.sent)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := newStubUserRepository()
	svc := newService(repo, &stubMailer{})

	if _, err := svc.Register(context.Background(), "Ada", "ada@example.com", "pw"); err != nil {
		t.Fatalf("first Register returned error: %v", err)
	}
	_, err := svc.Register(context.Background(), "Other", "ada@example.com", "pw2")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newService(newStubUserRepository(), &stubMailer{})
	if _, err := svc.Register(context.Background(), " ", "a@b.c", "pw"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRegisterSurfacesMailFailure(t *testing.T) {
	repo := newStubUserRepository()
	mailer := &stubMailer{err: errors.New("relay down")}
	svc := newService(repo, mailer)

	_, err := svc.Register(context.Background(), "Ada", "ada@example.com", "pw")
	if !errors.Is(err, ErrEmailDelivery) {
		t.Fatalf("expected ErrEmailDelivery, got %v", err)
	}
}

func TestVerifyOTPFlipsFlagAndMintsToken(t *testing.T) {
	repo := newStubUserRepository()
	svc := newService(repo, &stubMailer{})

	user, err := svc.Register(context.Background(), "Ada", "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	verified, token, err := svc.VerifyOTP(context.Background(), user.ID, *user.OTPCode)
	if err != nil {
		t.Fatalf("VerifyOTP returned error: %v", err)
	}
	if !verified.IsVerified {
		t.Fatalf("expected user verified")
	}
	if verified.OTPCode != nil || verified.OTPExpiresAt != nil {
		t.Fatalf("expected OTP state cleared, got %+v", verified)
	}
	claims, err := jwtpkg.Parse(token, "test-secret")
	if err != nil {
		t.Fatalf("minted token failed to parse: %v", err)
	}
	if claims.UserID != user.ID || claims.Name != "Ada" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyOTPWrongCodeLeavesStateUnchanged(t *testing.T) {
	repo := newStubUserRepository()
	svc := newService(repo, &stubMailer{})

	user, err := svc.Register(context.Background(), "Ada", "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if _, _, err := svc.VerifyOTP(context.Background(), user.ID, "000000"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired, got %v", err)
	}
	stored := repo.users[user.ID]
	if stored.IsVerified || stored.OTPCode == nil {
		t.Fatalf("failed verification must not mutate state: %+v", stored)
	}
}

func TestVerifyOTPExpiredCode(t *testing.T) {
	repo := newStubUserRepository()
	svc := newService(repo, &stubMailer{})

	user, err := svc.Register(context.Background(), "Ada", "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	repo.users[user.ID].OTPExpiresAt = &past

	if _, _, err := svc.VerifyOTP(context.Background(), user.ID, *user.OTPCode); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired, got %v", err)
	}
}

func TestResendOTPReplacesCode(t *testing.T) {
	repo := newStubUserRepository()
	mailer := &stubMailer{}
	svc := newService(repo, mailer)

	user, err := svc.Register(context.Background(), "Ada", "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if err := svc.ResendOTP(context.Background(), "ada@example.com"); err != nil {
		t.Fatalf("ResendOTP returned error: %v", err)
	}
	stored := repo.users[user.ID]
	if stored.OTPCode == nil {
		t.Fatalf("expected a stored OTP after resend")
	}
	if len(mailer.sent) != 2 {
		t.Fatalf("expected two mail dispatches, got %d", len(mailer.sent))
	}
	if mailer.sent[1].code != *stored.OTPCode {
		t.Fatalf("mailed code %q does not match stored %q", mailer.sent[1].code, *stored.OTPCode)
	}
}

func TestResendOTPUnknownAndVerified(t *testing.T) {
	repo := newStubUserRepository()
	svc := newService(repo, &stubMailer{})

	if err := svc.ResendOTP(context.Background(), "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	repo.users["u1"] = &domain.User{ID: "u1", Email: "done@example.com", IsVerified: true}
	if err := svc.ResendOTP(context.Background(), "done@example.com"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	repo := newStubUserRepository()
	svc := newService(repo, &stubMailer{})

	hash, err := crypto.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	repo.users["u1"] = &domain.User{ID: "u1", Name: "Ada", Email: "ada@example.com", PasswordHash: hash, IsVerified: true}

	user, token, err := svc.Login(context.Background(), "ada@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("unexpected user %+v", user)
	}
	claims, err := svc.Authorize(token)
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("token does not decode back to the same user: %+v", claims)
	}
}

func TestLoginDoesNotLeakAccountExistence(t *testing.T) {
	repo := newStubUserRepository()
	svc := newService(repo, &stubMailer{})

	hash, err := crypto.HashPassword("correct")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	repo.users["u1"] = &domain.User{ID: "u1", Email: "ada@example.com", PasswordHash: hash}

	_, _, wrongPassword := svc.Login(context.Background(), "ada@example.com", "incorrect")
	_, _, unknownEmail := svc.Login(context.Background(), "ghost@example.com", "incorrect")

	if !errors.Is(wrongPassword, ErrInvalidCredentials) || !errors.Is(unknownEmail, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", wrongPassword, unknownEmail)
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("error messages differ: %q vs %q", wrongPassword.Error(), unknownEmail.Error())
	}
}

func TestAuthorizeRejectsGarbage(t *testing.T) {
	svc := newService(newStubUserRepository(), &stubMailer{})
	if _, err := svc.Authorize("not-a-token"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
	if _, err := svc.Authorize(" "); err == nil {
		t.Fatalf("expected error for blank token")
	}
}
