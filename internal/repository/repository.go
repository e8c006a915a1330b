package repository

import (
	"context"
	"time"

	"github.com/inkpost/api/internal/domain"
)

// UserRepository persists users and their verification state.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	// SetOTP replaces the pending OTP and its expiry for an unverified user.
	SetOTP(ctx context.Context, userID, code string, expiresAt time.Time) error
	// ConsumeOTP marks the user verified and clears OTP state, but only when
	// the stored code matches and has not expired. Returns ErrNotFound when
	// no row satisfied those conditions.
	ConsumeOTP(ctx context.Context, userID, code string, now time.Time) (*domain.User, error)
}

// PostRepository persists blog posts with paginated retrieval.
type PostRepository interface {
	CreatePost(ctx context.Context, post *domain.Post) error
	GetPostByID(ctx context.Context, id string, viewerID string) (*domain.PostView, error)
	ListPosts(ctx context.Context, limit, offset int, viewerID string) ([]domain.PostView, error)
	CountPosts(ctx context.Context) (int, error)
	ListPostsByAuthor(ctx context.Context, authorID string, limit, offset int) ([]domain.PostView, error)
	CountPostsByAuthor(ctx context.Context, authorID string) (int, error)
	UpdatePost(ctx context.Context, post *domain.Post) error
	DeletePost(ctx context.Context, id string) error
}
