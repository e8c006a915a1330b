package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkpost/api/internal/domain"
	"github.com/inkpost/api/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.PostRepository = (*Repository)(nil)
)

// CreateUser inserts a user. A unique-violation on email maps to ErrDuplicate.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, name, email, password_hash, is_verified, otp_code, otp_expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.IsVerified,
		stringPtrToNil(user.OTPCode),
		timePtrToNil(user.OTPExpiresAt),
		user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return repository.ErrDuplicate
			case "23514", "22P02":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}
	return nil
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, name, email, password_hash, is_verified, otp_code, otp_expires_at, created_at
		FROM users WHERE email = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, name, email, password_hash, is_verified, otp_code, otp_expires_at, created_at
		FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// ListUsers returns all users ordered by creation time.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	const query = `SELECT id, name, email, password_hash, is_verified, otp_code, otp_expires_at, created_at
		FROM users ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// SetOTP replaces the pending OTP for a user.
func (r *Repository) SetOTP(ctx context.Context, userID, code string, expiresAt time.Time) error {
	const query = `UPDATE users SET otp_code = $2, otp_expires_at = $3 WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, userID, code, expiresAt)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ConsumeOTP flips verification and clears OTP state in one statement, guarded
// by code match and expiry. No matching row maps to ErrNotFound.
func (r *Repository) ConsumeOTP(ctx context.Context, userID, code string, now time.Time) (*domain.User, error) {
	const query = `UPDATE users
		SET is_verified = TRUE, otp_code = NULL, otp_expires_at = NULL
		WHERE id = $1 AND otp_code = $2 AND otp_expires_at > $3
		RETURNING id, name, email, password_hash, is_verified, otp_code, otp_expires_at, created_at`
	return r.scanUser(r.pool.QueryRow(ctx, query, userID, code, now))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	user, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func scanUserRow(row pgx.Row) (*domain.User, error) {
	var (
		u          domain.User
		otpCode    sql.NullString
		otpExpires sql.NullTime
	)
	if err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.IsVerified,
		&otpCode,
		&otpExpires,
		&u.CreatedAt,
	); err != nil {
		return nil, err
	}
	if otpCode.Valid {
		value := otpCode.String
		u.OTPCode = &value
	}
	if otpExpires.Valid {
		value := otpExpires.Time.UTC()
		u.OTPExpiresAt = &value
	}
	return &u, nil
}

// CreatePost inserts a post.
func (r *Repository) CreatePost(ctx context.Context, post *domain.Post) error {
	const query = `INSERT INTO posts (id, title, description, content, image_url, author_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		post.ID,
		post.Title,
		post.Description,
		post.Content,
		emptyToNil(post.ImageURL),
		post.AuthorID,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503":
				return repository.ErrNotFound
			case "23514", "22P02":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}
	return nil
}

// GetPostByID fetches a post with its author name, annotated with ownership
// relative to viewerID (empty when anonymous).
func (r *Repository) GetPostByID(ctx context.Context, id string, viewerID string) (*domain.PostView, error) {
	const query = `SELECT p.id, p.title, p.description, p.content, p.image_url, p.author_id, u.name,
			p.created_at, p.updated_at, p.author_id::text = $2
		FROM posts p
		INNER JOIN users u ON u.id = p.author_id
		WHERE p.id = $1`
	row := r.pool.QueryRow(ctx, query, id, viewerID)
	view, err := scanPostRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return view, nil
}

// ListPosts returns a page of posts ordered newest-first.
func (r *Repository) ListPosts(ctx context.Context, limit, offset int, viewerID string) ([]domain.PostView, error) {
	const query = `SELECT p.id, p.title, p.description, p.content, p.image_url, p.author_id, u.name,
			p.created_at, p.updated_at, p.author_id::text = $3
		FROM posts p
		INNER JOIN users u ON u.id = p.author_id
		ORDER BY p.created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPostRows(rows)
}

// CountPosts counts all posts.
func (r *Repository) CountPosts(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(1) FROM posts`
	var count int
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListPostsByAuthor returns a page of one author's posts, newest-first.
func (r *Repository) ListPostsByAuthor(ctx context.Context, authorID string, limit, offset int) ([]domain.PostView, error) {
	const query = `SELECT p.id, p.title, p.description, p.content, p.image_url, p.author_id, u.name,
			p.created_at, p.updated_at, TRUE
		FROM posts p
		INNER JOIN users u ON u.id = p.author_id
		WHERE p.author_id = $1
		ORDER BY p.created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, authorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPostRows(rows)
}

// CountPostsByAuthor counts posts owned by one author.
func (r *Repository) CountPostsByAuthor(ctx context.Context, authorID string) (int, error) {
	const query = `SELECT COUNT(1) FROM posts WHERE author_id = $1`
	var count int
	if err := r.pool.QueryRow(ctx, query, authorID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdatePost rewrites mutable post fields and touches updated_at. The author
// column is never part of the update.
func (r *Repository) UpdatePost(ctx context.Context, post *domain.Post) error {
	const query = `UPDATE posts
		SET title = $2, description = $3, content = $4, image_url = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	row := r.pool.QueryRow(ctx, query,
		post.ID,
		post.Title,
		post.Description,
		post.Content,
		emptyToNil(post.ImageURL),
	)
	var updatedAt time.Time
	if err := row.Scan(&updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	post.UpdatedAt = updatedAt
	return nil
}

// DeletePost removes a post row.
func (r *Repository) DeletePost(ctx context.Context, id string) error {
	const query = `DELETE FROM posts WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanPostRow(row pgx.Row) (*domain.PostView, error) {
	var (
		view     domain.PostView
		imageURL sql.NullString
	)
	if err := row.Scan(
		&view.ID,
		&view.Title,
		&view.Description,
		&view.Content,
		&imageURL,
		&view.AuthorID,
		&view.AuthorName,
		&view.CreatedAt,
		&view.UpdatedAt,
		&view.IsOwner,
	); err != nil {
		return nil, err
	}
	if imageURL.Valid {
		view.ImageURL = imageURL.String
	}
	return &view, nil
}

func collectPostRows(rows pgx.Rows) ([]domain.PostView, error) {
	posts := make([]domain.PostView, 0)
	for rows.Next() {
		view, err := scanPostRow(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *view)
	}
	return posts, rows.Err()
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func stringPtrToNil(v *string) any {
	if v == nil {
		return nil
	}
	if strings.TrimSpace(*v) == "" {
		return nil
	}
	return *v
}

func timePtrToNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
