package post

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/inkpost/api/internal/domain"
	"github.com/inkpost/api/internal/repository"
	"github.com/inkpost/api/internal/storage"
)

// Closed error set; the HTTP boundary maps each to a status code.
var (
	ErrValidation = errors.New("title, description, and content are required")
	ErrNotFound   = errors.New("blog not found")
	ErrForbidden  = errors.New("not the owner of this blog")
)

// Pagination bounds. The page size default matches the client's grid; the cap
// keeps a single query from dragging the whole table across the wire.
const (
	DefaultPageSize = 6
	MaxPageSize     = 100
)

// Input carries the caller-supplied fields for create and update.
type Input struct {
	Title       string
	Description string
	Content     string
	ImageURL    string
}

// Page is one slice of the post listing plus derived pagination metadata.
type Page struct {
	Posts      []domain.PostView
	Pagination domain.Pagination
}

// Service orchestrates post CRUD, ownership enforcement and pagination.
type Service struct {
	posts  repository.PostRepository
	images storage.Store
	logger *slog.Logger
}

// New constructs a Service.
func New(posts repository.PostRepository, images storage.Store, logger *slog.Logger) Service {
	return Service{posts: posts, images: images, logger: logger}
}

// ListAll returns a page of every author's posts, newest-first, with
// ownership computed against viewerID (empty when anonymous).
func (s Service) ListAll(ctx context.Context, page, pageSize int, viewerID string) (*Page, error) {
	page, pageSize = clampPage(page, pageSize)
	total, err := s.posts.CountPosts(ctx)
	if err != nil {
		return nil, err
	}
	posts, err := s.posts.ListPosts(ctx, pageSize, (page-1)*pageSize, viewerID)
	if err != nil {
		return nil, err
	}
	return buildPage(posts, total, page, pageSize), nil
}

// ListByOwner returns a page of the caller's own posts.
func (s Service) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) (*Page, error) {
	page, pageSize = clampPage(page, pageSize)
	total, err := s.posts.CountPostsByAuthor(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	posts, err := s.posts.ListPostsByAuthor(ctx, ownerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return buildPage(posts, total, page, pageSize), nil
}

// GetByID fetches a single post with ownership relative to the viewer.
func (s Service) GetByID(ctx context.Context, id, viewerID string) (*domain.PostView, error) {
	view, err := s.posts.GetPostByID(ctx, id, viewerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return view, nil
}

// Create stores a new post owned by ownerID.
func (s Service) Create(ctx context.Context, input Input, ownerID string) (*domain.PostView, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	post := &domain.Post{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Content:     input.Content,
		ImageURL:    input.ImageURL,
		AuthorID:    ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.posts.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	s.logger.Info("post created", "post_id", post.ID, "author_id", ownerID)
	return s.posts.GetPostByID(ctx, post.ID, ownerID)
}

// SaveImage stores an uploaded image and returns the reference to persist on
// the post. Returns empty when no store is configured.
func (s Service) SaveImage(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if s.images == nil {
		return "", errors.New("image storage not configured")
	}
	return s.images.Save(ctx, filename, contentType, r)
}

// Update rewrites a post's mutable fields after the ownership check. An empty
// ImageURL keeps the existing image; when the image changes, the previous
// stored file is removed best-effort.
func (s Service) Update(ctx context.Context, id string, input Input, ownerID string) (*domain.PostView, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	existing, err := s.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if !existing.IsOwner {
		return nil, ErrForbidden
	}
	imageURL := strings.TrimSpace(input.ImageURL)
	if imageURL == "" {
		imageURL = existing.ImageURL
	}
	post := &domain.Post{
		ID:          id,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Content:     input.Content,
		ImageURL:    imageURL,
	}
	if err := s.posts.UpdatePost(ctx, post); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if existing.ImageURL != "" && existing.ImageURL != imageURL {
		s.removeImage(ctx, id, existing.ImageURL)
	}
	return s.posts.GetPostByID(ctx, id, ownerID)
}

// Delete removes a post after the ownership check. The stored image, if any,
// is removed best-effort after the row deletion.
func (s Service) Delete(ctx context.Context, id, ownerID string) error {
	existing, err := s.GetByID(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if !existing.IsOwner {
		return ErrForbidden
	}
	if err := s.posts.DeletePost(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if existing.ImageURL != "" {
		s.removeImage(ctx, id, existing.ImageURL)
	}
	s.logger.Info("post deleted", "post_id", id, "author_id", ownerID)
	return nil
}

func (s Service) removeImage(ctx context.Context, postID, ref string) {
	if s.images == nil {
		return
	}
	if err := s.images.Remove(ctx, ref); err != nil {
		s.logger.Warn("failed to remove stored image", "post_id", postID, "ref", ref, "error", err)
	}
}

func validate(input Input) error {
	if strings.TrimSpace(input.Title) == "" ||
		strings.TrimSpace(input.Description) == "" ||
		strings.TrimSpace(input.Content) == "" {
		return ErrValidation
	}
	return nil
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func buildPage(posts []domain.PostView, total, page, pageSize int) *Page {
	totalPages := (total + pageSize - 1) / pageSize
	return &Page{
		Posts: posts,
		Pagination: domain.Pagination{
			TotalCount:  total,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	}
}
