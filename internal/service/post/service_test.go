package post

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"testing"
	"time"

	"log/slog"

	"github.com/inkpost/api/internal/domain"
	"github.com/inkpost/api/internal/repository"
)

type stubPostRepository struct {
	byID map[string]*domain.Post
}

func newStubPostRepository() *stubPostRepository {
	return &stubPostRepository{byID: make(map[string]*domain.Post)}
}

func (s *stubPostRepository) seed(post *domain.Post) {
	clone := *post
	s.byID[post.ID] = &clone
}

func (s *stubPostRepository) CreatePost(_ context.Context, post *domain.Post) error {
	s.seed(post)
	return nil
}

func (s *stubPostRepository) GetPostByID(_ context.Context, id string, viewerID string) (*domain.PostView, error) {
	stored, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.view(stored, viewerID), nil
}

func (s *stubPostRepository) ListPosts(_ context.Context, limit, offset int, viewerID string) ([]domain.PostView, error) {
	return s.page(s.sorted(func(*domain.Post) bool { return true }), limit, offset, viewerID), nil
}

func (s *stubPostRepository) CountPosts(_ context.Context) (int, error) {
	return len(s.byID), nil
}

func (s *stubPostRepository) ListPostsByAuthor(_ context.Context, authorID string, limit, offset int) ([]domain.PostView, error) {
	return s.page(s.sorted(func(p *domain.Post) bool { return p.AuthorID == authorID }), limit, offset, authorID), nil
}

func (s *stubPostRepository) CountPostsByAuthor(_ context.Context, authorID string) (int, error) {
	count := 0
	for _, post := range s.byID {
		if post.AuthorID == authorID {
			count++
		}
	}
	return count, nil
}

func (s *stubPostRepository) UpdatePost(_ context.Context, post *domain.Post) error {
	stored, ok := s.byID[post.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Title = post.Title
	stored.Description = post.Description
	stored.Content = post.Content
	stored.ImageURL = post.ImageURL
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *stubPostRepository) DeletePost(_ context.Context, id string) error {
	if _, ok := s.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *stubPostRepository) sorted(keep func(*domain.Post) bool) []*domain.Post {
	out := make([]*domain.Post, 0, len(s.byID))
	for _, post := range s.byID {
		if keep(post) {
			out = append(out, post)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *stubPostRepository) page(posts []*domain.Post, limit, offset int, viewerID string) []domain.PostView {
	if offset >= len(posts) {
		return nil
	}
	posts = posts[offset:]
	if limit < len(posts) {
		posts = posts[:limit]
	}
	out := make([]domain.PostView, 0, len(posts))
	for _, stored := range posts {
		out = append(out, *s.view(stored, viewerID))
	}
	return out
}

func (s *stubPostRepository) view(stored *domain.Post, viewerID string) *domain.PostView {
	clone := *stored
	return &domain.PostView{Post: clone, IsOwner: viewerID != "" && viewerID == stored.AuthorID}
}

type stubStore struct {
	removed []string
	saveErr error
}

func (s *stubStore) Save(_ context.Context, _, _ string, r io.Reader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "/uploads/new.png", nil
}

func (s *stubStore) Remove(_ context.Context, ref string) error {
	s.removed = append(s.removed, ref)
	return nil
}

func newTestService(repo *stubPostRepository, store *stubStore) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, store, log)
}

func seedPosts(repo *stubPostRepository, n int, authorID string) {
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		repo.seed(&domain.Post{
			ID:        "post-" + strconv.Itoa(i),
			Title:     "title " + strconv.Itoa(i),
			AuthorID:  authorID,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestListAllPaginationMath(t *testing.T) {
	repo := newStubPostRepository()
	seedPosts(repo, 13, "author-1")
	svc := newTestService(repo, &stubStore{})

	page, err := svc.ListAll(context.Background(), 1, 6, "")
	if err != nil {
		t.Fatalf("ListAll returned error: %v", err)
	}
	if len(page.Posts) != 6 {
		t.Fatalf("expected 6 posts on page 1, got %d", len(page.Posts))
	}
	if page.Pagination.TotalCount != 13 || page.Pagination.TotalPages != 3 {
		t.Fatalf("unexpected pagination: %+v", page.Pagination)
	}
	if page.Posts[0].ID != "post-12" {
		t.Fatalf("expected newest post first, got %s", page.Posts[0].ID)
	}

	last, err := svc.ListAll(context.Background(), 3, 6, "")
	if err != nil {
		t.Fatalf("ListAll page 3 returned error: %v", err)
	}
	if len(last.Posts) != 1 {
		t.Fatalf("expected 1 post on page 3, got %d", len(last.Posts))
	}
}

func TestListAllClampsPageParams(t *testing.T) {
	repo := newStubPostRepository()
	seedPosts(repo, 3, "author-1")
	svc := newTestService(repo, &stubStore{})

	page, err := svc.ListAll(context.Background(), -5, 0, "")
	if err != nil {
		t.Fatalf("ListAll returned error: %v", err)
	}
	if page.Pagination.CurrentPage != 1 || page.Pagination.PageSize != DefaultPageSize {
		t.Fatalf("expected clamped pagination, got %+v", page.Pagination)
	}

	page, err = svc.ListAll(context.Background(), 1, 5000, "")
	if err != nil {
		t.Fatalf("ListAll returned error: %v", err)
	}
	if page.Pagination.PageSize != MaxPageSize {
		t.Fatalf("expected page size capped at %d, got %d", MaxPageSize, page.Pagination.PageSize)
	}
}

func TestListAllComputesOwnershipAgainstViewer(t *testing.T) {
	repo := newStubPostRepository()
	repo.seed(&domain.Post{ID: "mine", AuthorID: "viewer-1"})
	repo.seed(&domain.Post{ID: "theirs", AuthorID: "someone-else"})
	svc := newTestService(repo, &stubStore{})

	page, err := svc.ListAll(context.Background(), 1, 10, "viewer-1")
	if err != nil {
		t.Fatalf("ListAll returned error: %v", err)
	}
	owned := map[string]bool{}
	for _, view := range page.Posts {
		owned[view.ID] = view.IsOwner
	}
	if !owned["mine"] || owned["theirs"] {
		t.Fatalf("unexpected ownership flags: %v", owned)
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	repo := newStubPostRepository()
	svc := newTestService(repo, &stubStore{})

	input := Input{Title: " My Post ", Description: "short", Content: "long form", ImageURL: "/uploads/a.png"}
	created, err := svc.Create(context.Background(), input, "author-1")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Title != "My Post" {
		t.Fatalf("expected trimmed title, got %q", created.Title)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("expected server-assigned id and timestamp: %+v", created)
	}
	if !created.IsOwner {
		t.Fatalf("creator must own the post")
	}

	got, err := svc.GetByID(context.Background(), created.ID, "author-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.Title != created.Title || got.Description != "short" || got.Content != "long form" || got.ImageURL != "/uploads/a.png" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newStubPostRepository(), &stubStore{})
	if _, err := svc.Create(context.Background(), Input{Title: "only"}, "author-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUpdateForbiddenForNonOwner(t *testing.T) {
	repo := newStubPostRepository()
	repo.seed(&domain.Post{ID: "p1", Title: "t", Description: "d", Content: "c", AuthorID: "owner"})
	svc := newTestService(repo, &stubStore{})

	input := Input{Title: "x", Description: "y", Content: "z"}
	if _, err := svc.Update(context.Background(), "p1", input, "intruder"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if repo.byID["p1"].Title != "t" {
		t.Fatalf("forbidden update must not mutate the post")
	}
}

func TestUpdateKeepsImageWhenNoneSupplied(t *testing.T) {
	repo := newStubPostRepository()
	repo.seed(&domain.Post{ID: "p1", Title: "t", Description: "d", Content: "c", AuthorID: "owner", ImageURL: "/uploads/old.png"})
	store := &stubStore{}
	svc := newTestService(repo, store)

	updated, err := svc.Update(context.Background(), "p1", Input{Title: "t2", Description: "d2", Content: "c2"}, "owner")
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.ImageURL != "/uploads/old.png" {
		t.Fatalf("expected existing image kept, got %q", updated.ImageURL)
	}
	if len(store.removed) != 0 {
		t.Fatalf("unchanged image must not be removed: %v", store.removed)
	}
}

func TestUpdateReplacingImageRemovesOldFile(t *testing.T) {
	repo := newStubPostRepository()
	repo.seed(&domain.Post{ID: "p1", Title: "t", Description: "d", Content: "c", AuthorID: "owner", ImageURL: "/uploads/old.png"})
	store := &stubStore{}
	svc := newTestService(repo, store)

	input := Input{Title: "t2", Description: "d2", Content: "c2", ImageURL: "/uploads/new.png"}
	updated, err := svc.Update(context.Background(), "p1", input, "owner")
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.ImageURL != "/uploads/new.png" {
		t.Fatalf("expected new image, got %q", updated.ImageURL)
	}
	if len(store.removed) != 1 || store.removed[0] != "/uploads/old.png" {
		t.Fatalf("expected old image removed, got %v", store.removed)
	}
}

func TestDeleteForbiddenAndSuccess(t *testing.T) {
	repo := newStubPostRepository()
	repo.seed(&domain.Post{ID: "p1", Title: "t", Description: "d", Content: "c", AuthorID: "owner", ImageURL: "/uploads/a.png"})
	store := &stubStore{}
	svc := newTestService(repo, store)

	if err := svc.Delete(context.Background(), "p1", "intruder"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, ok := repo.byID["p1"]; !ok {
		t.Fatalf("forbidden delete must not remove the post")
	}

	if err := svc.Delete(context.Background(), "p1", "owner"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok := repo.byID["p1"]; ok {
		t.Fatalf("expected post removed")
	}
	if len(store.removed) != 1 || store.removed[0] != "/uploads/a.png" {
		t.Fatalf("expected stored image removed, got %v", store.removed)
	}
}

func TestDeleteMissingPost(t *testing.T) {
	svc := newTestService(newStubPostRepository(), &stubStore{})
	if err := svc.Delete(context.Background(), "ghost", "owner"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByOwnerFiltersAuthors(t *testing.T) {
	repo := newStubPostRepository()
	seedPosts(repo, 4, "author-1")
	repo.seed(&domain.Post{ID: "other", AuthorID: "author-2"})
	svc := newTestService(repo, &stubStore{})

	page, err := svc.ListByOwner(context.Background(), "author-1", 1, 10)
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if page.Pagination.TotalCount != 4 || len(page.Posts) != 4 {
		t.Fatalf("unexpected result: %+v", page.Pagination)
	}
	for _, view := range page.Posts {
		if !view.IsOwner {
			t.Fatalf("owner listing must mark every post owned: %+v", view)
		}
	}
}
