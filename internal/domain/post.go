package domain

import "time"

// Post is a blog entry. AuthorID is set at creation and never reassigned.
type Post struct {
	ID          string
	Title       string
	Description string
	Content     string
	ImageURL    string
	AuthorID    string
	AuthorName  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PostView is a post annotated with viewer-relative ownership.
type PostView struct {
	Post
	IsOwner bool
}
