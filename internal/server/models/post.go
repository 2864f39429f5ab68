// Package models defines server-side data models persisted in the database.
package models

import "time"

// Post is a board post. DeletedAt is nil while the post is active.
type Post struct {
	ID           int64
	Title        string
	Content      string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Active reports whether the post has not been soft-deleted.
func (p *Post) Active() bool {
	return p.DeletedAt == nil
}

// PostSummary is a list row. HasFiles is true when at least one
// attachment of the post is not deleted.
type PostSummary struct {
	Post
	HasFiles bool
}

// PostDetail is a post together with its downloadable attachments.
type PostDetail struct {
	Post
	Files []*Attachment
}
