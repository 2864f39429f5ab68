package models

import (
	"io"
	"time"
)

// AttachmentStatus is the transfer state of an attachment.
type AttachmentStatus string

const (
	AttachmentPending AttachmentStatus = "PENDING"
	AttachmentReady   AttachmentStatus = "READY"
	AttachmentFailed  AttachmentStatus = "FAILED"
	AttachmentDeleted AttachmentStatus = "DELETED"
)

func (s AttachmentStatus) Valid() bool {
	switch s {
	case AttachmentPending, AttachmentReady, AttachmentFailed, AttachmentDeleted:
		return true
	}
	return false
}

// Attachment is the metadata of a file attached to a post. The bytes live
// in the blob store under StorageKey, which is never reused.
type Attachment struct {
	ID           int64
	PostID       int64
	OriginalName string
	StorageKey   string
	ContentType  string
	SizeBytes    int64
	Status       AttachmentStatus
	// ErrorMessage is set only for FAILED attachments.
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Download is an opened attachment ready to be streamed. The caller must
// close Body.
type Download struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}
