package store

import (
	"errors"
	"time"

	"github.com/raysh454/reconcile/internal/conflict"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrStaleParent     = errors.New("parent is not the current head")
	ErrAlreadyResolved = errors.New("conflict already resolved")
)

// Document is a named text with a linear history of versions.
type Document struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	HeadVersionID string    `json:"head_version_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Version is one committed state of a document. Content is only populated by GetVersion.
type Version struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Seq        int64     `json:"seq"`
	BlobID     string    `json:"blob_id"`
	Size       int64     `json:"size"`
	AuthorID   string    `json:"author_id,omitempty"`
	AuthorName string    `json:"author_name,omitempty"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Content    string    `json:"content,omitempty"`
}

// CommitRequest appends a version on top of ParentID, which must be the current head.
type CommitRequest struct {
	DocumentID string
	ParentID   string
	AuthorID   string
	AuthorName string
	Message    string
	Content    string
}

// ConflictRecord is a detected conflict together with the versions it was detected
// between: BaseVersionID is what the incoming edit was based on and HeadVersionID the
// head it collided with.
type ConflictRecord struct {
	conflict.Conflict
	DocumentID    string     `json:"document_id"`
	BaseVersionID string     `json:"base_version_id"`
	HeadVersionID string     `json:"head_version_id"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}
