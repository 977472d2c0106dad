package notes

import (
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the local reconciliation state of a staged note.
type Status string

const (
	// StatusPending marks local content that has not been applied remotely.
	StatusPending Status = "pending"
	// StatusPendingDelete marks a tombstone whose deletion has not been applied remotely.
	StatusPendingDelete Status = "pending_delete"
	// StatusSynced marks a record whose latest local state is stored remotely.
	StatusSynced Status = "synced"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidStatus indicates a stored status outside the known set.
	ErrInvalidStatus = errors.New("notes: invalid status")
)

// NoteID represents a validated local note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPendingDelete, StatusSynced:
		return true
	default:
		return false
	}
}

// Fields holds the user-editable content of a note.
type Fields struct {
	Title       string
	Content     string
	IsCompleted bool
	UserID      string
}

// Patch carries a shallow partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string
	Content     *string
	IsCompleted *bool
	UserID      *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.IsCompleted == nil && p.UserID == nil
}

// StagedNote is the unit of offline work held in the local store.
type StagedNote struct {
	ID              string
	RemoteID        string
	Title           string
	Content         string
	IsCompleted     bool
	UserID          string
	CreatedAtMillis int64
	Status          Status
	Revision        int64
}

// HasOwner reports whether the record carries a user id and may be propagated.
func (n StagedNote) HasOwner() bool {
	return strings.TrimSpace(n.UserID) != ""
}

// IsSynced mirrors the flag form of the status.
func (n StagedNote) IsSynced() bool {
	return n.Status == StatusSynced
}

// IsDeleted mirrors the tombstone flag form of the status.
func (n StagedNote) IsDeleted() bool {
	return n.Status == StatusPendingDelete
}

// Document returns the payload sent to the remote collection.
func (n StagedNote) Document() Document {
	return Document{
		Title:           n.Title,
		Content:         n.Content,
		IsCompleted:     n.IsCompleted,
		UserID:          n.UserID,
		CreatedAtMillis: n.CreatedAtMillis,
	}
}

func (n *StagedNote) apply(patch Patch) {
	if patch.Title != nil {
		n.Title = *patch.Title
	}
	if patch.Content != nil {
		n.Content = *patch.Content
	}
	if patch.IsCompleted != nil {
		n.IsCompleted = *patch.IsCompleted
	}
	if patch.UserID != nil {
		n.UserID = *patch.UserID
	}
}

// Document is the remote representation of a note.
type Document struct {
	Title           string `json:"title"`
	Content         string `json:"content"`
	IsCompleted     bool   `json:"isCompleted"`
	UserID          string `json:"userId"`
	CreatedAtMillis int64  `json:"createdAt"`
}
