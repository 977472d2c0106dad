package notes

import (
	"encoding/json"
	"fmt"
)

// storedNote is the JSON layout of a staged record in the key-value store.
// isSynced and isDeleted are written alongside status so entries stay
// readable by clients that only understand the flag form.
type storedNote struct {
	ID          string `json:"id"`
	RemoteID    string `json:"remoteId,omitempty"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	IsCompleted bool   `json:"isCompleted"`
	UserID      string `json:"userId"`
	CreatedAt   int64  `json:"createdAt"`
	Status      Status `json:"status,omitempty"`
	IsSynced    bool   `json:"isSynced"`
	IsDeleted   bool   `json:"isDeleted"`
	Revision    int64  `json:"revision"`
}

func encodeNote(note StagedNote) (string, error) {
	if !note.Status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, note.Status)
	}
	payload, err := json.Marshal(storedNote{
		ID:          note.ID,
		RemoteID:    note.RemoteID,
		Title:       note.Title,
		Content:     note.Content,
		IsCompleted: note.IsCompleted,
		UserID:      note.UserID,
		CreatedAt:   note.CreatedAtMillis,
		Status:      note.Status,
		IsSynced:    note.IsSynced(),
		IsDeleted:   note.IsDeleted(),
		Revision:    note.Revision,
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// decodeNote parses a stored value. The key is authoritative for the id.
// Entries without a status are decoded from their flags; a deleted entry that
// is already flagged synced decodes as a tombstone with no remote id so the
// next sync pass purges it locally.
func decodeNote(key, raw string) (StagedNote, error) {
	var stored storedNote
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return StagedNote{}, err
	}

	status := stored.Status
	remoteID := stored.RemoteID
	if status == "" {
		switch {
		case stored.IsDeleted && stored.IsSynced:
			status = StatusPendingDelete
			remoteID = ""
		case stored.IsDeleted:
			status = StatusPendingDelete
		case stored.IsSynced:
			status = StatusSynced
		default:
			status = StatusPending
		}
	}
	if !status.Valid() {
		return StagedNote{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	return StagedNote{
		ID:              key,
		RemoteID:        remoteID,
		Title:           stored.Title,
		Content:         stored.Content,
		IsCompleted:     stored.IsCompleted,
		UserID:          stored.UserID,
		CreatedAtMillis: stored.CreatedAt,
		Status:          status,
		Revision:        stored.Revision,
	}, nil
}
