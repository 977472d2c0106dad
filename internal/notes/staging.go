package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxIDAttempts = 5

var (
	// ErrNotFound indicates that no staged note exists for the identifier.
	ErrNotFound = errors.New("notes: staged note not found")
	// ErrInvalidUserID indicates an empty owner id.
	ErrInvalidUserID = errors.New("notes: invalid user id")

	errMissingStore      = errors.New("key-value store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errIDExhausted       = errors.New("could not allocate an unused note id")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStagingNew  = "notes.staging.new"
	opStageCreate = "notes.stage_create"
	opStageUpdate = "notes.stage_update"
	opStageDelete = "notes.stage_delete"
	opListPending = "notes.list_pending"
	opList        = "notes.list"
	opGet         = "notes.get"
	opMarkSynced  = "notes.mark_synced"
	opPurge       = "notes.purge"
	opAssignOwner = "notes.assign_owner"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// KeyValueStore is the local persistence the staging store writes through.
type KeyValueStore interface {
	Set(ctx context.Context, key, value string) error
	GetString(ctx context.Context, key string) (string, bool, error)
	GetAllKeys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
}

type IDProvider interface {
	NewID() (string, error)
}

type StagingConfig struct {
	Store      KeyValueStore
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// StagingStore records local note mutations until the sync engine confirms
// them remotely. Read-modify-write sequences are serialized per instance.
type StagingStore struct {
	mu         sync.Mutex
	store      KeyValueStore
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewStagingStore(cfg StagingConfig) (*StagingStore, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opStagingNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStagingNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &StagingStore{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// StageCreate stores a new pending note and returns its local identifier.
func (s *StagingStore) StageCreate(ctx context.Context, fields Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.allocateID(ctx)
	if err != nil {
		s.logError(opStageCreate, "id_generation_failed", err)
		return "", newServiceError(opStageCreate, "id_generation_failed", err)
	}

	note := StagedNote{
		ID:              id,
		Title:           fields.Title,
		Content:         fields.Content,
		IsCompleted:     fields.IsCompleted,
		UserID:          fields.UserID,
		CreatedAtMillis: s.clock().UTC().UnixMilli(),
		Status:          StatusPending,
		Revision:        1,
	}
	if err := s.save(ctx, note); err != nil {
		s.logError(opStageCreate, "save_failed", err, zap.String("note_id", id))
		return "", newServiceError(opStageCreate, "save_failed", err)
	}
	return id, nil
}

// StageUpdate shallow-merges patch into the staged note and marks it pending.
func (s *StagingStore) StageUpdate(ctx context.Context, rawID string, patch Patch) error {
	id, err := NewNoteID(rawID)
	if err != nil {
		return newServiceError(opStageUpdate, "invalid_note_id", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	note, err := s.load(ctx, id.String())
	if err != nil {
		return s.wrapLoadError(opStageUpdate, id.String(), err)
	}

	note.apply(patch)
	note.Status = StatusPending
	note.Revision++
	if err := s.save(ctx, note); err != nil {
		s.logError(opStageUpdate, "save_failed", err, zap.String("note_id", id.String()))
		return newServiceError(opStageUpdate, "save_failed", err)
	}
	return nil
}

// StageDelete turns the staged note into a tombstone awaiting remote deletion.
func (s *StagingStore) StageDelete(ctx context.Context, rawID string) error {
	id, err := NewNoteID(rawID)
	if err != nil {
		return newServiceError(opStageDelete, "invalid_note_id", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	note, err := s.load(ctx, id.String())
	if err != nil {
		return s.wrapLoadError(opStageDelete, id.String(), err)
	}

	note.Status = StatusPendingDelete
	note.Revision++
	if err := s.save(ctx, note); err != nil {
		s.logError(opStageDelete, "save_failed", err, zap.String("note_id", id.String()))
		return newServiceError(opStageDelete, "save_failed", err)
	}
	return nil
}

// ListPending returns every record that still needs remote reconciliation.
// Entries that fail to decode are logged and skipped.
func (s *StagingStore) ListPending(ctx context.Context) ([]StagedNote, error) {
	all, err := s.scan(ctx, opListPending)
	if err != nil {
		return nil, err
	}
	pending := make([]StagedNote, 0, len(all))
	for _, note := range all {
		if note.Status != StatusSynced {
			pending = append(pending, note)
		}
	}
	return pending, nil
}

// List returns every staged note that is not a tombstone.
func (s *StagingStore) List(ctx context.Context) ([]StagedNote, error) {
	all, err := s.scan(ctx, opList)
	if err != nil {
		return nil, err
	}
	visible := make([]StagedNote, 0, len(all))
	for _, note := range all {
		if note.Status != StatusPendingDelete {
			visible = append(visible, note)
		}
	}
	return visible, nil
}

// Get returns a single staged note.
func (s *StagingStore) Get(ctx context.Context, rawID string) (StagedNote, error) {
	id, err := NewNoteID(rawID)
	if err != nil {
		return StagedNote{}, newServiceError(opGet, "invalid_note_id", err)
	}
	note, err := s.load(ctx, id.String())
	if err != nil {
		return StagedNote{}, s.wrapLoadError(opGet, id.String(), err)
	}
	return note, nil
}

// MarkSynced records the remote identifier and marks the note synced when no
// local edit happened since revision was read. It reports whether the note
// reached the synced state.
func (s *StagingStore) MarkSynced(ctx context.Context, id string, revision int64, remoteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note, err := s.load(ctx, id)
	if err != nil {
		return false, s.wrapLoadError(opMarkSynced, id, err)
	}

	if remoteID != "" {
		note.RemoteID = remoteID
	}
	marked := false
	if note.Revision == revision && note.Status == StatusPending {
		note.Status = StatusSynced
		marked = true
	}
	if err := s.save(ctx, note); err != nil {
		s.logError(opMarkSynced, "save_failed", err, zap.String("note_id", id))
		return false, newServiceError(opMarkSynced, "save_failed", err)
	}
	return marked, nil
}

// Purge physically removes a tombstone if it was not touched since revision.
// It reports whether the entry was removed.
func (s *StagingStore) Purge(ctx context.Context, id string, revision int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note, err := s.load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.wrapLoadError(opPurge, id, err)
	}
	if note.Revision != revision || note.Status != StatusPendingDelete {
		return false, nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.logError(opPurge, "delete_failed", err, zap.String("note_id", id))
		return false, newServiceError(opPurge, "delete_failed", err)
	}
	return true, nil
}

// AssignOwner stamps userID on every pending record that has no owner yet so
// the next sync pass can propagate it. It returns the number of records
// updated.
func (s *StagingStore) AssignOwner(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, newServiceError(opAssignOwner, "invalid_user_id", ErrInvalidUserID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.scan(ctx, opAssignOwner)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for _, note := range all {
		if note.Status == StatusSynced || note.HasOwner() {
			continue
		}
		note.UserID = userID
		note.Revision++
		if err := s.save(ctx, note); err != nil {
			s.logError(opAssignOwner, "save_failed", err, zap.String("note_id", note.ID))
			return assigned, newServiceError(opAssignOwner, "save_failed", err)
		}
		assigned++
	}
	return assigned, nil
}

func (s *StagingStore) scan(ctx context.Context, operation string) ([]StagedNote, error) {
	keys, err := s.store.GetAllKeys(ctx)
	if err != nil {
		s.logError(operation, "list_keys_failed", err)
		return nil, newServiceError(operation, "list_keys_failed", err)
	}

	notes := make([]StagedNote, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := s.store.GetString(ctx, key)
		if err != nil {
			s.logError(operation, "read_failed", err, zap.String("note_id", key))
			continue
		}
		if !ok {
			continue
		}
		note, err := decodeNote(key, raw)
		if err != nil {
			s.logger.Warn("skipping corrupted staged note",
				zap.String("operation", operation),
				zap.String("note_id", key),
				zap.Error(err))
			continue
		}
		notes = append(notes, note)
	}
	return notes, nil
}

func (s *StagingStore) load(ctx context.Context, id string) (StagedNote, error) {
	raw, ok, err := s.store.GetString(ctx, id)
	if err != nil {
		return StagedNote{}, err
	}
	if !ok {
		return StagedNote{}, ErrNotFound
	}
	return decodeNote(id, raw)
}

func (s *StagingStore) save(ctx context.Context, note StagedNote) error {
	encoded, err := encodeNote(note)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, note.ID, encoded)
}

func (s *StagingStore) allocateID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.idProvider.NewID()
		if err != nil {
			return "", err
		}
		if _, err := NewNoteID(id); err != nil {
			return "", err
		}
		_, exists, err := s.store.GetString(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		s.logger.Warn("note id collision", zap.String("note_id", id))
	}
	return "", errIDExhausted
}

func (s *StagingStore) wrapLoadError(operation, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return newServiceError(operation, "not_found", err)
	}
	s.logError(operation, "load_failed", err, zap.String("note_id", id))
	return newServiceError(operation, "load_failed", err)
}

func (s *StagingStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("note staging error", attrs...)
}
