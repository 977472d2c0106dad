// Package collection stores the authoritative note documents served by the
// hosted note collection API.
package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/database"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates that no document exists for the identifier.
	ErrNotFound = errors.New("collection: document not found")
	// ErrForbidden indicates that the document belongs to another user.
	ErrForbidden = errors.New("collection: document owned by another user")

	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	errMissingDocID    = errors.New("document identifier is required")
	noOpLogger         = zap.NewNop()
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
	opServiceNew = "collection.service.new"
	opAdd        = "collection.add"
	opUpdate     = "collection.update"
	opDelete     = "collection.delete"
	opList       = "collection.list"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Document is one stored note.
type Document struct {
	ID               string `gorm:"column:id;primaryKey;size:64"`
	UserID           string `gorm:"column:user_id;size:190;not null;index"`
	Title            string `gorm:"column:title;type:text;not null"`
	Content          string `gorm:"column:content;type:text;not null"`
	IsCompleted      bool   `gorm:"column:is_completed;not null"`
	CreatedAtMillis  int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "note_documents"
}

// Open opens (or creates) the SQLite file at path with the document schema.
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	return database.OpenSQLite(database.Options{
		Path:   path,
		Models: []any{&Document{}},
		Logger: logger,
	})
}

// Input carries the client-writable document fields.
type Input struct {
	Title           string
	Content         string
	IsCompleted     bool
	UserID          string
	CreatedAtMillis int64
}

type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

func (uuidProvider) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewUUIDProvider issues time-ordered UUIDv7 document identifiers.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Add stores a new document for userID and returns its identifier. A
// document naming a different owner is rejected.
func (s *Service) Add(ctx context.Context, userID string, input Input) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", newServiceError(opAdd, "missing_user_id", errMissingUserID)
	}
	if input.UserID != userID {
		return "", newServiceError(opAdd, "owner_mismatch", ErrForbidden)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAdd, "id_generation_failed", err, zap.String("user_id", userID))
		return "", newServiceError(opAdd, "id_generation_failed", err)
	}

	createdAt := input.CreatedAtMillis
	now := s.clock().UTC()
	if createdAt <= 0 {
		createdAt = now.UnixMilli()
	}
	document := Document{
		ID:               id,
		UserID:           userID,
		Title:            input.Title,
		Content:          input.Content,
		IsCompleted:      input.IsCompleted,
		CreatedAtMillis:  createdAt,
		UpdatedAtSeconds: now.Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&document).Error; err != nil {
		s.logError(opAdd, "insert_failed", err, zap.String("user_id", userID))
		return "", newServiceError(opAdd, "insert_failed", err)
	}
	return id, nil
}

// Update replaces the writable fields of an existing document.
func (s *Service) Update(ctx context.Context, userID, id string, input Input) error {
	if input.UserID != strings.TrimSpace(userID) {
		return newServiceError(opUpdate, "owner_mismatch", ErrForbidden)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.load(tx, opUpdate, userID, id)
		if err != nil {
			return err
		}
		existing.Title = input.Title
		existing.Content = input.Content
		existing.IsCompleted = input.IsCompleted
		if input.CreatedAtMillis > 0 {
			existing.CreatedAtMillis = input.CreatedAtMillis
		}
		existing.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opUpdate, "save_failed", err, zap.String("user_id", userID), zap.String("document_id", id))
			return newServiceError(opUpdate, "save_failed", err)
		}
		return nil
	})
}

// Delete removes a document owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.load(tx, opDelete, userID, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&existing).Error; err != nil {
			s.logError(opDelete, "delete_failed", err, zap.String("user_id", userID), zap.String("document_id", id))
			return newServiceError(opDelete, "delete_failed", err)
		}
		return nil
	})
}

// List returns the documents owned by userID, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]Document, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newServiceError(opList, "missing_user_id", errMissingUserID)
	}
	var documents []Document
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at_ms ASC").
		Order("id ASC").
		Find(&documents).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return documents, nil
}

func (s *Service) load(tx *gorm.DB, operation, userID, id string) (Document, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Document{}, newServiceError(operation, "missing_user_id", errMissingUserID)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Document{}, newServiceError(operation, "missing_document_id", errMissingDocID)
	}

	var existing Document
	err := tx.Where("id = ?", id).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, newServiceError(operation, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.String("user_id", userID), zap.String("document_id", id))
		return Document{}, newServiceError(operation, "select_failed", err)
	}
	if existing.UserID != userID {
		return Document{}, newServiceError(operation, "owner_mismatch", ErrForbidden)
	}
	return existing, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("collection service error", attrs...)
}
