// Package kvstore provides the persistent, process-local string key-value
// store that backs offline note staging.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultNamespace partitions note staging entries from any other local data.
const DefaultNamespace = "notes-storage"

var (
	errMissingDatabase  = errors.New("kvstore: database handle is required")
	errMissingNamespace = errors.New("kvstore: namespace is required")
	// ErrEmptyKey indicates an attempt to address an entry with a blank key.
	ErrEmptyKey = errors.New("kvstore: empty key")
)

// Entry is one stored value.
type Entry struct {
	Namespace string `gorm:"column:namespace;primaryKey;size:64;not null"`
	Key       string `gorm:"column:entry_key;primaryKey;size:190;not null"`
	Value     string `gorm:"column:entry_value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}

// Open opens (or creates) the SQLite file at path with the key-value schema.
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	return database.OpenSQLite(database.Options{
		Path:   path,
		Models: []any{&Entry{}},
		Logger: logger,
	})
}

// Store is a namespaced key-value view over a SQLite table.
type Store struct {
	db        *gorm.DB
	namespace string
}

// New constructs a Store for the namespace.
func New(db *gorm.DB, namespace string) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, errMissingNamespace
	}
	return &Store{db: db, namespace: namespace}, nil
}

// Set writes value under key, replacing any existing value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	entry := Entry{Namespace: s.namespace, Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"entry_value"}),
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	return nil
}

// GetString returns the value stored under key and whether it exists.
func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", s.namespace, key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return entry.Value, true, nil
}

// GetAllKeys lists every key in the namespace in lexical order.
func (s *Store) GetAllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Where("namespace = ?", s.namespace).
		Order("entry_key ASC").
		Pluck("entry_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("kvstore: list keys: %w", err)
	}
	return keys, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", s.namespace, key).
		Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}
