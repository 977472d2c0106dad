// Package reconcile drains staged note mutations into the remote note
// collection.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/notes"
	"go.uber.org/zap"
)

const defaultRecordTimeout = 15 * time.Second

var (
	errMissingStaging = errors.New("reconcile: staging store is required")
	errMissingRemote  = errors.New("reconcile: remote collection is required")

	// ErrRemoteNotFound is returned by RemoteCollection implementations when
	// the addressed document does not exist.
	ErrRemoteNotFound = errors.New("reconcile: remote document not found")
)

// RemoteCollection is the authoritative note store.
type RemoteCollection interface {
	Add(ctx context.Context, document notes.Document) (string, error)
	Update(ctx context.Context, id string, document notes.Document) error
	Delete(ctx context.Context, id string) error
}

// StagingStore is the subset of the staging store the engine drives.
type StagingStore interface {
	ListPending(ctx context.Context) ([]notes.StagedNote, error)
	MarkSynced(ctx context.Context, id string, revision int64, remoteID string) (bool, error)
	Purge(ctx context.Context, id string, revision int64) (bool, error)
}

type Config struct {
	Staging       StagingStore
	Remote        RemoteCollection
	RecordTimeout time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Report summarizes one SyncNotes call.
type Report struct {
	AlreadyRunning bool
	Pushed         int
	Deleted        int
	Purged         int
	Skipped        int
	Failed         int
	Superseded     int
	Duration       time.Duration
}

// Engine reconciles pending staged notes. At most one pass runs at a time.
type Engine struct {
	staging       StagingStore
	remote        RemoteCollection
	recordTimeout time.Duration
	clock         func() time.Time
	logger        *zap.Logger
	inFlight      atomic.Bool
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Staging == nil {
		return nil, errMissingStaging
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	timeout := cfg.RecordTimeout
	if timeout <= 0 {
		timeout = defaultRecordTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		staging:       cfg.Staging,
		remote:        cfg.Remote,
		recordTimeout: timeout,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Running reports whether a pass is in flight.
func (e *Engine) Running() bool {
	return e.inFlight.Load()
}

// SyncNotes applies every pending staged note to the remote collection, one
// record at a time. A call made while another pass is running returns
// immediately with AlreadyRunning set. Individual record failures are logged
// and leave the record pending; only a failure to enumerate the staging store
// is returned as an error.
func (e *Engine) SyncNotes(ctx context.Context) (Report, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Debug("note sync already running")
		return Report{AlreadyRunning: true}, nil
	}
	defer e.inFlight.Store(false)

	started := e.clock()
	report := Report{}

	pending, err := e.staging.ListPending(ctx)
	if err != nil {
		e.logger.Error("note sync failed to list pending notes", zap.Error(err))
		return report, err
	}

	for _, note := range pending {
		if err := ctx.Err(); err != nil {
			e.logger.Info("note sync cancelled", zap.Error(err))
			break
		}
		e.syncOne(ctx, note, &report)
	}

	report.Duration = e.clock().Sub(started)
	e.logger.Info("note sync finished",
		zap.Int("pending", len(pending)),
		zap.Int("pushed", report.Pushed),
		zap.Int("deleted", report.Deleted),
		zap.Int("purged", report.Purged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("superseded", report.Superseded),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (e *Engine) syncOne(ctx context.Context, note notes.StagedNote, report *Report) {
	fields := []zap.Field{zap.String("note_id", note.ID)}

	if !note.HasOwner() {
		e.logger.Debug("skipping staged note without owner", fields...)
		report.Skipped++
		return
	}

	if note.Status == notes.StatusPendingDelete {
		e.syncDelete(ctx, note, report, fields)
		return
	}
	e.syncUpsert(ctx, note, report, fields)
}

func (e *Engine) syncDelete(ctx context.Context, note notes.StagedNote, report *Report, fields []zap.Field) {
	if note.RemoteID != "" {
		err := e.withRecordTimeout(ctx, func(recordCtx context.Context) error {
			return e.remote.Delete(recordCtx, note.RemoteID)
		})
		if err != nil && !errors.Is(err, ErrRemoteNotFound) {
			e.recordFailure("remote_delete_failed", err, report, append(fields, zap.String("remote_id", note.RemoteID)))
			return
		}
		report.Deleted++
	}

	purged, err := e.staging.Purge(ctx, note.ID, note.Revision)
	if err != nil {
		e.recordFailure("purge_failed", err, report, fields)
		return
	}
	if !purged {
		report.Superseded++
		return
	}
	if note.RemoteID == "" {
		report.Purged++
	}
}

func (e *Engine) syncUpsert(ctx context.Context, note notes.StagedNote, report *Report, fields []zap.Field) {
	document := note.Document()
	remoteID := note.RemoteID

	err := e.withRecordTimeout(ctx, func(recordCtx context.Context) error {
		if remoteID != "" {
			err := e.remote.Update(recordCtx, remoteID, document)
			if !errors.Is(err, ErrRemoteNotFound) {
				return err
			}
			e.logger.Info("remote document missing, re-creating note",
				append(fields, zap.String("remote_id", remoteID))...)
		}
		assigned, err := e.remote.Add(recordCtx, document)
		if err != nil {
			return err
		}
		remoteID = assigned
		return nil
	})
	if err != nil {
		e.recordFailure("remote_upsert_failed", err, report, fields)
		return
	}

	marked, err := e.staging.MarkSynced(ctx, note.ID, note.Revision, remoteID)
	if err != nil {
		e.recordFailure("mark_synced_failed", err, report, append(fields, zap.String("remote_id", remoteID)))
		return
	}
	report.Pushed++
	if !marked {
		report.Superseded++
	}
}

func (e *Engine) withRecordTimeout(ctx context.Context, call func(context.Context) error) error {
	recordCtx, cancel := context.WithTimeout(ctx, e.recordTimeout)
	defer cancel()
	return call(recordCtx)
}

func (e *Engine) recordFailure(reason string, err error, report *Report, fields []zap.Field) {
	report.Failed++
	attrs := append([]zap.Field{
		zap.String("operation", "reconcile.sync_notes"),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	e.logger.Warn("note sync record failed", attrs...)
}
