package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/auth"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/config"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/kvstore"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/logging"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/notes"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/reconcile"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/remote"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// clientApp holds the wired client components for one command invocation.
type clientApp struct {
	config  config.ClientConfig
	logger  *zap.Logger
	session *auth.Session
	staging *notes.StagingStore
	remote  *remote.Collection
	engine  *reconcile.Engine
	close   func()
}

func openClientApp() (*clientApp, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{Level: clientConfig.LogLevel, Console: clientConfig.ConsoleLogging})
	if err != nil {
		return nil, err
	}

	db, err := kvstore.Open(clientConfig.StorePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	store, err := kvstore.New(db, kvstore.DefaultNamespace)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	staging, err := notes.NewStagingStore(notes.StagingConfig{
		Store:      store,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	session := auth.NewSession(nil)
	if clientConfig.SessionToken != "" {
		if err := session.SignIn(clientConfig.SessionToken); err != nil {
			logger.Warn("ignoring unusable session token", zap.Error(err))
		}
	}

	collection, err := remote.NewCollection(remote.Config{
		BaseURL:    clientConfig.RemoteBaseURL,
		HTTPClient: &http.Client{Timeout: clientConfig.RemoteTimeout},
		Tokens:     session,
		Logger:     logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	engine, err := reconcile.NewEngine(reconcile.Config{
		Staging:       staging,
		Remote:        collection,
		RecordTimeout: clientConfig.RecordTimeout,
		Logger:        logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &clientApp{
		config:  clientConfig,
		logger:  logger,
		session: session,
		staging: staging,
		remote:  collection,
		engine:  engine,
		close: func() {
			_ = sqlDB.Close()
			_ = logger.Sync()
		},
	}, nil
}

// ownerID resolves the user id stamped on new notes.
func (a *clientApp) ownerID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if userID := a.session.UserID(); userID != "" {
		return userID
	}
	return a.config.DefaultUserID
}

func (a *clientApp) requireSession() error {
	if !a.session.IsAuthenticated() {
		return errors.New("no valid session token; set NOTEKEEPER_SESSION_TOKEN or --session-token")
	}
	return nil
}

func (a *clientApp) syncNow(ctx context.Context) (reconcile.Report, error) {
	if err := a.requireSession(); err != nil {
		return reconcile.Report{}, err
	}
	return a.SyncNotes(ctx)
}

// SyncNotes gives ownerless pending notes to the signed-in user, then runs a
// pass. It is the syncer handed to the reconnect trigger.
func (a *clientApp) SyncNotes(ctx context.Context) (reconcile.Report, error) {
	if userID := a.ownerID(""); userID != "" {
		assigned, err := a.staging.AssignOwner(ctx, userID)
		if err != nil {
			a.logger.Warn("failed to assign owner to staged notes", zap.Error(err))
		} else if assigned > 0 {
			a.logger.Info("assigned owner to staged notes",
				zap.String("user_id", userID), zap.Int("count", assigned))
		}
	}
	return a.engine.SyncNotes(ctx)
}
