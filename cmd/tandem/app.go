package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/DukeRupert/tandem/internal"
	"github.com/DukeRupert/tandem/internal/billing"
	"github.com/DukeRupert/tandem/internal/catalog"
	"github.com/DukeRupert/tandem/internal/identity"
	"github.com/DukeRupert/tandem/internal/profile"
	"github.com/DukeRupert/tandem/internal/session"
	"github.com/DukeRupert/tandem/internal/snapshot"
	"github.com/DukeRupert/tandem/internal/storage"
)

// app holds the wired collaborators for one CLI invocation.
type app struct {
	cfg     *internal.Config
	logger  *slog.Logger
	session *session.Session

	// firebase is nil when running local-only.
	firebase *identity.FirebaseProvider
	closers  []io.Closer
}

// newApp builds the session and its collaborators from the environment.
func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("config initialization failed: %w", err)
	}
	logger := internal.NewLogger(logOut, cfg.Env, cfg.LogLevel)

	a := &app{cfg: cfg, logger: logger}

	// Snapshot storage
	blobs, err := newStorage(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("storage initialization failed: %w", err)
	}

	deps := session.Deps{
		Local:    snapshot.New(blobs, logger),
		Identity: identity.Guest{},
		Billing:  billing.NewClient(cfg.BillingBaseURL, nil, logger),
		Logger:   logger,
	}

	// Firebase identity and remote profile (optional)
	if cfg.FirebaseEnabled() {
		fb, err := identity.NewFirebaseApp(ctx, identity.FirebaseConfig{
			ProjectID:             cfg.FirebaseProjectID,
			CredentialsFile:       cfg.GoogleApplicationCredentials,
			CredentialsJSONBase64: cfg.FirebaseServiceAccountJSONBase64,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("firebase initialization failed: %w", err)
		}
		clients, err := identity.NewClients(ctx, fb)
		if err != nil {
			return nil, fmt.Errorf("firebase clients failed: %w", err)
		}
		a.closers = append(a.closers, clients)

		a.firebase = identity.NewFirebaseProvider(clients.Auth, cfg.TokenPath, logger)
		deps.Identity = a.firebase
		deps.Remote = profile.NewGuarded(profile.NewFirestoreStore(clients.Firestore), cfg.RemoteTimeout, logger)
	} else {
		logger.Debug("firebase not configured, running local-only")
	}

	a.session = session.New(deps, session.Config{
		PriceID:         cfg.PriceID,
		TrialPriceID:    cfg.TrialPriceID,
		RefreshInterval: cfg.StatusRefreshInterval,
		Catalog:         catalog.Default(),
	})
	return a, nil
}

func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.LocalStoragePath}, logger)
	}
}

// Close releases remote clients.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
