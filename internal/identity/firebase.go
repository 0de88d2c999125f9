package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/DukeRupert/tandem/internal/domain"
	"google.golang.org/api/option"
)

// =============================================================================
// Firebase app
// =============================================================================

// FirebaseConfig selects the project and the service account credentials.
// With neither credential set, Application Default Credentials are used.
type FirebaseConfig struct {
	ProjectID             string
	CredentialsFile       string
	CredentialsJSONBase64 string
}

// NewFirebaseApp initializes the Firebase Admin SDK.
func NewFirebaseApp(ctx context.Context, cfg FirebaseConfig, logger *slog.Logger) (*firebase.App, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("credentials file: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Debug("initializing firebase with credentials file", "path", cfg.CredentialsFile)
	case cfg.CredentialsJSONBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(cfg.CredentialsJSONBase64)
		if err != nil {
			return nil, fmt.Errorf("decode service account json: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(decoded))
		logger.Debug("initializing firebase with inline service account")
	default:
		logger.Debug("initializing firebase with application default credentials")
	}

	var appCfg *firebase.Config
	if cfg.ProjectID != "" {
		appCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, appCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return app, nil
}

// Clients holds the Firebase service clients the application uses.
type Clients struct {
	Auth      *auth.Client
	Firestore *firestore.Client
}

// NewClients creates the Auth and Firestore clients for app.
func NewClients(ctx context.Context, app *firebase.App) (*Clients, error) {
	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Firestore: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("app.Auth: %w", err)
	}
	return &Clients{Auth: authClient, Firestore: fs}, nil
}

// Close releases the Firestore connection.
func (c *Clients) Close() error {
	return c.Firestore.Close()
}

// =============================================================================
// FirebaseProvider
// =============================================================================

// TokenVerifier is the subset of the Firebase Auth client the provider uses.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
}

// FirebaseProvider reads a persisted Firebase ID token and verifies it.
//
// A missing token file means signed out. An invalid or expired token is
// treated as signed out as well, so the device stays usable offline.
type FirebaseProvider struct {
	verifier  TokenVerifier
	tokenPath string
	logger    *slog.Logger
}

// NewFirebaseProvider creates a provider reading the token at tokenPath.
func NewFirebaseProvider(verifier TokenVerifier, tokenPath string, logger *slog.Logger) *FirebaseProvider {
	return &FirebaseProvider{
		verifier:  verifier,
		tokenPath: tokenPath,
		logger:    logger,
	}
}

// Current returns the identity named by the persisted token.
func (p *FirebaseProvider) Current(ctx context.Context) (*Identity, error) {
	raw, err := os.ReadFile(p.tokenPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	idToken := strings.TrimSpace(string(raw))
	if idToken == "" {
		return nil, nil
	}

	token, err := p.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		p.logger.Warn("stored id token rejected, continuing signed out", "error", err)
		return nil, nil
	}

	id := &Identity{UID: token.UID}
	if email, ok := token.Claims["email"].(string); ok {
		id.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		id.DisplayName = name
	}

	if id.Email == "" || id.DisplayName == "" {
		user, err := p.verifier.GetUser(ctx, token.UID)
		if err != nil {
			p.logger.Warn("failed to look up user record", "user_id", token.UID, "error", err)
			return id, nil
		}
		if id.Email == "" {
			id.Email = user.Email
		}
		if id.DisplayName == "" {
			id.DisplayName = user.DisplayName
		}
	}
	return id, nil
}

// SignIn persists an ID token after verifying it.
func (p *FirebaseProvider) SignIn(ctx context.Context, idToken string) (*Identity, error) {
	idToken = strings.TrimSpace(idToken)
	if _, err := p.verifier.VerifyIDToken(ctx, idToken); err != nil {
		p.logger.Debug("id token rejected", "error", err)
		return nil, domain.Unauthorized("identity.signin", "That sign-in token was rejected.")
	}
	if err := os.MkdirAll(filepath.Dir(p.tokenPath), 0o700); err != nil {
		return nil, fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(p.tokenPath, []byte(idToken), 0o600); err != nil {
		return nil, fmt.Errorf("write token: %w", err)
	}
	return p.Current(ctx)
}

// SignOut removes the persisted token.
func (p *FirebaseProvider) SignOut(context.Context) error {
	if err := os.Remove(p.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}
