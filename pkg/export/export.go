// Package export writes finished assessments to Google Docs so a tutor can
// keep them alongside the learner's other coursework.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"

	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// Sentinel errors for the export package.
var (
	ErrMissingCredentials = errors.New("export: client id and client secret are required")
	ErrNotAuthenticated   = errors.New("export: not connected to Google")
	ErrInvalidState       = errors.New("export: oauth state mismatch")
	ErrNoReport           = errors.New("export: no report to export")
)

// Scopes requested during consent.
var Scopes = []string{
	docs.DocumentsScope,
	"https://www.googleapis.com/auth/drive.file",
}

// Config configures the exporter.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g. "http://localhost:8080/api/docs/callback"
	TokenPath    string // default: ~/.esol/google_token.json

	// Endpoint overrides the Docs API base URL.
	Endpoint string

	Timeout time.Duration
	Logger  *slog.Logger
}

// Exporter creates Google Docs from reports. It holds a single OAuth token
// shared by every export.
type Exporter struct {
	oauth     *oauth2.Config
	tokenPath string
	endpoint  string
	timeout   time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	token *oauth2.Token
	state string
}

// New creates an exporter and loads a previously saved token if there is
// one.
func New(cfg Config) (*Exporter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/api/docs/callback"
	}
	if cfg.TokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(homeDir, ".esol", "google_token.json")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Exporter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
		endpoint:  cfg.Endpoint,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With("component", "export"),
	}

	if err := e.loadToken(); err == nil {
		e.logger.Info("loaded google token", "path", e.tokenPath)
	}
	return e, nil
}

// IsAuthenticated reports whether a token is available. An expired token
// with a refresh token still counts.
func (e *Exporter) IsAuthenticated() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token != nil && (e.token.Valid() || e.token.RefreshToken != "")
}

// AuthURL returns the consent URL. Each call issues a fresh state value
// that HandleCallback checks.
func (e *Exporter) AuthURL() string {
	state := uuid.NewString()

	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	return e.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the authorization code and saves the token.
func (e *Exporter) HandleCallback(ctx context.Context, state, code string) error {
	e.mu.RLock()
	want := e.state
	e.mu.RUnlock()
	if want == "" || state != want {
		return ErrInvalidState
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	token, err := e.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("export: exchange code: %w", err)
	}

	e.mu.Lock()
	e.token = token
	e.state = ""
	e.mu.Unlock()

	if err := e.saveToken(token); err != nil {
		e.logger.Warn("failed to save token", "error", err)
	}
	e.logger.Info("connected to google")
	return nil
}

// Disconnect forgets the token and removes it from disk.
func (e *Exporter) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.token = nil
	if err := os.Remove(e.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("export: remove token: %w", err)
	}
	return nil
}

// ExportReport creates a document titled title holding the rendered report
// and transcript, and returns its document ID.
func (e *Exporter) ExportReport(ctx context.Context, title string, turns []transcript.Turn, rep *report.Report) (string, error) {
	if rep == nil {
		return "", ErrNoReport
	}

	e.mu.RLock()
	token := e.token
	e.mu.RUnlock()
	if token == nil {
		return "", ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	source := oauth2.ReuseTokenSource(token, e.oauth.TokenSource(ctx, token))
	service, err := e.service(ctx, source)
	if err != nil {
		return "", err
	}

	created, err := service.Documents.Create(&docs.Document{Title: title}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("export: create document: %w", err)
	}

	_, err = service.Documents.BatchUpdate(created.DocumentId, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				Location: &docs.Location{Index: 1},
				Text:     FormatReport(title, turns, rep),
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return created.DocumentId, fmt.Errorf("export: created document but failed to add content: %w", err)
	}

	e.keepRefreshed(token, source)

	e.logger.Info("report exported", "document_id", created.DocumentId)
	return created.DocumentId, nil
}

func (e *Exporter) service(ctx context.Context, source oauth2.TokenSource) (*docs.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, source))}
	if e.endpoint != "" {
		opts = append(opts, option.WithEndpoint(e.endpoint))
	}
	service, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("export: create docs service: %w", err)
	}
	return service, nil
}

// keepRefreshed stores a token the source refreshed during the export.
func (e *Exporter) keepRefreshed(old *oauth2.Token, source oauth2.TokenSource) {
	tok, err := source.Token()
	if err != nil || tok.AccessToken == old.AccessToken {
		return
	}

	e.mu.Lock()
	e.token = tok
	e.mu.Unlock()

	if err := e.saveToken(tok); err != nil {
		e.logger.Warn("failed to save refreshed token", "error", err)
	}
}

// DocURL returns the URL to view or edit a document.
func DocURL(docID string) string {
	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", docID)
}

func (e *Exporter) loadToken() error {
	data, err := os.ReadFile(e.tokenPath)
	if err != nil {
		return err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}

	e.mu.Lock()
	e.token = &token
	e.mu.Unlock()
	return nil
}

func (e *Exporter) saveToken(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(e.tokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(e.tokenPath, data, 0o600)
}
