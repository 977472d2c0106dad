// Package remote talks to the hosted note collection over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/notes"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/reconcile"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBodyBytes     = 4096
	notesPath             = "/notes"
)

var (
	// ErrNotFound reports a 404 from the collection. It matches
	// reconcile.ErrRemoteNotFound so the sync engine treats a vanished
	// document as already deleted.
	ErrNotFound = fmt.Errorf("remote: document not found: %w", reconcile.ErrRemoteNotFound)
	// ErrForbidden reports that the session user may not touch the document.
	ErrForbidden = errors.New("remote: forbidden")
	// ErrUnauthorized reports a missing or rejected session token.
	ErrUnauthorized = errors.New("remote: unauthorized")

	errMissingBaseURL = errors.New("remote: base url is required")
	errMissingTokens  = errors.New("remote: token source is required")
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() (string, error)
}

// StatusError carries an unexpected response status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Note is a document as listed by the collection.
type Note struct {
	ID string `json:"id"`
	notes.Document
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *zap.Logger
}

// Collection implements reconcile.RemoteCollection against the REST API.
type Collection struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

func NewCollection(cfg Config) (*Collection, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokens
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection{
		baseURL: base,
		client:  client,
		tokens:  cfg.Tokens,
		logger:  logger,
	}, nil
}

type addResponse struct {
	ID string `json:"id"`
}

type listResponse struct {
	Notes []Note `json:"notes"`
}

// Add creates a document and returns the identifier the collection assigned.
func (c *Collection) Add(ctx context.Context, document notes.Document) (string, error) {
	var created addResponse
	if err := c.do(ctx, http.MethodPost, notesPath, document, http.StatusCreated, &created); err != nil {
		return "", err
	}
	if strings.TrimSpace(created.ID) == "" {
		return "", errors.New("remote: add response carried no id")
	}
	return created.ID, nil
}

// Update overwrites the document addressed by id.
func (c *Collection) Update(ctx context.Context, id string, document notes.Document) error {
	return c.do(ctx, http.MethodPut, documentPath(id), document, http.StatusOK, nil)
}

// Delete removes the document addressed by id.
func (c *Collection) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, documentPath(id), nil, http.StatusNoContent, nil)
}

// List returns the session user's documents.
func (c *Collection) List(ctx context.Context) ([]Note, error) {
	var listed listResponse
	if err := c.do(ctx, http.MethodGet, notesPath, nil, http.StatusOK, &listed); err != nil {
		return nil, err
	}
	return listed.Notes, nil
}

func documentPath(id string) string {
	return notesPath + "/" + url.PathEscape(id)
}

func (c *Collection) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != wantStatus {
		return c.statusError(method, path, response)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Collection) statusError(method, path string, response *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	statusErr := &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: response.StatusCode,
		Body:       strings.TrimSpace(string(raw)),
	}
	switch response.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w (%v)", ErrNotFound, statusErr)
	case http.StatusForbidden:
		return fmt.Errorf("%w (%v)", ErrForbidden, statusErr)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w (%v)", ErrUnauthorized, statusErr)
	default:
		c.logger.Debug("unexpected collection response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode))
		return statusErr
	}
}
