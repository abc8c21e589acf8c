package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/satchelapp/satchel/internal/record"
)

// connectivityOracle is the reachability signal the client consults before
// every network operation. The connectivity package provides the probe
// implementation; tests supply statics.
type connectivityOracle interface {
	Online() bool
}

// alwaysOnline is used when no oracle is configured; the dial timeout still
// bounds every attempt.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// Config holds backend connection configuration.
type Config struct {
	// Endpoint is the backend base URL, e.g. "https://api.satchel.app".
	Endpoint string

	// DatabaseID addresses the tenant database.
	DatabaseID string

	// APIKey authenticates the device session.
	APIKey string

	// Timeout bounds every HTTP request (default: 15s).
	Timeout time.Duration

	// Checker is the connectivity oracle. Optional.
	Checker interface{ Online() bool }

	// Logger for client activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Client talks to the document backend over HTTP JSON and implements Store.
type Client struct {
	endpoint   string
	databaseID string
	apiKey     string
	checker    connectivityOracle
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a backend client from config.
func NewClient(config *Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.DatabaseID == "" {
		return nil, fmt.Errorf("databaseID cannot be empty")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	var checker connectivityOracle = alwaysOnline{}
	if config.Checker != nil {
		checker = config.Checker
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		endpoint:   config.Endpoint,
		databaseID: config.DatabaseID,
		apiKey:     config.APIKey,
		checker:    checker,
		logger:     logger,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// CreateDocument implements Store.CreateDocument.
func (c *Client) CreateDocument(ctx context.Context, doc *Document) (*Document, error) {
	var out Document
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents",
		url.PathEscape(c.databaseID), url.PathEscape(doc.Collection))
	if err := c.do(ctx, http.MethodPost, path, doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpsertDocument implements Store.UpsertDocument.
func (c *Client) UpsertDocument(ctx context.Context, doc *Document) (*Document, error) {
	var out Document
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents/%s",
		url.PathEscape(c.databaseID), url.PathEscape(doc.Collection), url.PathEscape(doc.ID))
	if err := c.do(ctx, http.MethodPut, path, doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocument implements Store.GetDocument.
func (c *Client) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	var out Document
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents/%s",
		url.PathEscape(c.databaseID), url.PathEscape(collection), url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMetadata implements Store.ListMetadata.
func (c *Client) ListMetadata(ctx context.Context, collection, ownerID string) ([]record.Metadata, error) {
	var out struct {
		Metadata []record.Metadata `json:"metadata"`
	}
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/metadata?owner=%s",
		url.PathEscape(c.databaseID), url.PathEscape(collection), url.QueryEscape(ownerID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Metadata, nil
}

// ListDocuments implements Store.ListDocuments.
func (c *Client) ListDocuments(ctx context.Context, collection, ownerID string) ([]*Document, error) {
	var out struct {
		Documents []*Document `json:"documents"`
	}
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents?owner=%s",
		url.PathEscape(c.databaseID), url.PathEscape(collection), url.QueryEscape(ownerID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// DeleteDocument implements Store.DeleteDocument.
func (c *Client) DeleteDocument(ctx context.Context, collection, id string) error {
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents/%s",
		url.PathEscape(c.databaseID), url.PathEscape(collection), url.PathEscape(id))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err == ErrNotFound {
		return nil
	}
	return err
}

// do executes one JSON request/response round trip with the fail-fast
// offline check and status mapping.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if !c.checker.Online() {
		return ErrOffline
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Satchel-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport-level failures (refused, DNS, timeout) are the offline
		// condition, not structural errors.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError maps HTTP status codes onto the package error taxonomy.
func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrPermission, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s", ErrValidation, bytes.TrimSpace(msg))
	case resp.StatusCode >= 500:
		// Backend trouble is transient from the client's point of view.
		return fmt.Errorf("%w: server returned %d", ErrOffline, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
