// Package remote is the HTTP client for the store server. It implements
// domain.DocumentStore, so the sync engine can run against a shared server
// exactly as it runs against a local store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/docstore"
)

// ─── Wire Types ─────────────────────────────────────────────────────────────

// ErrorBody is the server's error envelope.
type ErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Paths served by the store server.
const (
	DocumentsPath = "/v1/documents"
	CommitPath    = "/v1/commit"
)

// ─── Client ─────────────────────────────────────────────────────────────────

// Client talks to a store server.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string

	// MaxAttempts bounds transaction re-runs on conflict.
	MaxAttempts int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithTimeout sets the per-request transport timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.Timeout = d } }

// WithToken sends a fixed bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = func() string { return token } }
}

// WithTokenSource sends the bearer token returned by fn on every request.
func WithTokenSource(fn func() string) Option { return func(c *Client) { c.token = fn } }

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 10 * time.Second},
		MaxAttempts: docstore.DefaultMaxAttempts,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetVersioned fetches a document. A 404 yields a zero Doc.
func (c *Client) GetVersioned(ctx context.Context, collection, id string) (docstore.Doc, error) {
	q := url.Values{"collection": {collection}, "id": {id}}
	var doc docstore.Doc
	err := c.do(ctx, http.MethodGet, DocumentsPath+"?"+q.Encode(), nil, &doc)
	if errors.Is(err, domain.ErrNotFound) {
		return docstore.Doc{}, nil
	}
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if doc.Fields == nil {
		doc.Fields = domain.Fields{}
	}
	return doc, nil
}

// Commit sends a guarded batch of writes.
func (c *Client) Commit(ctx context.Context, req docstore.CommitRequest) error {
	if err := c.do(ctx, http.MethodPost, CommitPath, req, nil); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns the document or domain.ErrNotFound.
func (c *Client) Get(ctx context.Context, collection, id string) (domain.Fields, error) {
	return docstore.Get(ctx, c, collection, id)
}

// SetMerge merges fields into the document.
func (c *Client) SetMerge(ctx context.Context, collection, id string, fields domain.Fields) error {
	body := docstore.MergeRequest{Collection: collection, ID: id, Fields: fields}
	if err := c.do(ctx, http.MethodPatch, DocumentsPath, body, nil); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

// RunTransaction runs fn with optimistic concurrency control against the server.
func (c *Client) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Txn) error) error {
	return docstore.RunTransaction(ctx, c, c.MaxAttempts, fn)
}

// ─── Transport ──────────────────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", domain.ErrInvalidDocument, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRemote, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrInvalidDocument, err)
	}
	return nil
}

// transportError classifies a failure that produced no HTTP response.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
}

// statusError maps an HTTP status to the domain error taxonomy.
func statusError(resp *http.Response) error {
	msg := resp.Status
	var eb ErrorBody
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = domain.ErrTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		kind = domain.ErrConnectivity
	case http.StatusUnauthorized:
		kind = domain.ErrNotSignedIn
	case http.StatusForbidden:
		kind = domain.ErrPermissionDenied
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	case http.StatusConflict:
		kind = domain.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = domain.ErrInvalidDocument
	default:
		kind = domain.ErrRemote
	}
	return fmt.Errorf("%w: %s", kind, msg)
}
