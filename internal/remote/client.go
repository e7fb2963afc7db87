// Package remote talks to the CMS persistence API: a REST-ish store with
// list-by-filter, create and patch-by-id over flat comment records, plus an
// exact-match user lookup. Threads exist only client-side as a grouping by
// threadId; the server never sees them as entities.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Client issues requests against the CMS REST API. Collection slugs are
// configurable because host installations mount the comments and users
// collections under their own names.
type Client struct {
	baseURL  string
	token    string
	comments string
	users    string
	httpc    *http.Client
}

func NewClient(baseURL, token, commentsCollection, usersCollection string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		comments: commentsCollection,
		users:    usersCollection,
		httpc:    httpc,
	}
}

// commentRecord is the persisted shape, one record per comment. author comes
// back as a bare id string or, with relation expansion, an embedded user
// object; it is kept raw and interpreted by authorEmail.
type commentRecord struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"documentId"`
	ThreadID   string          `json:"threadId"`
	Content    string          `json:"content"`
	Author     json.RawMessage `json:"author"`
	Quote      string          `json:"quote"`
	Resolved   bool            `json:"resolved"`
	CreatedAt  string          `json:"createdAt"`
}

// saveCommentRequest is the write shape. Range is reserved and always null.
type saveCommentRequest struct {
	DocumentID string `json:"documentId"`
	ThreadID   string `json:"threadId"`
	Content    string `json:"content"`
	Author     string `json:"author"`
	Quote      string `json:"quote,omitempty"`
	Range      any    `json:"range"`
}

type userRecord struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type commentPage struct {
	Docs []commentRecord `json:"docs"`
}

type userPage struct {
	Docs []userRecord `json:"docs"`
}

// ListComments lists comment records matching the equals-filters in where.
func (c *Client) ListComments(ctx context.Context, where map[string]string, depth int) ([]commentRecord, error) {
	params := url.Values{}
	for field, value := range where {
		params.Set(fmt.Sprintf("where[%s][equals]", field), value)
	}
	if depth > 0 {
		params.Set("depth", fmt.Sprintf("%d", depth))
	}
	var page commentPage
	if err := c.get(ctx, c.comments, params, &page); err != nil {
		return nil, err
	}
	return page.Docs, nil
}

// CreateComment persists one flat comment record.
func (c *Client) CreateComment(ctx context.Context, rec saveCommentRequest) error {
	return c.send(ctx, http.MethodPost, c.comments, rec)
}

// PatchComment partially updates one comment record by id.
func (c *Client) PatchComment(ctx context.Context, id string, patch map[string]any) error {
	return c.send(ctx, http.MethodPatch, c.comments+"/"+url.PathEscape(id), patch)
}

// ListUsers lists user records with an exact email match.
func (c *Client) ListUsers(ctx context.Context, email string) ([]userRecord, error) {
	params := url.Values{}
	params.Set("where[email][equals]", email)
	var page userPage
	if err := c.get(ctx, c.users, params, &page); err != nil {
		return nil, err
	}
	return page.Docs, nil
}

func (c *Client) get(ctx context.Context, collection string, params url.Values, out any) error {
	endpoint := c.baseURL + "/api/" + collection
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", collection, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	endpoint := c.baseURL + "/api/" + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return resp, nil
}
