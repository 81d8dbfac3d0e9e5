// Package gitea provides a client for the repository service that stores
// per-site configuration history.
package gitea

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrSingleRevision is returned by Diff when the file has fewer than two
// revisions, so there is nothing to compare yet.
var ErrSingleRevision = errors.New("gitea: file has fewer than two revisions")

// commitAttempts bounds the create-or-update retries on a precondition
// conflict (another writer updated the same file between read and write).
const commitAttempts = 3

// RepositoryError is the single error kind surfaced for repository-service
// failures. Status is 0 for transport-level errors.
type RepositoryError struct {
	Op      string
	Status  int
	Snippet string
	Err     error
}

func (e *RepositoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gitea: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gitea: %s: HTTP %d: %s", e.Op, e.Status, e.Snippet)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Client talks to the repository service over its REST API.
type Client struct {
	baseURL string
	token   string
	org     string
	hc      *http.Client
}

// NewClient creates a repository-service client for one organization.
func NewClient(baseURL, token, org string) *Client {
	return &Client{
		baseURL: trimSlash(baseURL),
		token:   token,
		org:     org,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Org returns the organization all repositories are created under.
func (c *Client) Org() string { return c.org }

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

// EnsureRepo makes sure {org}/{repo} exists, creating the organization and
// the repository as needed. An already-exists response from either create is
// success: concurrent callers with the same arguments converge.
func (c *Client) EnsureRepo(ctx context.Context, repo, description string) error {
	status, body, err := c.do(ctx, http.MethodPost, "/orgs", map[string]any{
		"username":   c.org,
		"visibility": "private",
	})
	if err != nil {
		return &RepositoryError{Op: "create org", Err: err}
	}
	if !createOK(status) {
		return &RepositoryError{Op: "create org", Status: status, Snippet: snippet(body)}
	}

	status, body, err = c.do(ctx, http.MethodPost, "/orgs/"+c.org+"/repos", map[string]any{
		"name":           repo,
		"description":    description,
		"private":        true,
		"auto_init":      true,
		"default_branch": "main",
	})
	if err != nil {
		return &RepositoryError{Op: "create repo", Err: err}
	}
	if !createOK(status) {
		return &RepositoryError{Op: "create repo", Status: status, Snippet: snippet(body)}
	}
	return nil
}

// createOK treats 2xx and the "already exists" statuses as success.
func createOK(status int) bool {
	return (status >= 200 && status < 300) ||
		status == http.StatusConflict ||
		status == http.StatusUnprocessableEntity
}

type contentsResponse struct {
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

type commitResponse struct {
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// currentSHA returns the revision identifier of the file at path, or empty
// when the file does not exist yet.
func (c *Client) currentSHA(ctx context.Context, repo, path string) (string, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.contentsPath(repo, path), nil)
	if err != nil {
		return "", &RepositoryError{Op: "read file", Err: err}
	}
	switch {
	case status == http.StatusNotFound:
		return "", nil
	case status >= 200 && status < 300:
		var contents contentsResponse
		if err := json.Unmarshal(body, &contents); err != nil {
			return "", &RepositoryError{Op: "read file", Status: status, Snippet: snippet(body), Err: err}
		}
		return contents.SHA, nil
	default:
		return "", &RepositoryError{Op: "read file", Status: status, Snippet: snippet(body)}
	}
}

// ReadFile fetches the current content of the file at path.
func (c *Client) ReadFile(ctx context.Context, repo, path string) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.contentsPath(repo, path), nil)
	if err != nil {
		return nil, &RepositoryError{Op: "read file", Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &RepositoryError{Op: "read file", Status: status, Snippet: snippet(body)}
	}

	var contents contentsResponse
	if err := json.Unmarshal(body, &contents); err != nil {
		return nil, &RepositoryError{Op: "read file", Status: status, Snippet: snippet(body), Err: err}
	}
	decoded, err := base64.StdEncoding.DecodeString(contents.Content)
	if err != nil {
		return nil, &RepositoryError{Op: "read file", Status: status, Snippet: "invalid base64 content", Err: err}
	}
	return decoded, nil
}

// CommitFile creates or updates the file at path and returns the resulting
// commit identifier. The current revision is read first and submitted as a
// precondition; on a conflicting concurrent update the read-modify-write is
// retried with backoff up to commitAttempts times.
func (c *Client) CommitFile(ctx context.Context, repo, path string, content []byte, message string) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(content)

	var lastErr error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return "", &RepositoryError{Op: "commit file", Err: ctx.Err()}
			}
		}

		sha, err := c.currentSHA(ctx, repo, path)
		if err != nil {
			lastErr = err
			continue
		}

		payload := map[string]any{
			"message": message,
			"content": encoded,
			"branch":  "main",
		}
		if sha != "" {
			payload["sha"] = sha
		}

		status, body, err := c.do(ctx, http.MethodPut, c.contentsPath(repo, path), payload)
		if err != nil {
			lastErr = &RepositoryError{Op: "commit file", Err: err}
			continue
		}
		if status == http.StatusConflict {
			// Another writer raced us on the same file; re-read and retry.
			lastErr = &RepositoryError{Op: "commit file", Status: status, Snippet: snippet(body)}
			continue
		}
		if status < 200 || status >= 300 {
			return "", &RepositoryError{Op: "commit file", Status: status, Snippet: snippet(body)}
		}

		var commit commitResponse
		if err := json.Unmarshal(body, &commit); err != nil {
			return "", &RepositoryError{Op: "commit file", Status: status, Snippet: snippet(body), Err: err}
		}
		return commit.Commit.SHA, nil
	}
	return "", lastErr
}

type commitListEntry struct {
	SHA string `json:"sha"`
}

// Diff returns the unified diff between the two most recent commits that
// touched path. When fewer than two revisions exist, ErrSingleRevision is
// returned so callers can distinguish "nothing to compare" from an empty diff.
func (c *Client) Diff(ctx context.Context, repo, path string) (string, error) {
	listPath := fmt.Sprintf("/repos/%s/%s/commits?path=%s&limit=2",
		c.org, repo, url.QueryEscape(path))

	status, body, err := c.do(ctx, http.MethodGet, listPath, nil)
	if err != nil {
		return "", &RepositoryError{Op: "list commits", Err: err}
	}
	if status < 200 || status >= 300 {
		return "", &RepositoryError{Op: "list commits", Status: status, Snippet: snippet(body)}
	}

	var commits []commitListEntry
	if err := json.Unmarshal(body, &commits); err != nil {
		return "", &RepositoryError{Op: "list commits", Status: status, Snippet: snippet(body), Err: err}
	}
	if len(commits) < 2 {
		return "", ErrSingleRevision
	}

	diffPath := fmt.Sprintf("/repos/%s/%s/compare/%s...%s.diff",
		c.org, repo, commits[1].SHA, commits[0].SHA)

	status, body, err = c.do(ctx, http.MethodGet, diffPath, nil)
	if err != nil {
		return "", &RepositoryError{Op: "compare", Err: err}
	}
	if status < 200 || status >= 300 {
		return "", &RepositoryError{Op: "compare", Status: status, Snippet: snippet(body)}
	}
	return string(body), nil
}

func (c *Client) contentsPath(repo, path string) string {
	return fmt.Sprintf("/repos/%s/%s/contents/%s", c.org, repo, url.PathEscape(path))
}
