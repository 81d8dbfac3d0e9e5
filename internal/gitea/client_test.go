package gitea

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitea is a minimal in-memory repository service.
type fakeGitea struct {
	mu      sync.Mutex
	orgs    map[string]bool
	repos   map[string]bool
	files   map[string]fileState // "repo/path" -> state
	commits int

	// failCommitsWith409 makes the first N PUTs answer 409.
	failCommitsWith409 int
	requests           []string
}

type fileState struct {
	sha     string
	content string
	history []string
}

func newFakeGitea() *fakeGitea {
	return &fakeGitea{
		orgs:  make(map[string]bool),
		repos: make(map[string]bool),
		files: make(map[string]fileState),
	}
}

func (f *fakeGitea) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /orgs", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body struct {
			Username string `json:"username"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.orgs[body.Username] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.orgs[body.Username] = true
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("POST /orgs/{org}/repos", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.repos[body.Name] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.repos[body.Name] = true
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("GET /repos/{org}/{repo}/contents/{path}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		state, ok := f.files[r.PathValue("repo")+"/"+r.PathValue("path")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"sha":     state.sha,
			"content": base64.StdEncoding.EncodeToString([]byte(state.content)),
		})
	})

	mux.HandleFunc("PUT /repos/{org}/{repo}/contents/{path}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body struct {
			Content string `json:"content"`
			SHA     string `json:"sha"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		defer f.mu.Unlock()

		if f.failCommitsWith409 > 0 {
			f.failCommitsWith409--
			w.WriteHeader(http.StatusConflict)
			return
		}

		key := r.PathValue("repo") + "/" + r.PathValue("path")
		state := f.files[key]
		if state.sha != body.SHA {
			w.WriteHeader(http.StatusConflict)
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(body.Content)
		require.NoError(t, err)

		f.commits++
		commitSHA := fmt.Sprintf("commit-%04d", f.commits)
		state.sha = fmt.Sprintf("blob-%04d", f.commits)
		state.content = string(decoded)
		state.history = append(state.history, commitSHA)
		f.files[key] = state

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"commit": map[string]string{"sha": commitSHA},
		})
	})

	mux.HandleFunc("GET /repos/{org}/{repo}/commits", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		state := f.files[r.PathValue("repo")+"/"+r.URL.Query().Get("path")]

		// Newest first, capped at limit.
		out := make([]map[string]string, 0, 2)
		for i := len(state.history) - 1; i >= 0 && len(out) < 2; i-- {
			out = append(out, map[string]string{"sha": state.history[i]})
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("GET /repos/{org}/{repo}/compare/{basehead}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		fmt.Fprintf(w, "diff --git a/x b/x\n%s\n", r.PathValue("basehead"))
	})

	return mux
}

func (f *fakeGitea) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
}

func newTestClient(t *testing.T, fake *fakeGitea) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", "net-backups")
}

func TestEnsureRepoCreatesOrgAndRepo(t *testing.T) {
	fake := newFakeGitea()
	c := newTestClient(t, fake)

	require.NoError(t, c.EnsureRepo(context.Background(), "site-nyc01", "Backups for nyc01"))
	assert.True(t, fake.orgs["net-backups"])
	assert.True(t, fake.repos["site-nyc01"])
}

func TestEnsureRepoIdempotent(t *testing.T) {
	fake := newFakeGitea()
	c := newTestClient(t, fake)

	require.NoError(t, c.EnsureRepo(context.Background(), "site-nyc01", ""))
	// Second call hits the already-exists responses and still succeeds.
	require.NoError(t, c.EnsureRepo(context.Background(), "site-nyc01", ""))
}

func TestEnsureRepoSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "net-backups")
	err := c.EnsureRepo(context.Background(), "site-x", "")

	var repoErr *RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, http.StatusInternalServerError, repoErr.Status)
	assert.Contains(t, repoErr.Snippet, "boom")
}

func TestCommitFileCreateThenUpdate(t *testing.T) {
	fake := newFakeGitea()
	c := newTestClient(t, fake)
	ctx := context.Background()

	first, err := c.CommitFile(ctx, "site-nyc01", "core-1.txt", []byte("hostname core-1\n"), "backup core-1")
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := c.CommitFile(ctx, "site-nyc01", "core-1.txt", []byte("hostname core-1\nbanner motd X\n"), "backup core-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	content, err := c.ReadFile(ctx, "site-nyc01", "core-1.txt")
	require.NoError(t, err)
	assert.Equal(t, "hostname core-1\nbanner motd X\n", string(content))
}

func TestCommitFileRetriesOnConflict(t *testing.T) {
	fake := newFakeGitea()
	fake.failCommitsWith409 = 2
	c := newTestClient(t, fake)

	sha, err := c.CommitFile(context.Background(), "site-nyc01", "core-1.txt", []byte("x"), "m")
	require.NoError(t, err)
	assert.NotEmpty(t, sha)
}

func TestCommitFileGivesUpAfterMaxAttempts(t *testing.T) {
	fake := newFakeGitea()
	fake.failCommitsWith409 = 10
	c := newTestClient(t, fake)

	_, err := c.CommitFile(context.Background(), "site-nyc01", "core-1.txt", []byte("x"), "m")

	var repoErr *RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, http.StatusConflict, repoErr.Status)
}

func TestDiffNeedsTwoRevisions(t *testing.T) {
	fake := newFakeGitea()
	c := newTestClient(t, fake)
	ctx := context.Background()

	_, err := c.Diff(ctx, "site-nyc01", "core-1.txt")
	assert.ErrorIs(t, err, ErrSingleRevision)

	_, err = c.CommitFile(ctx, "site-nyc01", "core-1.txt", []byte("v1"), "m")
	require.NoError(t, err)
	_, err = c.Diff(ctx, "site-nyc01", "core-1.txt")
	assert.ErrorIs(t, err, ErrSingleRevision)
}

func TestDiffComparesLastTwoCommits(t *testing.T) {
	fake := newFakeGitea()
	c := newTestClient(t, fake)
	ctx := context.Background()

	_, err := c.CommitFile(ctx, "site-nyc01", "core-1.txt", []byte("v1"), "m")
	require.NoError(t, err)
	_, err = c.CommitFile(ctx, "site-nyc01", "core-1.txt", []byte("v2"), "m")
	require.NoError(t, err)

	diff, err := c.Diff(ctx, "site-nyc01", "core-1.txt")
	require.NoError(t, err)
	// Older commit is the base, newer the head.
	assert.Contains(t, diff, "commit-0001...commit-0002")
}

func TestAuthHeaderSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token", "net-backups")
	require.NoError(t, c.EnsureRepo(context.Background(), "r", ""))
	assert.Equal(t, "token secret-token", got)
}
