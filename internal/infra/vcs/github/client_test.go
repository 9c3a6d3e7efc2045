package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/pkg/common/logger"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient("test-token", logger.New(io.Discard, logger.LevelDebug, "test", nil),
		WithBaseURL(srv.URL),
		WithRequestTimeout(2*time.Second),
		WithRateLimit(1000, 100),
	)
}

func TestCreateFixBranch(t *testing.T) {
	t.Parallel()

	var createdRef struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/web/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"object": {"sha": "abc123"}}`)
	})
	mux.HandleFunc("POST /repos/acme/web/git/refs", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&createdRef))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"ref": %q}`, createdRef.Ref)
	})

	c := testClient(t, mux)
	branch, err := c.CreateFixBranch(context.Background(), "acme/web", "main", "Fix CVE-2024-1234 in lodash!")
	require.NoError(t, err)
	assert.Equal(t, "fix-cve-2024-1234-in-lodash", branch)
	assert.Equal(t, "refs/heads/fix-cve-2024-1234-in-lodash", createdRef.Ref)
	assert.Equal(t, "abc123", createdRef.SHA)
}

func TestCreateFixBranch_RetriesTransientRefLookup(t *testing.T) {
	t.Parallel()

	var refCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/web/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		if refCalls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"object": {"sha": "abc123"}}`)
	})
	mux.HandleFunc("POST /repos/acme/web/git/refs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"ref": "refs/heads/fix"}`)
	})

	c := testClient(t, mux)
	_, err := c.CreateFixBranch(context.Background(), "acme/web", "main", "fix")
	require.NoError(t, err)
	assert.Equal(t, int32(3), refCalls.Load(), "transient ref lookups are retried")
}

func TestCreateFixBranch_PermissionDeniedNotRetried(t *testing.T) {
	t.Parallel()

	var refCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/web/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		refCalls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "Resource not accessible by integration"}`)
	})

	c := testClient(t, mux)
	_, err := c.CreateFixBranch(context.Background(), "acme/web", "main", "fix")
	require.ErrorIs(t, err, findings.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "Resource not accessible")
	assert.Equal(t, int32(1), refCalls.Load(), "auth failures must not be retried")
}

func TestCreateFixBranch_ExistingBranchIsConflict(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/web/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object": {"sha": "abc123"}}`)
	})
	mux.HandleFunc("POST /repos/acme/web/git/refs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Reference already exists"}`)
	})

	c := testClient(t, mux)
	_, err := c.CreateFixBranch(context.Background(), "acme/web", "main", "fix")
	require.ErrorIs(t, err, findings.ErrConflict)
}

func TestCreatePullRequest(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fix-branch", req["head"])
		assert.Equal(t, "main", req["base"])

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"html_url": "https://github.com/acme/web/pull/42", "number": 42}`)
	})

	c := testClient(t, mux)
	pr, err := c.CreatePullRequest(context.Background(), "acme/web", "fix-branch", "Fix lodash advisory", "Automated fix")
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "https://github.com/acme/web/pull/42", pr.URL)
}

func TestCreatePullRequest_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c := testClient(t, mux)
	_, err := c.CreatePullRequest(context.Background(), "acme/web", "fix-branch", "title", "body")
	require.ErrorIs(t, err, findings.ErrTransientNetwork)
}

func TestCreatePullRequest_Timeout(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient("test-token", logger.New(io.Discard, logger.LevelDebug, "test", nil),
		WithBaseURL(srv.URL),
		WithRequestTimeout(50*time.Millisecond),
		WithRateLimit(1000, 100),
	)

	_, err := c.CreatePullRequest(context.Background(), "acme/web", "fix-branch", "title", "body")
	require.ErrorIs(t, err, findings.ErrTimeout)
}

func TestNormalizeBranchName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Fix CVE-2024-1234 in lodash!", "fix-cve-2024-1234-in-lodash"},
		{"upgrade/go 1.23", "upgrade/go-1.23"},
		{"   spaces   everywhere   ", "spaces-everywhere"},
		{"!!!", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeBranchName(tc.in), "input %q", tc.in)
	}
}
