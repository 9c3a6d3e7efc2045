package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/techmandates/techmandates/internal/app/auth"
	"github.com/techmandates/techmandates/internal/app/dashboard"
	"github.com/techmandates/techmandates/internal/app/reconcile"
	"github.com/techmandates/techmandates/internal/app/remediation"
	"github.com/techmandates/techmandates/internal/config"
	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/internal/infra/scanner/fixture"
	"github.com/techmandates/techmandates/internal/infra/storage"
	catalogmem "github.com/techmandates/techmandates/internal/infra/storage/catalog/memory"
	findingsmem "github.com/techmandates/techmandates/internal/infra/storage/findings/memory"
	identitymem "github.com/techmandates/techmandates/internal/infra/storage/identity/memory"
	"github.com/techmandates/techmandates/pkg/common/logger"
)

const scanFixture = `
security:
  complete: true
  findings:
    - advisory_id: CVE-2024-1234
      title: Prototype pollution
      severity: HIGH
      package: lodash
      version: 4.17.20
      fixed_in: 4.17.21
`

type fakeVCS struct{}

func (fakeVCS) CreateFixBranch(ctx context.Context, repoFullName, baseBranch, branchName string) (string, error) {
	return branchName, nil
}

func (fakeVCS) CreatePullRequest(ctx context.Context, repoFullName, branch, title, body string) (findings.PullRequest, error) {
	return findings.PullRequest{URL: "https://github.com/" + repoFullName + "/pull/42", Number: 42}, nil
}

type apiFixture struct {
	server *httptest.Server
	token  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := storage.NoOpTracer()

	findingStore := findingsmem.NewFindingStore()
	actionStore := findingsmem.NewRemediationStore()
	repoStore := catalogmem.NewRepositoryStore()
	userStore := identitymem.NewUserStore()

	scanner, err := fixture.Load(strings.NewReader(scanFixture))
	require.NoError(t, err)

	metrics, err := NewAPIMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	authSvc := auth.NewService(userStore, log)
	dashboardSvc := dashboard.NewService(repoStore, findingStore, actionStore, log, tracer)
	reconciler := reconcile.NewReconciler(findingStore, scanner, log, tracer)
	workflow := remediation.NewWorkflow(findingStore, actionStore, repoStore, fakeVCS{}, log, tracer)

	cfg := &config.Config{}
	srv, err := NewServer(cfg, log, tracer, metrics, authSvc, dashboardSvc, reconciler, workflow)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	fx := &apiFixture{server: ts}
	fx.mustJSON(t, http.MethodPost, "/v1/auth/register", map[string]string{
		"email": "dev@example.com", "password": "long enough password",
	}, http.StatusCreated, nil)

	var session struct {
		Token string `json:"token"`
	}
	fx.mustJSON(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"email": "dev@example.com", "password": "long enough password",
	}, http.StatusOK, &session)
	fx.token = session.Token

	return fx
}

// mustJSON issues a request and decodes the response, failing the test on an
// unexpected status.
func (fx *apiFixture) mustJSON(t *testing.T, method, path string, body any, wantStatus int, out any) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, fx.server.URL+path, reqBody)
	require.NoError(t, err)
	if fx.token != "" {
		req.Header.Set("Authorization", "Bearer "+fx.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s: %s", method, path, data)

	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
}

func (fx *apiFixture) connectRepo(t *testing.T) string {
	t.Helper()
	var repo struct {
		ID string `json:"id"`
	}
	fx.mustJSON(t, http.MethodPost, "/v1/repositories", map[string]string{
		"external_id": "100",
		"name":        "web",
		"full_name":   "acme/web",
		"clone_url":   "https://github.com/acme/web.git",
		"provider":    "GITHUB",
	}, http.StatusCreated, &repo)
	return repo.ID
}

func TestAPI_AuthRequired(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodGet, fx.server.URL+"/v1/repositories", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_ScanProducesActivityAndFindings(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	repoID := fx.connectRepo(t)

	var entries []struct {
		Type    string `json:"type"`
		Summary string `json:"summary"`
	}
	fx.mustJSON(t, http.MethodPost, "/v1/repositories/"+repoID+"/scans",
		map[string]string{"kind": "SECURITY"}, http.StatusOK, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "DISCOVERED", entries[0].Type)
	assert.Contains(t, entries[0].Summary, "CVE-2024-1234")

	var listed []struct {
		Kind   string `json:"kind"`
		Status string `json:"status"`
	}
	fx.mustJSON(t, http.MethodGet, "/v1/repositories/"+repoID+"/findings?kind=SECURITY", nil, http.StatusOK, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, "OPEN", listed[0].Status)

	// A second identical scan is a no-op.
	fx.mustJSON(t, http.MethodPost, "/v1/repositories/"+repoID+"/scans",
		map[string]string{"kind": "SECURITY"}, http.StatusOK, &entries)
	assert.Empty(t, entries)

	var repo struct {
		LastScanAt *string `json:"last_scan_at"`
	}
	fx.mustJSON(t, http.MethodGet, "/v1/repositories/"+repoID, nil, http.StatusOK, &repo)
	assert.NotNil(t, repo.LastScanAt)
}

func TestAPI_FixFlow(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	repoID := fx.connectRepo(t)

	fx.mustJSON(t, http.MethodPost, "/v1/repositories/"+repoID+"/scans",
		map[string]string{"kind": "SECURITY"}, http.StatusOK, nil)

	var listed []struct {
		ID string `json:"id"`
	}
	fx.mustJSON(t, http.MethodGet, "/v1/repositories/"+repoID+"/findings", nil, http.StatusOK, &listed)
	require.Len(t, listed, 1)

	var action struct {
		Outcome           string `json:"outcome"`
		PullRequestNumber int    `json:"pull_request_number"`
	}
	fx.mustJSON(t, http.MethodPost, "/v1/findings/"+listed[0].ID+"/fix", map[string]string{}, http.StatusCreated, &action)
	assert.Equal(t, "SUCCESS", action.Outcome)
	assert.Equal(t, 42, action.PullRequestNumber)

	var history []struct {
		Outcome string `json:"outcome"`
	}
	fx.mustJSON(t, http.MethodGet, "/v1/findings/"+listed[0].ID+"/actions", nil, http.StatusOK, &history)
	require.Len(t, history, 1)

	var found []struct {
		Status string `json:"status"`
	}
	fx.mustJSON(t, http.MethodGet, "/v1/repositories/"+repoID+"/findings", nil, http.StatusOK, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "IN_PROGRESS", found[0].Status)

	// In-progress findings cannot be fixed again.
	req, err := http.NewRequest(http.MethodPost, fx.server.URL+"/v1/findings/"+listed[0].ID+"/fix", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_DashboardMetrics(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	repoID := fx.connectRepo(t)

	fx.mustJSON(t, http.MethodPost, "/v1/repositories/"+repoID+"/scans",
		map[string]string{"kind": "SECURITY"}, http.StatusOK, nil)

	var m struct {
		TotalRepositories   int `json:"total_repositories"`
		OpenVulnerabilities int `json:"open_vulnerabilities"`
	}
	fx.mustJSON(t, http.MethodGet, "/v1/dashboard/metrics", nil, http.StatusOK, &m)
	assert.Equal(t, 1, m.TotalRepositories)
	assert.Equal(t, 1, m.OpenVulnerabilities)
}

func TestAPI_DisconnectRepository(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	repoID := fx.connectRepo(t)

	req, err := http.NewRequest(http.MethodDelete, fx.server.URL+"/v1/repositories/"+repoID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+fx.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var repos []any
	fx.mustJSON(t, http.MethodGet, "/v1/repositories", nil, http.StatusOK, &repos)
	assert.Empty(t, repos)
}

func TestAPI_DuplicateConnectConflicts(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	fx.connectRepo(t)

	body, err := json.Marshal(map[string]string{
		"external_id": "100", "name": "web", "full_name": "acme/web",
		"clone_url": "https://github.com/acme/web.git", "provider": "GITHUB",
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, fx.server.URL+"/v1/repositories", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
