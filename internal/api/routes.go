package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/techmandates/techmandates/internal/domain/catalog"
	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/internal/domain/identity"
)

type ctxKey int

const userIDKey ctxKey = 1

func userIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userIDKey).(uuid.UUID)
	return id
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			r.Route("/repositories", func(r chi.Router) {
				r.Get("/", s.handleListRepositories)
				r.Post("/", s.handleConnectRepository)
				r.Get("/{id}", s.handleGetRepository)
				r.Delete("/{id}", s.handleDisconnectRepository)
				r.Get("/{id}/findings", s.handleListFindings)
				r.Post("/{id}/scans", s.handleScan)
			})

			r.Route("/findings", func(r chi.Router) {
				r.Post("/{id}/fix", s.handleRequestFix)
				r.Get("/{id}/actions", s.handleListActions)
				r.Post("/fix-batch", s.handleRequestFixBatch)
			})

			r.Get("/dashboard/metrics", s.handleMetrics)
		})
	})
}

// authenticate resolves the bearer token and stores the user id in the
// request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			render.Render(w, r, errDomain(identity.ErrInvalidCredentials))
			return
		}

		userID, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			render.Render(w, r, errDomain(err))
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *identity.User) userResponse {
	return userResponse{ID: u.ID().String(), Email: u.Email(), CreatedAt: u.CreatedAt()}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	user, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		render.Render(w, r, errDomain(err))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toUserResponse(user))
}

type sessionResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	session, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		render.Render(w, r, errDomain(err))
		return
	}

	render.JSON(w, r, sessionResponse{
		Token:     session.Token,
		UserID:    session.UserID.String(),
		ExpiresAt: session.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.auth.Logout(r.Context(), token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.GetUser(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		render.Render(w, r, errDomain(err))
		return
	}
	render.JSON(w, r, toUserResponse(user))
}

type connectRepositoryRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	FullName   string `json:"full_name"`
	CloneURL   string `json:"clone_url"`
	Provider   string `json:"provider"`
}

type repositoryResponse struct {
	ID            string     `json:"id"`
	ExternalID    string     `json:"external_id"`
	Name          string     `json:"name"`
	FullName      string     `json:"full_name"`
	Description   string     `json:"description,omitempty"`
	CloneURL      string     `json:"clone_url"`
	IsPrivate     bool       `json:"is_private"`
	Language      string     `json:"language,omitempty"`
	DefaultBranch string     `json:"default_branch"`
	Provider      string     `json:"provider"`
	LastScanAt    *time.Time `json:"last_scan_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toRepositoryResponse(repo *catalog.Repository) repositoryResponse {
	resp := repositoryResponse{
		ID:            repo.ID().String(),
		ExternalID:    repo.ExternalID(),
		Name:          repo.Name(),
		FullName:      repo.FullName(),
		Description:   repo.Description(),
		CloneURL:      repo.CloneURL(),
		IsPrivate:     repo.IsPrivate(),
		Language:      repo.Language(),
		DefaultBranch: repo.DefaultBranch(),
		Provider:      repo.Provider().String(),
		CreatedAt:     repo.CreatedAt(),
	}
	if t := repo.LastScanAt(); !t.IsZero() {
		resp.LastScanAt = &t
	}
	return resp
}

func (s *Server) handleConnectRepository(w http.ResponseWriter, r *http.Request) {
	var req connectRepositoryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	repo, err := s.dashboard.ConnectRepository(r.Context(), userIDFromContext(r.Context()),
		req.ExternalID, req.Name, req.FullName, req.CloneURL, catalog.ParseProvider(req.Provider))
	if err != nil {
		render.Render(w, r, errDomain(err))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toRepositoryResponse(repo))
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.dashboard.ListRepositories(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		render.Render(w, r, errDomain(err))
		return
	}

	resp := make([]repositoryResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepositoryResponse(repo))
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	repoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	repo, err := s.dashboard.GetRepository(r.Context(), userIDFromContext(r.Context()), repoID)
	if err != nil {
		render.Render(w, r, errDomain(err))
		return
	}
	render.JSON(w, r, toRepositoryResponse(repo))
}

func (s *Server) handleDisconnectRepository(w http.ResponseWriter, r *http.Request) {
	repoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	if err := s.dashboard.DisconnectRepository(r.Context(), userIDFromContext(r.Context()), repoID); err != nil {
		render.Render(w, r, errDomain(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type findingResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	RepositoryID string    `json:"repository_id"`
	Status       string    `json:"status"`
	Summary      string    `json:"summary"`
	Payload      any       `json:"payload"`
	DiscoveredAt time.Time `json:"discovered_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

func toFindingResponse(f *findings.Finding) findingResponse {
	return findingResponse{
		ID:           f.ID().String(),
		Kind:         f.Kind().String(),
		RepositoryID: f.RepositoryID().String(),
		Status:       f.Status().String(),
		Summary:      f.Payload().Summary(),
		Payload:      f.Payload(),
		DiscoveredAt: f.DiscoveredAt(),
		LastSeenAt:   f.LastSeenAt(),
	}
}

func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	repoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	kind := findings.KindUnspecified
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind = findings.ParseFindingKind(raw)
	}

	listed, err := s.dashboard.ListFindings(r.Context(), userIDFromContext(r.Context()), repoID, kind)
	if err != nil {
		render.Render(w, r, errDomain(err))
		return
	}

	resp := make([]findingResponse, 0, len(listed))
	for _, f := range listed {
		resp = append(resp, toFindingResponse(f))
	}
	render.JSON(w, r, resp)
}

type scanRequest struct {
	Kind string `json:"kind"`
}

type activityResponse struct {
	Type       string    `json:"type"`
	FindingID  string    `json:"finding_id"`
	Summary    string    `json:"summary"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	repoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	var req scanRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	userID := userIDFromContext(r.Context())

	// Ownership check happens before the scanner runs.
	if _, err := s.dashboard.GetRepository(r.Context(), userID, repoID); err != nil {
		render.Render(w, r, errDomain(err))
		return
	}

	s.metrics.IncScanRequestsTotal(r.Context())

	entries, err := s.reconciler.Reconcile(r.Context(), repoID, findings.ParseFindingKind(req.Kind))
	if err != nil {
		s.metrics.IncScanRequestErrors(r.Context(), "reconcile")
		render.Render(w, r, errDomain(err))
		return
	}

	if err := s.dashboard.MarkScanned(r.Context(), userID, repoID); err != nil {
		s.logger.Error(r.Context(), "failed to record scan time", "error", err)
	}

	resp := make([]activityResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, activityResponse{
			Type:       e.Type.String(),
			FindingID:  e.FindingID,
			Summary:    e.Summary,
			OccurredAt: e.OccurredAt,
		})
	}
	render.JSON(w, r, resp)
}

type actionResponse struct {
	ID                string     `json:"id"`
	FindingID         string     `json:"finding_id"`
	BranchName        string     `json:"branch_name"`
	Outcome           string     `json:"outcome"`
	PullRequestURL    string     `json:"pull_request_url,omitempty"`
	PullRequestNumber int        `json:"pull_request_number,omitempty"`
	ErrorDetail       string     `json:"error_detail,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func toActionResponse(a *findings.RemediationAction) actionResponse {
	resp := actionResponse{
		ID:                a.ID().String(),
		FindingID:         a.FindingID().String(),
		BranchName:        a.BranchName(),
		Outcome:           a.Outcome().String(),
		PullRequestURL:    a.PullRequestURL(),
		PullRequestNumber: a.PullRequestNumber(),
		ErrorDetail:       a.ErrorDetail(),
		CreatedAt:         a.CreatedAt(),
	}
	if t := a.CompletedAt(); !t.IsZero() {
		resp.CompletedAt = &t
	}
	return resp
}

func (s *Server) handleRequestFix(w http.ResponseWriter, r *http.Request) {
	findingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	s.metrics.IncFixRequestsTotal(r.Context())

	action, err := s.remediation.RequestFix(r.Context(), userIDFromContext(r.Context()), findingID)
	if err != nil && action == nil {
		s.metrics.IncFixRequestErrors(r.Context(), "request")
		render.Render(w, r, errDomain(err))
		return
	}
	if err != nil {
		// The attempt ran and failed; the recorded action carries the
		// classified detail, so the response is the action itself.
		s.metrics.IncFixRequestErrors(r.Context(), "attempt")
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toActionResponse(action))
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	findingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	actions, err := s.remediation.ListActions(r.Context(), userIDFromContext(r.Context()), findingID)
	if err != nil {
		render.Render(w, r, errDomain(err))
		return
	}

	resp := make([]actionResponse, 0, len(actions))
	for _, a := range actions {
		resp = append(resp, toActionResponse(a))
	}
	render.JSON(w, r, resp)
}

type fixBatchRequest struct {
	FindingIDs []string `json:"finding_ids"`
}

type fixResultResponse struct {
	FindingID string          `json:"finding_id"`
	Action    *actionResponse `json:"action,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) handleRequestFixBatch(w http.ResponseWriter, r *http.Request) {
	var req fixBatchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	ids := make([]uuid.UUID, 0, len(req.FindingIDs))
	for _, raw := range req.FindingIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			render.Render(w, r, errInvalidRequest(err))
			return
		}
		ids = append(ids, id)
	}

	results := s.remediation.RequestFixBatch(r.Context(), userIDFromContext(r.Context()), ids, nil)

	resp := make([]fixResultResponse, 0, len(results))
	for _, res := range results {
		item := fixResultResponse{FindingID: res.FindingID.String()}
		if res.Action != nil {
			a := toActionResponse(res.Action)
			item.Action = &a
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		resp = append(resp, item)
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.dashboard.ComputeMetrics(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		render.Render(w, r, errDomain(err))
		return
	}
	render.JSON(w, r, m)
}
