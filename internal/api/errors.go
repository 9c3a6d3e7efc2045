package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/techmandates/techmandates/internal/app/auth"
	"github.com/techmandates/techmandates/internal/domain/catalog"
	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/internal/domain/identity"
)

// ErrResponse is the JSON error envelope.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "invalid request",
		ErrorText:      err.Error(),
	}
}

// errDomain maps domain errors onto HTTP statuses. Anything unrecognized is
// an internal error with the detail withheld from the client.
func errDomain(err error) render.Renderer {
	var (
		status int
		text   string
	)
	switch {
	case errors.Is(err, findings.ErrFindingNotFound),
		errors.Is(err, catalog.ErrRepositoryNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		status, text = http.StatusNotFound, "not found"

	case errors.Is(err, catalog.ErrRepositoryExists),
		errors.Is(err, identity.ErrUserExists),
		errors.Is(err, findings.ErrConflict):
		status, text = http.StatusConflict, "conflict"

	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, auth.ErrSessionInvalid):
		status, text = http.StatusUnauthorized, "unauthorized"

	case errors.Is(err, findings.ErrPermissionDenied):
		status, text = http.StatusForbidden, "forbidden"

	case errors.Is(err, findings.ErrInvalidTransition),
		errors.Is(err, findings.ErrInvalidState):
		status, text = http.StatusConflict, "invalid state"

	case errors.Is(err, findings.ErrScanFailed),
		errors.Is(err, findings.ErrScannerUnavailable),
		errors.Is(err, findings.ErrTransientNetwork):
		status, text = http.StatusBadGateway, "upstream failure"

	case errors.Is(err, findings.ErrTimeout):
		status, text = http.StatusGatewayTimeout, "upstream timeout"

	case errors.Is(err, findings.ErrStoreUnavailable):
		status, text = http.StatusServiceUnavailable, "storage unavailable"

	default:
		return &ErrResponse{
			HTTPStatusCode: http.StatusInternalServerError,
			StatusText:     "internal error",
		}
	}

	return &ErrResponse{
		HTTPStatusCode: status,
		StatusText:     text,
		ErrorText:      err.Error(),
	}
}
