package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buildledger/buildledger/internal/shared"
)

// RequireOwner returns the authenticated owner or writes a 401.
func RequireOwner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	owner, ok := shared.OwnerFromContext(r.Context())
	if !ok {
		RespondError(w, shared.ErrUnauthenticated)
		return uuid.Nil, false
	}
	return owner, true
}

// RequireOwnerAndID combines RequireOwner with parsing the {param} route segment as a uuid.
// Malformed ids answer exactly like missing resources.
func RequireOwnerAndID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, uuid.UUID, bool) {
	owner, ok := RequireOwner(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		RespondError(w, shared.ErrNotFound)
		return uuid.Nil, uuid.Nil, false
	}
	return owner, id, true
}

// Bind decodes the request body into target or writes a validation problem.
func Bind(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := DecodeJSON(w, r, target); err != nil {
		RespondError(w, shared.NewValidationError("body", "%s", err.Error()))
		return false
	}
	return true
}
