// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/buildledger/buildledger/internal/shared"
)

// Stable machine-readable problem codes.
const (
	CodeValidation        = "validation_failed"
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
	CodeInvalidTransition = "invalid_transition"
	CodeConflict          = "conflict"
	CodeUnauthenticated   = "unauthenticated"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal_error"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Owner mismatches are reported exactly like a missing resource.
func RespondError(w http.ResponseWriter, err error) {
	var (
		verr  *shared.ValidationError
		terr  *shared.InvalidTransitionError
		vErrs validator.ValidationErrors
	)
	switch {
	case errors.As(err, &verr):
		Problem(w, http.StatusBadRequest, CodeValidation, "Validation Failed", verr.Error())
	case errors.As(err, &vErrs):
		Problem(w, http.StatusBadRequest, CodeValidation, "Validation Failed", describeValidation(vErrs))
	case shared.IsAuthorization(err):
		Problem(w, http.StatusNotFound, CodeForbidden, "Not Found", "resource not found")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, CodeNotFound, "Not Found", "resource not found")
	case errors.As(err, &terr):
		Problem(w, http.StatusConflict, CodeInvalidTransition, "Invalid Transition", terr.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, CodeConflict, "Conflict", "document was modified concurrently, reload and retry")
	case errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, CodeUnauthenticated, "Unauthorized", "")
	case shared.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusServiceUnavailable, CodeUnavailable, "Service Unavailable", "temporary failure, retry later")
	default:
		Problem(w, http.StatusInternalServerError, CodeInternal, "Internal Error", "")
	}
}

func describeValidation(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid input"
	}
	first := errs[0]
	return "field " + first.Namespace() + " failed on " + first.Tag()
}
