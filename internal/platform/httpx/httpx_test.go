package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildledger/buildledger/internal/shared"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestRespondErrorMapping(t *testing.T) {
	type payload struct {
		Email string `validate:"required,email"`
	}
	vErr := validator.New().Struct(payload{Email: "nope"})
	require.Error(t, vErr)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", shared.NewValidationError("amount", "must be positive"), http.StatusBadRequest, CodeValidation},
		{"validator", vErr, http.StatusBadRequest, CodeValidation},
		{"owner mismatch", &shared.AuthorizationError{Resource: "invoice", ID: "1"}, http.StatusNotFound, CodeForbidden},
		{"not found", fmt.Errorf("load: %w", shared.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"transition", &shared.InvalidTransitionError{Kind: "quote", From: "draft", To: "accepted"}, http.StatusConflict, CodeInvalidTransition},
		{"conflict", shared.ErrConflict, http.StatusConflict, CodeConflict},
		{"unauthenticated", shared.ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthenticated},
		{"transient", shared.Transient("send email", errors.New("502")), http.StatusServiceUnavailable, CodeUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, CodeUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, tc.code, p.Code)
			assert.Equal(t, tc.status, p.Status)
		})
	}
}

func TestNotFoundAndForbiddenLookAlike(t *testing.T) {
	missing := httptest.NewRecorder()
	RespondError(missing, shared.ErrNotFound)
	foreign := httptest.NewRecorder()
	RespondError(foreign, &shared.AuthorizationError{Resource: "invoice", ID: "1"})

	assert.Equal(t, missing.Code, foreign.Code)
	assert.Equal(t, decodeProblem(t, missing).Detail, decodeProblem(t, foreign).Detail)
}

func TestDecodeJSON(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Pat"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &target))
	assert.Equal(t, "Pat", target.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), req, &target), ErrEmptyBody)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Pat","status":"paid"}`))
	assert.Error(t, DecodeJSON(httptest.NewRecorder(), req, &target))

	big := `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	assert.Error(t, DecodeJSON(httptest.NewRecorder(), req, &target))
}

func TestRequireOwnerAndID(t *testing.T) {
	owner := uuid.New()
	id := uuid.New()

	r := chi.NewRouter()
	r.Get("/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotOwner, gotID, ok := RequireOwnerAndID(w, r, "id")
		if !ok {
			return
		}
		JSON(w, http.StatusOK, map[string]string{"owner": gotOwner.String(), "id": gotID.String()})
	})

	serve := func(path string, withOwner bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if withOwner {
			req = req.WithContext(shared.ContextWithOwner(req.Context(), owner))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, serve("/invoices/"+id.String(), false).Code)
	assert.Equal(t, http.StatusNotFound, serve("/invoices/not-a-uuid", true).Code)

	rec := serve("/invoices/"+id.String(), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"owner":%q,"id":%q}`, owner, id), rec.Body.String())
}
