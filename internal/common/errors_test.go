package common

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("submission x: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("bad config: %w", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("abort: %w", ErrInvalidTransition), http.StatusConflict},
		{ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatusFromError(c.err), "%v", c.err)
	}
}

func TestRespondWithDomainErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithDomainError(rec, fmt.Errorf("dial tcp 10.0.0.3:5432: refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
