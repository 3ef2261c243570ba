package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "storefront-backend/internal/errors"
)

func TestFromError(t *testing.T) {
	t.Run("Should map validation errors to bad request", func(t *testing.T) {
		w := httptest.NewRecorder()
		FromError(w, cerrors.NewInvalidCursor("???", errors.New("bad base64")))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "INVALID_CURSOR", body.Code)
	})

	t.Run("Should hide other errors", func(t *testing.T) {
		w := httptest.NewRecorder()
		FromError(w, errors.New("db password wrong"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "password")
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})
}
