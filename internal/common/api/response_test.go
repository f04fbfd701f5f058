package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, http.StatusCreated, map[string]string{"paymentId": "p1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true,"data":{"paymentId":"p1"}}`, rec.Body.String())
}

func TestWriteErrorWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithDetails(rec, http.StatusUnprocessableEntity, ErrCodeUpstreamRejected, "rejected", map[string]string{"body": "bad cpf"})

	assert.JSONEq(t, `{"success":false,"error":{"code":"UPSTREAM_REJECTED","message":"rejected"},"details":{"body":"bad cpf"}}`, rec.Body.String())
}

type sample struct {
	Email string `json:"email" validate:"required,email"`
	Due   string `json:"due" validate:"required,datetime=2006-01-02"`
}

func TestDecodeAndValidate(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
		err := DecodeAndValidate(req, &sample{})

		var decodeErr *DecodeError
		assert.True(t, errors.As(err, &decodeErr))
	})

	t.Run("validation failure details", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"nope","due":"10/05/2024"}`))
		err := DecodeAndValidate(req, &sample{})
		require.Error(t, err)

		rec := httptest.NewRecorder()
		ValidationError(rec, err)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var body Response[any]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, "Must be a valid email address", body.Details["Email"])
		assert.Equal(t, "Must be a date formatted as 2006-01-02", body.Details["Due"])
	})

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.com","due":"2024-05-10"}`))
		assert.NoError(t, DecodeAndValidate(req, &sample{}))
	})
}
