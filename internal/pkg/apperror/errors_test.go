package apperror

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateConflict_IsBadRequest(t *testing.T) {
	err := StateConflict("подтвердить можно только сданный заказ", "completed")

	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.Equal(t, "completed", err.CurrentStatus)
	assert.True(t, IsStateConflict(err))
}

func TestConflict_StaysConflict(t *testing.T) {
	err := New(ErrCodeConflict, "по заказу уже открыт спор")

	assert.Equal(t, http.StatusConflict, err.HTTPStatus)
	assert.True(t, IsStateConflict(err))
}

func TestCodeToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, New(ErrCodeNotFound, "x").HTTPStatus)
	assert.Equal(t, http.StatusUnauthorized, New(ErrCodeUnauthorized, "x").HTTPStatus)
	assert.Equal(t, http.StatusForbidden, New(ErrCodeForbidden, "x").HTTPStatus)
	assert.Equal(t, http.StatusBadRequest, New(ErrCodeValidation, "x").HTTPStatus)
	assert.Equal(t, http.StatusBadRequest, New(ErrCodeStateConflict, "x").HTTPStatus)
	assert.Equal(t, http.StatusInternalServerError, New(ErrCodeInternal, "x").HTTPStatus)
}
