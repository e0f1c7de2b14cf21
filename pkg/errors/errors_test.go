package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("cancel abc: %w", ErrNotCancellable)
	assert.True(t, errors.Is(err, ErrNotCancellable))
	assert.False(t, errors.Is(err, ErrJobNotFound))

	detailed := WithDetail(ErrDuplicateJob, "job 42")
	assert.True(t, errors.Is(detailed, ErrDuplicateJob))
	assert.Contains(t, detailed.Error(), "job 42")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		ErrJobNotFound:             http.StatusNotFound,
		ErrNotCancellable:          http.StatusConflict,
		ErrInvalidTarget:           http.StatusBadRequest,
		errors.New("disk on fire"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestFromStatusCode(t *testing.T) {
	assert.Equal(t, ErrorTypeRateLimit, FromStatusCode(429, "").Type)
	assert.Equal(t, ErrorTypeServerError, FromStatusCode(503, "").Type)
	assert.Equal(t, ErrorTypeNotFound, FromStatusCode(404, "").Type)
	assert.Equal(t, ErrorTypeAuth, FromStatusCode(403, "").Type)
	assert.Equal(t, ErrorTypeInvalidInput, FromStatusCode(400, "").Type)
	assert.Equal(t, ErrorTypeNetwork, FromStatusCode(0, "").Type)
}

func TestRetryability(t *testing.T) {
	assert.True(t, IsRetryable(ErrorTypeNetwork))
	assert.True(t, IsRetryable(ErrorTypeServerError))
	assert.False(t, IsRetryable(ErrorTypeNotFound))
	assert.False(t, IsRetryable(ErrorTypeConflict))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeConflict, TypeOf(fmt.Errorf("x: %w", ErrDuplicateJob)))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}
