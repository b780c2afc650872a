package transiterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	cases := map[ErrorCode]string{
		CodeInvalidInput: "invalid_input",
		CodeConflict:     "conflict",
		CodeNotFound:     "not_found",
		CodeTooLarge:     "too_large",
		CodeTimeout:      "timeout",
		CodePeerGone:     "peer_gone",
		CodeTruncated:    "truncated",
		CodeInternal:     "internal",
		ErrorCode(99):    "unknown",
	}
	for code, want := range cases {
		assert.Equal(t, want, code.String())
	}
}

func TestConstructors_SetCodeAndUID(t *testing.T) {
	t.Run("conflict carries uid and message", func(t *testing.T) {
		err := NewConflictError("abc123", "sender already connected for %s", "abc123")
		assert.Equal(t, CodeConflict, err.Code)
		assert.Equal(t, "abc123", err.UID)
		assert.Contains(t, err.Error(), "conflict")
		assert.Contains(t, err.Error(), "abc123")
	})

	t.Run("not found", func(t *testing.T) {
		err := NewNotFoundError("missing-uid", "no pending transfer")
		assert.True(t, IsNotFoundError(err))
		assert.False(t, IsConflictError(err))
	})

	t.Run("too large", func(t *testing.T) {
		err := NewTooLargeError("uid", "upload exceeds %d bytes", 1<<30)
		assert.True(t, IsTooLargeError(err))
		assert.Equal(t, 413, err.Code.HTTPStatus())
	})
}

func TestCodeOf_NonTransitErrorIsInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.True(t, IsInternalError(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		CodeInvalidInput: 400,
		CodeConflict:     409,
		CodeNotFound:     404,
		CodeTooLarge:     413,
		CodeTimeout:      408,
		CodePeerGone:     502,
		CodeTruncated:    500,
		CodeInternal:     500,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus())
	}
}

func TestAsTransitError(t *testing.T) {
	var te *TransitError
	err := NewTimeoutError("u1", "waited too long")

	ok := AsTransitError(err, &te)
	assert.True(t, ok)
	assert.Equal(t, CodeTimeout, te.Code)

	ok = AsTransitError(errors.New("plain"), &te)
	assert.False(t, ok)
}
