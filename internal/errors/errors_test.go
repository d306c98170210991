package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidAppKey,
		ErrCacheUnavailable,
		ErrCacheUnwritable,
		ErrNoAPIHost,
		ErrAPIResponse,
		ErrValidation,
		ErrInvalidAppID,
		ErrInvalidCertificate,
		ErrPrivilegeExpiry,
		ErrUnknownService,
		ErrMalformedToken,
		ErrUnsupportedVersion,
	}
	for i := 0; i < len(sentinels); i++ {
		assert.NotEmpty(t, sentinels[i].Error())

		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestInvalid_WrapsValidation(t *testing.T) {
	err := Invalid("username", "is required")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "username is required")
}

func TestRemoteError_Message(t *testing.T) {
	tests := []struct {
		err  RemoteError
		want string
	}{
		{RemoteError{Code: 401, Message: "unauthorized", Description: "bad secret"}, "remote error (401): unauthorized: bad secret"},
		{RemoteError{Code: 404, Message: "Not Found"}, "remote error (404): Not Found"},
		{RemoteError{Code: 599}, "remote error (599): unknown error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestRemoteError_Map(t *testing.T) {
	re := &RemoteError{Code: 401, Message: "unauthorized", Description: "bad secret"}
	m := re.Map()
	assert.Equal(t, 401, m["code"])
	assert.Equal(t, "unauthorized", m["error"])
	assert.Equal(t, "bad secret", m["error_description"])
}

func TestAsRemote(t *testing.T) {
	wrapped := fmt.Errorf("fetching token: %w", &RemoteError{Code: ConnectionFailed, Message: "refused"})

	re, ok := AsRemote(wrapped)
	require.True(t, ok)
	assert.True(t, re.IsConnectionFailure())

	_, ok = AsRemote(errors.New("plain"))
	assert.False(t, ok)
}
