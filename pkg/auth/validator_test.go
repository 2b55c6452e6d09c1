package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldcutmedia/rtspreflect/pkg/headers"
)

func TestValidatorDigestRoundTrip(t *testing.T) {
	const user, pass = "alice", "secret"

	va, err := NewValidator("rtspreflect", headers.AuthDigest, func(authz *headers.Authorization) bool {
		return authz.Username == user
	})
	require.NoError(t, err)

	resp := va.DigestResponse(user, pass, "ANNOUNCE", "rtsp://srv/live.sdp")

	authz := &headers.Authorization{
		Method:   headers.AuthDigest,
		Username: user,
		Realm:    "rtspreflect",
		Nonce:    va.Challenge().Nonce,
		URI:      "rtsp://srv/live.sdp",
		Response: resp,
	}

	require.NoError(t, va.ValidateRequest(authz))
}

func TestValidatorRejectsWrongNonce(t *testing.T) {
	va, err := NewValidator("rtspreflect", headers.AuthDigest, func(authz *headers.Authorization) bool {
		return true
	})
	require.NoError(t, err)

	authz := &headers.Authorization{
		Method: headers.AuthDigest,
		Nonce:  "stale-nonce",
	}

	require.Error(t, va.ValidateRequest(authz))
}
