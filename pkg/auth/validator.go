// Package auth implements the server side of RTSP Basic and Digest
// authentication. Credential verification itself is delegated to a
// caller-supplied VerifyFunc.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/coldcutmedia/rtspreflect/pkg/headers"
)

// VerifyFunc reports whether the credentials a client answered with are
// valid. Implementations (a static htpasswd-style map, an LDAP bind, a
// group lookup for broadcaster_group) are supplied by the embedder.
type VerifyFunc func(authz *headers.Authorization) bool

// Validator issues WWW-Authenticate challenges and checks client responses.
type Validator struct {
	Realm  string
	Method headers.AuthMethod
	Verify VerifyFunc

	nonce string
}

// NewValidator allocates a Validator with a freshly generated nonce.
func NewValidator(realm string, method headers.AuthMethod, verify VerifyFunc) (*Validator, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, err
	}

	return &Validator{
		Realm:  realm,
		Method: method,
		Verify: verify,
		nonce:  nonce,
	}, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Challenge returns the WWW-Authenticate header to send on a 401 response.
func (va *Validator) Challenge() headers.Authenticate {
	return headers.Authenticate{
		Method: va.Method,
		Realm:  va.Realm,
		Nonce:  va.nonce,
	}
}

// ValidateRequest checks an incoming Authorization header. It returns nil
// if authentication succeeds.
func (va *Validator) ValidateRequest(authz *headers.Authorization) error {
	if authz == nil {
		return fmt.Errorf("Authorization header not provided")
	}

	if authz.Method != va.Method {
		return fmt.Errorf("unsupported authentication method")
	}

	if va.Method == headers.AuthDigest && authz.Nonce != va.nonce {
		return fmt.Errorf("wrong nonce")
	}

	if !va.Verify(authz) {
		return fmt.Errorf("invalid credentials")
	}

	return nil
}

// DigestResponse computes the expected Digest "response" field for a given
// username/password/method/uri, for use by VerifyFunc implementations and
// by tests that need to produce a valid client Authorization header.
func (va *Validator) DigestResponse(user, pass, method, uri string) string {
	ha1 := md5Hex(user + ":" + va.Realm + ":" + pass)
	ha2 := md5Hex(method + ":" + uri)
	return md5Hex(ha1 + ":" + va.nonce + ":" + ha2)
}

func md5Hex(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}
