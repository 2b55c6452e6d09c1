package headers

import (
	"fmt"
	"strings"

	"github.com/coldcutmedia/rtspreflect/pkg/base"
)

// AuthMethod is an authentication method.
type AuthMethod int

// Authentication methods.
const (
	AuthBasic AuthMethod = iota
	AuthDigest
)

// Authenticate is a WWW-Authenticate header: the challenge sent on 401.
type Authenticate struct {
	Method AuthMethod
	Realm  string
	Nonce  string
}

// Read decodes a WWW-Authenticate header.
func (h *Authenticate) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	v0 := v[0]

	switch {
	case strings.HasPrefix(v0, "Basic "):
		h.Method = AuthBasic
		v0 = strings.TrimPrefix(v0, "Basic ")

	case strings.HasPrefix(v0, "Digest "):
		h.Method = AuthDigest
		v0 = strings.TrimPrefix(v0, "Digest ")

	default:
		return fmt.Errorf("unsupported auth method: %v", v0)
	}

	kvs, err := keyValParse(v0, ',')
	if err != nil {
		return err
	}

	h.Realm = strings.Trim(kvs["realm"], `"`)
	h.Nonce = strings.Trim(kvs["nonce"], `"`)

	return nil
}

// Write encodes a WWW-Authenticate header.
func (h Authenticate) Write() base.HeaderValue {
	if h.Method == AuthBasic {
		return base.HeaderValue{fmt.Sprintf(`Basic realm="%s"`, h.Realm)}
	}
	return base.HeaderValue{fmt.Sprintf(`Digest realm="%s", nonce="%s"`, h.Realm, h.Nonce)}
}
