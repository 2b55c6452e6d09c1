package headers

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/coldcutmedia/rtspreflect/pkg/base"
)

// Authorization is an Authorization header, holding either Basic or Digest
// credentials.
type Authorization struct {
	Method AuthMethod

	// Basic.
	BasicUser string
	BasicPass string

	// Digest.
	Username string
	Realm    string
	Nonce    string
	URI      string
	Response string
}

// Read decodes an Authorization header.
func (h *Authorization) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	v0 := v[0]

	switch {
	case strings.HasPrefix(v0, "Basic "):
		h.Method = AuthBasic
		enc := strings.TrimPrefix(v0, "Basic ")
		dec, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return fmt.Errorf("invalid base64: %w", err)
		}
		parts := strings.SplitN(string(dec), ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid Basic credentials")
		}
		h.BasicUser = parts[0]
		h.BasicPass = parts[1]
		return nil

	case strings.HasPrefix(v0, "Digest "):
		h.Method = AuthDigest
		kvs, err := keyValParse(strings.TrimPrefix(v0, "Digest "), ',')
		if err != nil {
			return err
		}
		h.Username = strings.Trim(kvs["username"], `"`)
		h.Realm = strings.Trim(kvs["realm"], `"`)
		h.Nonce = strings.Trim(kvs["nonce"], `"`)
		h.URI = strings.Trim(kvs["uri"], `"`)
		h.Response = strings.Trim(kvs["response"], `"`)
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %v", v0)
	}
}

// Write encodes an Authorization header.
func (h Authorization) Write() base.HeaderValue {
	if h.Method == AuthBasic {
		enc := base64.StdEncoding.EncodeToString([]byte(h.BasicUser + ":" + h.BasicPass))
		return base.HeaderValue{"Basic " + enc}
	}

	return base.HeaderValue{fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		h.Username, h.Realm, h.Nonce, h.URI, h.Response)}
}
