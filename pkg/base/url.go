package base

import (
	"fmt"
	"net/url"
	"strings"
)

// URL is a RTSP URL.
type URL url.URL

// ParseURL parses an RTSP URL.
func ParseURL(s string) (*URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return nil, fmt.Errorf("invalid scheme: %v", u.Scheme)
	}

	return (*URL)(u), nil
}

// String implements fmt.Stringer.
func (u URL) String() string {
	uu := url.URL(u)
	return uu.String()
}

// Clone clones a URL.
func (u URL) Clone() *URL {
	u2 := u
	return &u2
}

// CloneWithoutCredentials clones a URL without its credentials.
func (u URL) CloneWithoutCredentials() *URL {
	u2 := u
	u2.User = nil
	return &u2
}

// RTSPPathAndQuery returns the path and query of a RTSP URL.
func (u URL) RTSPPathAndQuery() (string, bool) {
	var pathAndQuery string
	if u.RawQuery != "" {
		pathAndQuery = u.Path + "?" + u.RawQuery
	} else {
		pathAndQuery = u.Path
	}
	pathAndQuery = strings.TrimPrefix(pathAndQuery, "/")
	return pathAndQuery, true
}

// PresentationKey returns the case-sensitive, normalized presentation key for
// this URL: scheme and host stripped, query string stripped, trailing
// per-track suffix (trackID=N or a bare numeric suffix) removed, leading
// slash stripped, ".sdp" suffix preserved.
func (u URL) PresentationKey() string {
	p := strings.TrimPrefix(u.Path, "/")
	p = strings.TrimSuffix(p, "/")

	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		suffix := p[idx+1:]
		if rest, ok := strings.CutPrefix(suffix, "trackID="); ok && isDigits(rest) {
			p = p[:idx]
		} else if isDigits(suffix) {
			p = p[:idx]
		}
	}

	return p
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
