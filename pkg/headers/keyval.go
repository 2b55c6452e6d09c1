// Package headers contains RTSP header parsers and writers.
package headers

import (
	"fmt"
	"strings"
)

// keyValParse parses a list of key[=value] pairs split on separator: ';'
// for Transport, Session and RTP-Info entries, ',' for WWW-Authenticate
// and Authorization.
func keyValParse(s string, separator byte) (map[string]string, error) {
	ret := make(map[string]string)

	for _, kv := range splitUnescaped(s, separator) {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}

		if i := strings.IndexByte(kv, '='); i >= 0 {
			key := strings.TrimSpace(kv[:i])
			val := strings.TrimSpace(kv[i+1:])
			if key == "" {
				return nil, fmt.Errorf("invalid key-value pair: %v", kv)
			}
			ret[key] = val
		} else {
			ret[kv] = ""
		}
	}

	return ret, nil
}

// splitUnescaped splits s by sep, ignoring occurrences inside double quotes.
func splitUnescaped(s string, sep byte) []string {
	var ret []string
	var cur strings.Builder
	inQuotes := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == sep && !inQuotes:
			ret = append(ret, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	ret = append(ret, cur.String())

	return ret
}
