package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coldcutmedia/rtspreflect/pkg/base"
)

// RTPInfoEntry is one comma-separated entry of a RTP-Info header.
type RTPInfoEntry struct {
	// URL is the stream's (track's) URL.
	URL string

	// SequenceNumber is the seq of the first packet of the response.
	SequenceNumber *uint16

	// Timestamp is the rtptime of the first packet of the response.
	Timestamp *uint32
}

// RTPInfo is a RTP-Info header: comma-separated per-track entries, emitted
// on PLAY responses.
type RTPInfo []*RTPInfoEntry

// Read decodes a RTP-Info header.
func (h *RTPInfo) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	for _, entryStr := range strings.Split(v[0], ",") {
		entryStr = strings.TrimSpace(entryStr)
		if entryStr == "" {
			continue
		}

		kvs, err := keyValParse(entryStr, ';')
		if err != nil {
			return err
		}

		entry := &RTPInfoEntry{}

		if u, ok := kvs["url"]; ok {
			entry.URL = u
		} else {
			return fmt.Errorf("url not found in RTP-Info entry")
		}

		if s, ok := kvs["seq"]; ok {
			n, err := strconv.ParseUint(s, 10, 16)
			if err != nil {
				return fmt.Errorf("invalid seq: %v", s)
			}
			v16 := uint16(n)
			entry.SequenceNumber = &v16
		}

		if t, ok := kvs["rtptime"]; ok {
			n, err := strconv.ParseUint(t, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid rtptime: %v", t)
			}
			v32 := uint32(n)
			entry.Timestamp = &v32
		}

		*h = append(*h, entry)
	}

	return nil
}

// Write encodes a RTP-Info header.
func (h RTPInfo) Write() base.HeaderValue {
	entries := make([]string, len(h))

	for i, e := range h {
		parts := []string{"url=" + e.URL}
		if e.SequenceNumber != nil {
			parts = append(parts, "seq="+strconv.FormatUint(uint64(*e.SequenceNumber), 10))
		}
		if e.Timestamp != nil {
			parts = append(parts, "rtptime="+strconv.FormatUint(uint64(*e.Timestamp), 10))
		}
		entries[i] = strings.Join(parts, ";")
	}

	return base.HeaderValue{strings.Join(entries, ",")}
}
