package headers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coldcutmedia/rtspreflect/pkg/base"
)

// Session is a Session header: an opaque 64-bit decimal session ID with an
// optional timeout parameter.
type Session struct {
	// Session ID.
	Session string

	// Timeout, in seconds (optional).
	Timeout *uint
}

// Read decodes a Session header.
func (h *Session) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	parts := strings.SplitN(v[0], ";", 2)
	h.Session = strings.TrimSpace(parts[0])
	if h.Session == "" {
		return fmt.Errorf("empty session id")
	}

	if len(parts) == 2 {
		kvs, err := keyValParse(parts[1], ';')
		if err != nil {
			return err
		}
		if to, ok := kvs["timeout"]; ok {
			n, err := strconv.ParseUint(to, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid timeout: %v", to)
			}
			u := uint(n)
			h.Timeout = &u
		}
	}

	return nil
}

// Write encodes a Session header.
func (h Session) Write() base.HeaderValue {
	if h.Timeout != nil {
		return base.HeaderValue{fmt.Sprintf("%s;timeout=%d", h.Session, *h.Timeout)}
	}
	return base.HeaderValue{h.Session}
}

// RangeValue describes the start/end of a Range header (npt only).
type RangeValue struct {
	// Start time; nil means "now".
	Start *time.Duration

	// End time (optional).
	End *time.Duration
}

// Range is a Range header.
type Range struct {
	Value RangeValue
}

// Read decodes a Range header (npt=<start>-[<end>] or npt=now-).
func (h *Range) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	s := v[0]
	if !strings.HasPrefix(s, "npt=") {
		return fmt.Errorf("unsupported range unit: %v", s)
	}
	s = strings.TrimPrefix(s, "npt=")

	parts := strings.SplitN(s, "-", 2)
	if len(parts) == 0 {
		return fmt.Errorf("invalid range: %v", v[0])
	}

	if parts[0] != "" && parts[0] != "now" {
		d, err := parseNPT(parts[0])
		if err != nil {
			return err
		}
		h.Value.Start = &d
	}

	if len(parts) == 2 && parts[1] != "" {
		d, err := parseNPT(parts[1])
		if err != nil {
			return err
		}
		h.Value.End = &d
	}

	return nil
}

func parseNPT(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid npt time: %v", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// Write encodes a Range header.
func (h Range) Write() base.HeaderValue {
	start := "now"
	if h.Value.Start != nil {
		start = strconv.FormatFloat(h.Value.Start.Seconds(), 'f', -1, 64)
	}

	s := "npt=" + start + "-"
	if h.Value.End != nil {
		s += strconv.FormatFloat(h.Value.End.Seconds(), 'f', -1, 64)
	}

	return base.HeaderValue{s}
}

// IsLiveNow reports whether this range requests playback from "now", the
// only start position a live presentation can serve.
func (h Range) IsLiveNow() bool {
	return h.Value.Start == nil
}
