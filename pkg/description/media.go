// Package description contains the stream description model used by
// ANNOUNCE (ingest) and DESCRIBE (egress): a thin, reflector-specific view
// over a pion/sdp/v3 session description. RTP payload formats are treated
// as opaque: their rtpmap/fmtp attributes are preserved verbatim rather
// than decoded into a per-codec catalog.
package description

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	psdp "github.com/pion/sdp/v3"
)

// MediaType is the type of a media stream.
type MediaType string

// Media types.
const (
	MediaTypeVideo       MediaType = "video"
	MediaTypeAudio       MediaType = "audio"
	MediaTypeApplication MediaType = "application"
)

// Media is a single m= block: one track.
type Media struct {
	// Type is the media type (video/audio/application).
	Type MediaType

	// ID is the optional "mid" attribute.
	ID string

	// TrackID is the 1-based index assigned in declaration order,
	// surfaced to clients as "a=control:trackID=<n>".
	TrackID int

	// Protos are the m= line protocol tokens (e.g. ["RTP", "AVP"]).
	Protos []string

	// PayloadTypes are the m= line format (payload type) numbers.
	PayloadTypes []int

	// IsBackChannel reports whether this media carries a=sendonly
	// (the broadcaster-receive direction is not used by this reflector,
	// but the attribute is preserved on round trip).
	IsBackChannel bool

	// Control is the a=control attribute (relative or absolute).
	Control string

	// Attributes holds every other media-level attribute verbatim,
	// including a=rtpmap and a=fmtp, so unknown-to-the-reflector
	// attributes survive a DESCRIBE round trip.
	Attributes []psdp.Attribute
}

// ClockRate returns the track's RTP clock rate, parsed from the first
// a=rtpmap attribute ("<pt> <name>/<rate>[/<channels>]"). Tracks without
// one fall back to the 90kHz video clock.
func (m Media) ClockRate() int {
	for _, a := range m.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		fields := strings.Fields(a.Value)
		if len(fields) < 2 {
			continue
		}
		parts := strings.Split(fields[1], "/")
		if len(parts) < 2 {
			continue
		}
		if rate, err := strconv.Atoi(parts[1]); err == nil && rate > 0 {
			return rate
		}
	}
	return 90000
}

func getAttribute(attrs []psdp.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func isAlphaNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// unmarshalMedia decodes a Media from a parsed SDP media description.
func unmarshalMedia(md *psdp.MediaDescription) (*Media, error) {
	m := &Media{
		Type:   MediaType(md.MediaName.Media),
		Protos: md.MediaName.Protos,
	}

	for _, f := range md.MediaName.Formats {
		pt, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid payload type: %v", f)
		}
		m.PayloadTypes = append(m.PayloadTypes, pt)
	}
	if len(m.PayloadTypes) == 0 {
		return nil, fmt.Errorf("no formats found")
	}

	if mid, ok := getAttribute(md.Attributes, "mid"); ok {
		if !isAlphaNumeric(mid) {
			return nil, fmt.Errorf("invalid mid: %v", mid)
		}
		m.ID = mid
	}

	if ctrl, ok := getAttribute(md.Attributes, "control"); ok {
		m.Control = ctrl
	}

	for _, a := range md.Attributes {
		switch a.Key {
		case "mid", "control":
			continue
		case "sendonly":
			m.IsBackChannel = true
			continue
		}
		m.Attributes = append(m.Attributes, a)
	}

	return m, nil
}

// marshal encodes a Media into a SDP media description. TrackID is
// injected as "a=control:trackID=<n>", overriding any control attribute
// carried from ingest.
func (m Media) marshal() *psdp.MediaDescription {
	formats := make([]string, len(m.PayloadTypes))
	for i, pt := range m.PayloadTypes {
		formats[i] = strconv.Itoa(pt)
	}

	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   string(m.Type),
			Protos:  m.Protos,
			Formats: formats,
		},
	}

	if m.ID != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "mid", Value: m.ID})
	}
	if m.IsBackChannel {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "sendonly"})
	}

	md.Attributes = append(md.Attributes, psdp.Attribute{
		Key:   "control",
		Value: fmt.Sprintf("trackID=%d", m.TrackID),
	})

	md.Attributes = append(md.Attributes, sortedAttributeKeys(m.Attributes)...)

	return md
}

func sortedAttributeKeys(attrs []psdp.Attribute) []psdp.Attribute {
	out := make([]psdp.Attribute, len(attrs))
	copy(out, attrs)
	sort.SliceStable(out, func(i, j int) bool {
		return attributeOrder(out[i].Key) < attributeOrder(out[j].Key)
	})
	return out
}

// attributeOrder ranks media attribute keys into a stable canonical
// sequence: control, then rtpmap, then fmtp, then everything else.
func attributeOrder(key string) int {
	switch key {
	case "control":
		return 0
	case "rtpmap":
		return 1
	case "fmtp":
		return 2
	default:
		return 3
	}
}
