package description

import (
	"fmt"

	psdp "github.com/pion/sdp/v3"
)

// Session is the description of a presentation: the parsed SDP plus the
// per-track metadata the reflector needs.
type Session struct {
	// Title is the session name (optional).
	Title string

	// Medias are the tracks, in declaration order; Medias[i].TrackID == i+1.
	Medias []*Media
}

// Unmarshal decodes a Session from raw SDP bytes, as received on ANNOUNCE.
// SDP with no m= lines is rejected.
func Unmarshal(raw []byte) (*Session, error) {
	var ssd psdp.SessionDescription
	if err := ssd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("invalid SDP: %w", err)
	}

	if len(ssd.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("no media streams are present in SDP")
	}

	d := &Session{
		Title: string(ssd.SessionName),
	}
	if d.Title == " " {
		d.Title = ""
	}

	d.Medias = make([]*Media, len(ssd.MediaDescriptions))
	for i, md := range ssd.MediaDescriptions {
		m, err := unmarshalMedia(md)
		if err != nil {
			return nil, fmt.Errorf("media %d is invalid: %w", i+1, err)
		}
		m.TrackID = i + 1
		d.Medias[i] = m
	}

	return d, nil
}

// FindTrack returns the media with the given 1-based trackID, or nil.
func (d *Session) FindTrack(trackID int) *Media {
	for _, m := range d.Medias {
		if m.TrackID == trackID {
			return m
		}
	}
	return nil
}

// Marshal encodes the Session as SDP bytes for a DESCRIBE response.
// serverAddress is injected as the sole session-level c= line, replacing
// any broadcaster-supplied c= line. Canonical field ordering
// (v,o,s,i,u,e,p,c,b,t,r,z,k,a then, per media, m,i,c,b,k,a) falls out of
// pion/sdp/v3's fixed struct layout, which marshals fields in RFC 4566
// order, so normalization is simply "parse, then re-marshal", and is
// idempotent by construction.
func (d Session) Marshal(serverAddress string) ([]byte, error) {
	sessionName := psdp.SessionName(d.Title)
	if d.Title == "" {
		// RFC 4566: if a session has no meaningful name, "s= " (single
		// space) should be used.
		sessionName = psdp.SessionName(" ")
	}

	sout := &psdp.SessionDescription{
		SessionName: sessionName,
		Origin: psdp.Origin{
			Username:       "-",
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: serverAddress},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	sout.MediaDescriptions = make([]*psdp.MediaDescription, len(d.Medias))
	for i, m := range d.Medias {
		sout.MediaDescriptions[i] = m.marshal()
	}

	return sout.Marshal()
}
