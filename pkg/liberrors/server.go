// Package liberrors contains server-side errors, typed so that callers can
// recover structured fields with errors.As instead of matching strings.
package liberrors

import "fmt"

// ErrServerTerminated is returned when the server is shutting down.
type ErrServerTerminated struct{}

func (e ErrServerTerminated) Error() string {
	return "server is terminated"
}

// ErrServerInvalidState is returned when a request is not valid in the
// session's current state (e.g. PLAY without SETUP).
type ErrServerInvalidState struct {
	AllowedList []fmt.Stringer
	State       fmt.Stringer
}

func (e ErrServerInvalidState) Error() string {
	return fmt.Sprintf("client state (%v) not allowed, allowed list: %v", e.State, e.AllowedList)
}

// ErrServerPresentationNotFound is returned when a request targets an
// unknown presentation key.
type ErrServerPresentationNotFound struct {
	Key string
}

func (e ErrServerPresentationNotFound) Error() string {
	return fmt.Sprintf("presentation not found: %v", e.Key)
}

// ErrServerTrackNotFound is returned when a SETUP targets an unknown
// trackID.
type ErrServerTrackNotFound struct {
	TrackID int
}

func (e ErrServerTrackNotFound) Error() string {
	return fmt.Sprintf("track not found: %v", e.TrackID)
}

// ErrServerDuplicateBroadcast is returned when a second broadcaster
// ANNOUNCEs a presentation that already has one, and duplicate broadcasts
// are not explicitly permitted, or when a push session SETUPs the same
// track twice.
type ErrServerDuplicateBroadcast struct {
	Key string
}

func (e ErrServerDuplicateBroadcast) Error() string {
	return fmt.Sprintf("a broadcaster is already pushing to %v", e.Key)
}

// ErrServerTrackAlreadySetup is returned on a duplicate SETUP for a track
// already bound on this session.
type ErrServerTrackAlreadySetup struct {
	TrackID int
}

func (e ErrServerTrackAlreadySetup) Error() string {
	return fmt.Sprintf("track %v has already been set up", e.TrackID)
}

// ErrServerTransportHeaderInvalid is returned when the Transport header
// cannot be parsed or names an unsupported transport spec.
type ErrServerTransportHeaderInvalid struct {
	Err error
}

func (e ErrServerTransportHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid Transport header: %v", e.Err)
}

func (e ErrServerTransportHeaderInvalid) Unwrap() error {
	return e.Err
}

// ErrServerSDPInvalid is returned when an ANNOUNCE body fails to parse as
// SDP, or contains no media lines.
type ErrServerSDPInvalid struct {
	Err error
}

func (e ErrServerSDPInvalid) Error() string {
	return fmt.Sprintf("invalid SDP: %v", e.Err)
}

func (e ErrServerSDPInvalid) Unwrap() error {
	return e.Err
}

// ErrServerNoTracksSetup is returned on PLAY when no tracks were set up.
type ErrServerNoTracksSetup struct{}

func (e ErrServerNoTracksSetup) Error() string {
	return "no tracks have been set up"
}

// ErrServerInvalidRangeForLive is returned when a PLAY requests a non-"now"
// start time against a live presentation.
type ErrServerInvalidRangeForLive struct{}

func (e ErrServerInvalidRangeForLive) Error() string {
	return "a Range start time other than \"now\" is invalid for a live presentation"
}

// ErrServerPortsExhausted is returned when the UDP port pool has no ports
// left to allocate.
type ErrServerPortsExhausted struct{}

func (e ErrServerPortsExhausted) Error() string {
	return "no UDP ports available"
}

// ErrServerMaxConnectionsReached is returned when max_connections is
// exceeded.
type ErrServerMaxConnectionsReached struct {
	Max int
}

func (e ErrServerMaxConnectionsReached) Error() string {
	return fmt.Sprintf("maximum connection count (%v) reached", e.Max)
}

// ErrServerBandwidthExceeded is returned when max_bandwidth_kbps admission
// fails.
type ErrServerBandwidthExceeded struct {
	MaxKbps int
}

func (e ErrServerBandwidthExceeded) Error() string {
	return fmt.Sprintf("maximum bandwidth (%v kbps) exceeded", e.MaxKbps)
}

// ErrServerAuth is returned on authentication/authorization failure.
type ErrServerAuth struct {
	WWWAuthenticate []string
}

func (e ErrServerAuth) Error() string {
	return "authentication failed"
}

// ErrServerSessionNotFound is returned when a request's Session header
// doesn't match any known RTSPSession/RTPSession.
type ErrServerSessionNotFound struct{}

func (e ErrServerSessionNotFound) Error() string {
	return "session not found"
}

// ErrServerCSeqMissing is returned when a request has no CSeq header.
type ErrServerCSeqMissing struct{}

func (e ErrServerCSeqMissing) Error() string {
	return "CSeq header is missing"
}
