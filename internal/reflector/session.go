package reflector

import (
	"sync"

	"github.com/coldcutmedia/rtspreflect/pkg/description"
)

// Session is the reflector-side state for one presentation: the parsed
// description plus one Stream per track. Reference counting and registry
// lookup are owned by internal/registry, not duplicated here; a Session
// only knows about its own tracks and broadcaster state.
type Session struct {
	Key         string
	Description *description.Session

	mutex           sync.Mutex
	streams         []*Stream // indexed by trackID-1
	hasBroadcaster  bool
	allowDuplicates bool
}

// NewSession creates a Session for key with one Stream per media in desc.
func NewSession(key string, desc *description.Session, bucketSize int, allowDuplicateBroadcasts bool) *Session {
	s := &Session{
		Key:             key,
		Description:     desc,
		streams:         make([]*Stream, len(desc.Medias)),
		allowDuplicates: allowDuplicateBroadcasts,
	}
	for i, m := range desc.Medias {
		s.streams[i] = NewStream(bucketSize, m.ClockRate())
	}
	return s
}

// Stream returns the Stream for the given 1-based track ID, or nil if out
// of range.
func (s *Session) Stream(trackID int) *Stream {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if trackID < 1 || trackID > len(s.streams) {
		return nil
	}
	return s.streams[trackID-1]
}

// Streams returns all streams in track order.
func (s *Session) Streams() []*Stream {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*Stream, len(s.streams))
	copy(out, s.streams)
	return out
}

// AcquireBroadcaster registers this session as having an active RECORD
// session, returning false if one already exists and duplicates are not
// allowed.
func (s *Session) AcquireBroadcaster() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.hasBroadcaster && !s.allowDuplicates {
		return false
	}
	s.hasBroadcaster = true
	return true
}

// ReleaseBroadcaster clears the broadcaster flag.
func (s *Session) ReleaseBroadcaster() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hasBroadcaster = false
}

// HasBroadcaster reports whether a RECORD session is currently attached.
func (s *Session) HasBroadcaster() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hasBroadcaster
}
