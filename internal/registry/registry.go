// Package registry implements the presentation-key lookup table: a single
// mutex-guarded map from key to reflector session, reference-counted so a
// session outlives any one client's RTSP connection but is torn down once
// nobody (broadcaster or pull client) still references it.
package registry

import (
	"sync"

	"github.com/coldcutmedia/rtspreflect/internal/reflector"
	"github.com/coldcutmedia/rtspreflect/pkg/description"
	"github.com/coldcutmedia/rtspreflect/pkg/liberrors"
)

type entry struct {
	session  *reflector.Session
	refCount int
}

// Registry maps presentation keys to reflector sessions. sdpCache holds the
// most recently ANNOUNCEd description for a key independent of any entry's
// lifecycle, so a DESCRIBE can still serve (and lazily stand up a session
// for) a presentation whose broadcaster has since disconnected ("pull-only
// mode").
type Registry struct {
	mutex    sync.Mutex
	entries  map[string]*entry
	sdpCache map[string]*description.Session

	bucketSize               int
	allowDuplicateBroadcasts bool
}

// New creates an empty Registry. bucketSize and allowDuplicateBroadcasts
// are forwarded to every reflector.Session created via GetOrCreate.
func New(bucketSize int, allowDuplicateBroadcasts bool) *Registry {
	return &Registry{
		entries:                  make(map[string]*entry),
		sdpCache:                 make(map[string]*description.Session),
		bucketSize:               bucketSize,
		allowDuplicateBroadcasts: allowDuplicateBroadcasts,
	}
}

// GetOrCreate returns the session for key, creating it from desc if this
// is the first reference (the ANNOUNCE/broadcaster path), and
// increments its reference count. It also refreshes the SDP cache entry for
// key, independent of the session's own lifecycle. Callers must pair every
// GetOrCreate or Acquire with a Release.
func (r *Registry) GetOrCreate(key string, desc *description.Session) *reflector.Session {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.sdpCache[key] = desc

	e, ok := r.entries[key]
	if !ok {
		e = &entry{session: reflector.NewSession(key, desc, r.bucketSize, r.allowDuplicateBroadcasts)}
		r.entries[key] = e
	}
	e.refCount++
	return e.session
}

// Acquire looks up an existing session by key and increments its reference
// count. It returns ErrServerPresentationNotFound if no session currently
// exists for this key. Use Describe for the DESCRIBE path, which also
// revives a session from a cached SDP.
func (r *Registry) Acquire(key string) (*reflector.Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, liberrors.ErrServerPresentationNotFound{Key: key}
	}
	e.refCount++
	return e.session, nil
}

// Describe resolves key for a DESCRIBE request: an existing
// session is returned as-is; otherwise, if an SDP was ever ANNOUNCEd under
// this key, a new broadcaster-less session is stood up from that cached
// description (pull-only mode) so pull clients can SETUP/PLAY a track list
// while waiting for (or after) a live broadcaster. Returns
// ErrServerPresentationNotFound if neither a session nor a cached SDP
// exists. Callers must pair a successful Describe with a Release.
func (r *Registry) Describe(key string) (*reflector.Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, ok := r.entries[key]
	if ok {
		e.refCount++
		return e.session, nil
	}

	desc, ok := r.sdpCache[key]
	if !ok {
		return nil, liberrors.ErrServerPresentationNotFound{Key: key}
	}

	e = &entry{session: reflector.NewSession(key, desc, r.bucketSize, r.allowDuplicateBroadcasts)}
	r.entries[key] = e
	e.refCount++
	return e.session, nil
}

// Release decrements key's reference count, removing the entry from the
// registry once it reaches zero: the teardown of the last reference,
// whether broadcaster or last pull client, frees the session.
func (r *Registry) Release(key string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(r.entries, key)
	}
}

// Len returns the number of distinct presentation keys currently
// registered, for diagnostics and tests.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}
