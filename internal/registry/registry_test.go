package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldcutmedia/rtspreflect/pkg/description"
)

func testDesc() *description.Session {
	return &description.Session{
		Medias: []*description.Media{
			{Type: description.MediaTypeVideo, TrackID: 1},
		},
	}
}

func TestAcquireUnknownKeyFails(t *testing.T) {
	r := New(1024, false)
	_, err := r.Acquire("nope")
	require.Error(t, err)
}

func TestGetOrCreateThenAcquireSharesSession(t *testing.T) {
	r := New(1024, false)
	s1 := r.GetOrCreate("cam1", testDesc())
	s2, err := r.Acquire("cam1")
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Equal(t, 1, r.Len())
}

func TestReleaseDownToZeroRemovesEntry(t *testing.T) {
	r := New(1024, false)
	r.GetOrCreate("cam1", testDesc())
	_, _ = r.Acquire("cam1")
	require.Equal(t, 1, r.Len())

	r.Release("cam1")
	require.Equal(t, 1, r.Len())

	r.Release("cam1")
	require.Equal(t, 0, r.Len())

	_, err := r.Acquire("cam1")
	require.Error(t, err)
}
