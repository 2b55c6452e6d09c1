package admission

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldcutmedia/rtspreflect/internal/serverconfig"
	"github.com/coldcutmedia/rtspreflect/pkg/liberrors"
)

func TestUnlimitedByDefault(t *testing.T) {
	cfg := serverconfig.Defaults()
	c := New(cfg)

	for i := 0; i < 100; i++ {
		require.NoError(t, c.AcquireConnection())
	}
	require.Equal(t, 100, c.ConnectionCount())
	require.NoError(t, c.AdmitBandwidth(10_000_000))
}

func TestMaxConnectionsEnforced(t *testing.T) {
	cfg := serverconfig.Defaults()
	cfg.MaxConnections = 2
	c := New(cfg)

	require.NoError(t, c.AcquireConnection())
	require.NoError(t, c.AcquireConnection())

	err := c.AcquireConnection()
	require.Error(t, err)
	require.IsType(t, liberrors.ErrServerMaxConnectionsReached{}, err)

	c.ReleaseConnection()
	require.NoError(t, c.AcquireConnection())
}

func TestMaxBandwidthEnforced(t *testing.T) {
	cfg := serverconfig.Defaults()
	cfg.MaxBandwidthKbps = 8 // 1000 bytes/sec bucket

	c := New(cfg)

	require.NoError(t, c.AdmitBandwidth(500))

	err := c.AdmitBandwidth(10_000_000)
	require.Error(t, err)
	require.IsType(t, liberrors.ErrServerBandwidthExceeded{}, err)
}
