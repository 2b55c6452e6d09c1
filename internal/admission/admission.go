// Package admission enforces the server's two capacity thresholds:
// max_connections (checked on TCP accept) and max_bandwidth_kbps (checked
// on SETUP, before a track is admitted to the reflector). Both apply only
// when their threshold is >= 0; -1 means unlimited.
package admission

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/coldcutmedia/rtspreflect/internal/serverconfig"
	"github.com/coldcutmedia/rtspreflect/pkg/liberrors"
)

// Controller tracks live connection count and aggregate admitted
// bandwidth against the server's configured thresholds.
type Controller struct {
	maxConnections int
	connCount      atomic.Int64

	maxBandwidthKbps int
	bandwidth        *rate.Limiter
}

// New builds a Controller from cfg. The bandwidth limiter's token bucket
// is sized in bytes/sec (max_bandwidth_kbps * 1000 / 8), with a burst of
// one second's worth.
func New(cfg serverconfig.Config) *Controller {
	c := &Controller{
		maxConnections:   cfg.MaxConnections,
		maxBandwidthKbps: cfg.MaxBandwidthKbps,
	}
	if cfg.MaxBandwidthKbps >= 0 {
		bytesPerSec := float64(cfg.MaxBandwidthKbps) * 1000 / 8
		c.bandwidth = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec)+1)
	}
	return c
}

// AcquireConnection admits one more RTSP connection, or returns
// ErrServerMaxConnectionsReached if the server is already at capacity.
func (c *Controller) AcquireConnection() error {
	if c.maxConnections < 0 {
		c.connCount.Add(1)
		return nil
	}
	for {
		cur := c.connCount.Load()
		if cur >= int64(c.maxConnections) {
			return liberrors.ErrServerMaxConnectionsReached{Max: c.maxConnections}
		}
		if c.connCount.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// ReleaseConnection returns one connection slot to the pool.
func (c *Controller) ReleaseConnection() {
	c.connCount.Add(-1)
}

// AdmitBandwidth reserves estimatedBytesPerSec of outbound capacity for a
// newly SETUP track, returning ErrServerBandwidthExceeded if the
// configured max_bandwidth_kbps has no headroom left.
func (c *Controller) AdmitBandwidth(estimatedBytesPerSec int) error {
	if c.bandwidth == nil {
		return nil
	}
	if !c.bandwidth.AllowN(time.Now(), estimatedBytesPerSec) {
		return liberrors.ErrServerBandwidthExceeded{MaxKbps: c.maxBandwidthKbps}
	}
	return nil
}

// ConnectionCount reports the number of connections currently admitted.
func (c *Controller) ConnectionCount() int {
	return int(c.connCount.Load())
}
