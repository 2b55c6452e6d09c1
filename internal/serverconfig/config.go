// Package serverconfig holds the server's tunables, exposed as exported
// struct fields with a Defaults constructor rather than a config-file
// parsing layer.
package serverconfig

import "time"

// Config holds the server's tunables.
type Config struct {
	// RTSPPortList are the TCP ports the server listens on.
	RTSPPortList []int

	// RTSPTimeout is the idle session timeout.
	RTSPTimeout time.Duration

	// MaxBandwidthKbps is the admission threshold; -1 means unlimited.
	MaxBandwidthKbps int

	// MaxConnections is the admission threshold; -1 means unlimited.
	MaxConnections int

	// ReflectorBucketSizePackets is the ring buffer depth per stream.
	ReflectorBucketSizePackets int

	// OverbufferRate is the pacing multiplier applied on top of real time.
	OverbufferRate float64

	// UDPPortMin and UDPPortMax bound the UDP pool's port range.
	UDPPortMin int
	UDPPortMax int

	// AllowDuplicateBroadcasts permits more than one RECORD per
	// presentation key.
	AllowDuplicateBroadcasts bool

	// BroadcasterGroup names the access group permitted to RECORD. Empty
	// disables group-based authorization (pkg/auth.VerifyFunc still
	// applies).
	BroadcasterGroup string

	// DefaultStreamQuality is the initial thinning level for new outputs.
	DefaultStreamQuality int

	// ServerAddress is the interface address advertised in DESCRIBE's
	// session-level c= line.
	ServerAddress string

	// EmitRTPInfo enables the PLAY response's bounded wait for each
	// track's first buffered packet and the resulting RTP-Info header
	// on PLAY. Disabling it skips the wait and omits the header.
	EmitRTPInfo bool
}

// Defaults returns a Config populated with the stock defaults.
func Defaults() Config {
	return Config{
		RTSPPortList:               []int{554},
		RTSPTimeout:                180 * time.Second,
		MaxBandwidthKbps:           -1,
		MaxConnections:             -1,
		ReflectorBucketSizePackets: 1024,
		OverbufferRate:             2.0,
		UDPPortMin:                 6970,
		UDPPortMax:                 65534,
		AllowDuplicateBroadcasts:   false,
		DefaultStreamQuality:       0,
		ServerAddress:              "0.0.0.0",
		EmitRTPInfo:                true,
	}
}
