package reflector

// Quality levels for congestion-triggered thinning. Frame-type-aware
// dropping (B-frames first, then P-frames, then everything but key
// frames) requires codec knowledge this reflector deliberately lacks;
// every RTP payload is opaque bytes. shouldDrop approximates the same
// intent: each level throws away a fixed fraction of the stream, spread
// evenly rather than in bursts, so a receiver still gets a steady (if
// reduced) frame rate instead of stuttering.
const (
	QualityFull = 0 // no thinning
	QualityMax  = 6 // most aggressive thinning level
)

// thinningWindow is the period, in packets, over which a quality level's
// keep fraction is applied.
const thinningWindow = 8

// keepPerWindow maps a quality level to how many packets out of every
// thinningWindow survive. Level 0 keeps all of them.
var keepPerWindow = [QualityMax + 1]uint64{
	QualityFull: thinningWindow,
	1:           7,
	2:           6,
	3:           4,
	4:           3,
	5:           2,
	QualityMax:  1,
}

// shouldDrop reports whether the packet at the given per-output sequence
// position should be withheld from this output. RTCP is never thinned,
// only the RTP data channel is.
func shouldDrop(quality int, seq uint64, pkt Packet) bool {
	if pkt.Channel != ChannelRTP {
		return false
	}
	if quality <= QualityFull || quality > QualityMax {
		return false
	}

	keep := keepPerWindow[quality]
	// Keep the first `keep` packets of every window, drop the rest:
	// round-robin rather than codec-aware, but evenly spread.
	return seq%thinningWindow >= keep
}
