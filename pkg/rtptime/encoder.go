package rtptime

// Encoder generates an outbound RTP timestamp sequence starting from a
// random initial offset, one per outbound track.
type Encoder struct {
	clockRate int
	offset    uint32
}

// NewEncoder allocates an Encoder with the given initial offset.
func NewEncoder(clockRate int, initialOffset uint32) *Encoder {
	return &Encoder{clockRate: clockRate, offset: initialOffset}
}

// Encode rewrites an input timestamp relative to inputBase into this
// output's timestamp space: output = (input - inputBase) + offset.
func (e *Encoder) Encode(input, inputBase uint32) uint32 {
	return (input - inputBase) + e.offset
}
