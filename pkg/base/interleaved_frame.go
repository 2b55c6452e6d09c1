package base

import (
	"bufio"
	"fmt"
	"io"
)

const (
	// InterleavedFrameMagicByte is the first byte of an interleaved frame.
	InterleavedFrameMagicByte = 0x24

	// InterleavedFrameMaxPayloadSize is the maximum payload size of an
	// interleaved frame (len is a u16).
	InterleavedFrameMaxPayloadSize = 65535

	// InterleavedFrameCoalesceThreshold is the largest frame size that is
	// appended to the write coalescing buffer instead of being flushed
	// directly (see pkg/conn).
	InterleavedFrameCoalesceThreshold = 1450
)

// InterleavedFrame carries RTP or RTCP data multiplexed onto a RTSP/TCP
// connection: "$" <chan:u8> <len:u16 big-endian> <payload:len>.
type InterleavedFrame struct {
	// Channel ID.
	Channel int

	// Payload.
	Payload []byte
}

// Unmarshal decodes an InterleavedFrame.
func (f *InterleavedFrame) Unmarshal(br *bufio.Reader) error {
	var header [4]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return err
	}

	if header[0] != InterleavedFrameMagicByte {
		return fmt.Errorf("invalid magic byte (0x%.2x)", header[0])
	}

	payloadLen := int(uint16(header[2])<<8 | uint16(header[3]))

	f.Channel = int(header[1])
	f.Payload = make([]byte, payloadLen)

	_, err := io.ReadFull(br, f.Payload)
	return err
}

// MarshalSize returns the size of an InterleavedFrame.
func (f InterleavedFrame) MarshalSize() int {
	return 4 + len(f.Payload)
}

// MarshalTo writes an InterleavedFrame into buf.
func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	if len(f.Payload) > InterleavedFrameMaxPayloadSize {
		return 0, fmt.Errorf("payload size (%d) greater than maximum allowed (%d)",
			len(f.Payload), InterleavedFrameMaxPayloadSize)
	}

	pos := 0
	pos += copy(buf[pos:], []byte{InterleavedFrameMagicByte, byte(f.Channel)})

	payloadLen := len(f.Payload)
	buf[pos] = byte(payloadLen >> 8)
	buf[pos+1] = byte(payloadLen)
	pos += 2

	pos += copy(buf[pos:], f.Payload)

	return pos, nil
}

// Marshal encodes an InterleavedFrame.
func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	return buf, err
}
