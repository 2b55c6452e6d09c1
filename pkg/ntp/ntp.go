// Package ntp converts between NTP 64-bit timestamps (as carried in RTCP
// Sender Reports) and time.Time.
package ntp

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// Decode converts a NTP 64-bit timestamp (32-bit seconds, 32-bit fraction)
// into a time.Time.
func Decode(v uint64) time.Time {
	seconds := int64(v>>32) - ntpEpochOffset
	fraction := v & 0xFFFFFFFF
	nanos := (fraction * 1e9) >> 32
	return time.Unix(seconds, int64(nanos)).UTC()
}

// Encode converts a time.Time into a NTP 64-bit timestamp.
func Encode(t time.Time) uint64 {
	secs := uint64(t.Unix() + ntpEpochOffset)
	frac := (uint64(t.Nanosecond()) << 32) / 1e9
	return secs<<32 | frac
}
