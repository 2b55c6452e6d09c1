package ntp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	out := Decode(Encode(in))
	require.WithinDuration(t, in, out, time.Millisecond)
}
