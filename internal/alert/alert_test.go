package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embertls/embertls/internal/packet"
)

func TestAlertRoundTrip(t *testing.T) {
	a := Alert{LevelFatal, IllegalParameter}

	var buf [2]byte
	w := packet.NewWriter(buf[:])
	require.NoError(t, a.EncodeTo(w))
	assert.Equal(t, []byte{2, 47}, w.Bytes())

	got, err := Parse(packet.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestParseRejectsBadLevel(t *testing.T) {
	_, err := Parse(packet.NewReader([]byte{3, 0}))
	assert.Equal(t, packet.ErrInvalidData, err)
}

func TestAbortError(t *testing.T) {
	err := Fatal(DecodeError)
	assert.EqualError(t, err, "tls: fatal alert: decode_error")
	assert.Equal(t, Alert{LevelFatal, DecodeError}, err.Alert())
}
