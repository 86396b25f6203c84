package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuLawRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		if b == 0x7F {
			// negative zero re-encodes as positive zero
			continue
		}
		assert.Equal(t, b, PCMToMuLaw(MuLawToPCM(b)), "byte %#x", b)
	}
}

func TestKnownValues(t *testing.T) {
	assert.Equal(t, int16(0), MuLawToPCM(Silence))
	assert.Equal(t, Silence, PCMToMuLaw(0))
	assert.Equal(t, int16(-32124), MuLawToPCM(0x00))
	assert.Equal(t, byte(0x00), PCMToMuLaw(-32768))
}

func TestMuLawToPCM16k(t *testing.T) {
	pcm := MuLawToPCM16k([]byte{0x00, Silence})
	require.Len(t, pcm, 8)

	first := int16(binary.LittleEndian.Uint16(pcm[0:2]))
	dup := int16(binary.LittleEndian.Uint16(pcm[2:4]))
	assert.Equal(t, int16(-32124), first)
	assert.Equal(t, first, dup)
	assert.Equal(t, []byte{0, 0, 0, 0}, pcm[4:8])
}

func TestPCM24kToMuLaw(t *testing.T) {
	// six samples at 24kHz become two at 8kHz
	pcm := make([]byte, 12)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(0))
	v := int16(-32768)
	binary.LittleEndian.PutUint16(pcm[6:], uint16(v))

	out := PCM24kToMuLaw(pcm)
	assert.Equal(t, []byte{Silence, 0x00}, out)
}

func TestSilenceFrame(t *testing.T) {
	frame := SilenceFrame()
	require.Len(t, frame, FrameBytes)
	for _, b := range frame {
		assert.Equal(t, Silence, b)
	}
}
