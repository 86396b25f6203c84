// Package audio converts between Twilio's 8kHz G.711 mu-law and the 16-bit
// little-endian PCM rates used by Gemini Live.
package audio

import "encoding/binary"

// Silence is the mu-law encoding of a zero sample.
const Silence byte = 0xFF

// FrameBytes is one 20ms Twilio frame at 8kHz mu-law.
const FrameBytes = 160

var muLawToPcmTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawToPcmTable[i] = decodeMuLawByte(byte(i))
	}
}

// MuLawToPCM16k decodes 8kHz mu-law and upsamples to 16kHz by sample duplication.
func MuLawToPCM16k(muLawData []byte) []byte {
	// 2 bytes per sample, 2 samples per input byte
	pcm := make([]byte, len(muLawData)*4)
	for i, b := range muLawData {
		v := uint16(muLawToPcmTable[b])
		binary.LittleEndian.PutUint16(pcm[i*4:], v)
		binary.LittleEndian.PutUint16(pcm[i*4+2:], v)
	}
	return pcm
}

// PCM24kToMuLaw downsamples 24kHz PCM to 8kHz (every third sample) and encodes mu-law.
func PCM24kToMuLaw(pcm []byte) []byte {
	sampleCount := len(pcm) / 2
	out := make([]byte, 0, sampleCount/3+1)
	for i := 0; i < sampleCount; i += 3 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out = append(out, PCMToMuLaw(sample))
	}
	return out
}

// SilenceFrame returns one 20ms frame of mu-law silence.
func SilenceFrame() []byte {
	frame := make([]byte, FrameBytes)
	for i := range frame {
		frame[i] = Silence
	}
	return frame
}

// MuLawToPCM decodes a single mu-law byte.
func MuLawToPCM(b byte) int16 {
	return muLawToPcmTable[b]
}

// Based on the Sun Microsystems G.711 reference implementation.
func decodeMuLawByte(uVal byte) int16 {
	uVal = ^uVal

	sign := uVal & 0x80
	exponent := (uVal >> 4) & 0x07
	mantissa := uVal & 0x0F

	// bias is 0x84 once the mantissa is aligned
	sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
	sample -= 0x84

	if sign != 0 {
		return -sample
	}
	return sample
}

// PCMToMuLaw encodes one 16-bit sample.
func PCMToMuLaw(pcm int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	sign := (pcm >> 8) & 0x80

	// widen before negating so -32768 does not overflow
	mag := int32(pcm)
	if mag < 0 {
		mag = -mag
	}
	if mag > clip {
		mag = clip
	}
	mag += bias

	exponent := int32(7)
	for mask := int32(0x4000); mag&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (mag >> (exponent + 3)) & 0x0F

	return ^byte(int32(sign) | exponent<<4 | mantissa)
}
