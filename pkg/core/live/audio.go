package live

import (
	"math"
)

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		// Little-endian 16-bit signed integer
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// MulawRMSEnergy computes the RMS energy of G.711 mu-law audio, the
// encoding phone media streams carry. Returns a value between 0.0 and 1.0.
func MulawRMSEnergy(ulaw []byte) float64 {
	if len(ulaw) == 0 {
		return 0
	}
	var sum float64
	for _, b := range ulaw {
		normalized := float64(MulawToLinear(b)) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(len(ulaw)))
}

// MulawToLinear expands one mu-law byte to a 16-bit linear sample.
func MulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int(mantissa) << 3) + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// AudioEnergy returns the RMS energy of payload for the given encoding.
// Unknown encodings are treated as mu-law.
func AudioEnergy(encoding string, payload []byte) float64 {
	switch encoding {
	case "pcm_s16le", "linear16":
		return CalculateRMSEnergy(payload)
	default:
		return MulawRMSEnergy(payload)
	}
}
