// Package pcm converts between normalized floating-point audio samples and the
// wire representation used by realtime voice agents: 16-bit little-endian
// signed integers, wrapped in base64 for text-safe transport.
//
// The conversion is bit-reproducible: encoding clamps each sample to [-1, 1],
// scales by 32767 and rounds; decoding divides by 32768. A round trip
// reproduces the input within one quantization step (1/32768).
package pcm

import (
	"encoding/base64"
	"fmt"
	"math"
)

// MIMEType returns the media-type tag for mono PCM16 at the given sample rate,
// e.g. "audio/pcm;rate=16000". This is the format tag attached to every
// outbound chunk.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Chunk is an encoded audio payload ready for transport: little-endian PCM16
// bytes wrapped in base64, plus the format tag of the source samples.
// A Chunk is immutable once created.
type Chunk struct {
	// Data is the base64-encoded PCM16LE payload.
	Data string

	// MIMEType tags the sample rate and encoding, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// DecodeError reports a malformed PCM payload. Callers should drop the
// offending chunk and continue; a decode failure never tears down a session.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "pcm: decode: " + e.Reason
}

// Encode converts normalized float32 samples to a transport [Chunk].
// Each sample is clamped to [-1, 1], scaled to int16 via round(s*32767), and
// serialized little-endian before base64 wrapping.
func Encode(samples []float32, sampleRate int) Chunk {
	return Chunk{
		Data:     base64.StdEncoding.EncodeToString(EncodeBytes(samples)),
		MIMEType: MIMEType(sampleRate),
	}
}

// EncodeBytes converts normalized float32 samples to raw little-endian PCM16.
func EncodeBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Decode reverses [Encode]: it base64-decodes data and converts the PCM16
// payload to normalized float32 samples for the given channel count.
// Multi-channel input is deinterleaved channel-major: the result holds
// channel 0's samples first, then channel 1's, and so on.
func Decode(data string, channels int) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64: " + err.Error()}
	}
	return DecodeBytes(raw, channels)
}

// DecodeBytes converts raw little-endian PCM16 to normalized float32 samples.
// An odd byte count is malformed and returns a *DecodeError. A sample count
// that is not a multiple of channels drops the incomplete trailing frame;
// whole samples are never silently discarded.
func DecodeBytes(raw []byte, channels int) ([]float32, error) {
	if channels < 1 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid channel count %d", channels)}
	}
	if len(raw)%2 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("odd byte count %d", len(raw))}
	}

	samples := len(raw) / 2
	frames := samples / channels

	out := make([]float32, frames*channels)
	for ch := 0; ch < channels; ch++ {
		for i := 0; i < frames; i++ {
			idx := i*channels + ch
			v := int16(raw[idx*2]) | int16(raw[idx*2+1])<<8
			out[ch*frames+i] = float32(v) / 32768.0
		}
	}
	return out, nil
}

// RMS computes the root-mean-square energy of normalized samples. An empty
// frame has zero energy.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
