// Package audio converts between the two fixed audio shapes the bridge
// speaks: 8-bit companded telephony audio at 8kHz (G.711 μ-law or A-law)
// and 16-bit signed little-endian linear PCM at the speech API's rates.
package audio

import (
	"errors"
	"fmt"
)

// ErrInvalidFrame reports a payload whose length does not match the
// sample width of its encoding. The offending frame should be dropped.
var ErrInvalidFrame = errors.New("invalid audio frame")

// Encoding identifies the byte layout of an audio payload.
type Encoding string

const (
	EncodingMuLaw    Encoding = "audio/x-mulaw"
	EncodingALaw     Encoding = "audio/x-alaw"
	EncodingPCM16    Encoding = "audio/L16"
	EncodingPCM16Raw Encoding = "audio/x-raw"
)

// IsCompanded reports whether the encoding is one byte per sample.
func (e Encoding) IsCompanded() bool {
	return e == EncodingMuLaw || e == EncodingALaw
}

var muLawDecodeTable [256]int16
var aLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
		aLawDecodeTable[i] = decodeALawSample(byte(i))
	}
}

func decodeMuLawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + 0x84
	value <<= uint(exp)
	value -= 0x84
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

func decodeALawSample(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exp := (a >> 4) & 0x07
	mant := a & 0x0F
	var value int
	if exp != 0 {
		value = (int(mant)<<4 + 0x100) << (exp - 1)
	} else {
		value = (int(mant) << 4) + 8
	}
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// EncodeMuLawSample compresses one linear sample to μ-law. The segment
// search and rounding are the exact inverse of the decode table.
func EncodeMuLawSample(s int16) byte {
	const bias = 0x84
	const clip = 32635

	v := int32(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > clip {
		v = clip
	}
	v += bias

	exp := byte(7)
	for mask := int32(0x4000); exp > 0 && v&mask == 0; exp-- {
		mask >>= 1
	}
	mant := byte((v >> (exp + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

// EncodeALawSample compresses one linear sample to A-law.
func EncodeALawSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > 32767 {
		v = 32767
	}

	var exp, mant byte
	if v < 0x100 {
		mant = byte(v >> 4)
	} else {
		exp = 1
		for exp < 7 && v >= 0x100<<exp {
			exp++
		}
		mant = byte((v >> (exp + 3)) & 0x0F)
	}
	return (sign | exp<<4 | mant) ^ 0x55
}

// DecodeMuLaw expands μ-law bytes to linear samples.
func DecodeMuLaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = muLawDecodeTable[b]
	}
	return out
}

// EncodeMuLaw compresses linear samples to μ-law bytes.
func EncodeMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeMuLawSample(s)
	}
	return out
}

// DecodeALaw expands A-law bytes to linear samples.
func DecodeALaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = aLawDecodeTable[b]
	}
	return out
}

// EncodeALaw compresses linear samples to A-law bytes.
func EncodeALaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeALawSample(s)
	}
	return out
}

// DecodeCompanded expands a companded payload according to encoding.
func DecodeCompanded(encoding Encoding, data []byte) ([]int16, error) {
	switch encoding {
	case EncodingMuLaw:
		return DecodeMuLaw(data), nil
	case EncodingALaw:
		return DecodeALaw(data), nil
	default:
		return nil, fmt.Errorf("%w: encoding %q is not companded", ErrInvalidFrame, encoding)
	}
}

// SamplesFromPCM16 converts little-endian PCM16 bytes to samples.
func SamplesFromPCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: pcm16 payload length %d is odd", ErrInvalidFrame, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return out, nil
}

// PCM16FromSamples converts samples to little-endian PCM16 bytes.
func PCM16FromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
