package audio

import (
	"errors"
	"testing"
)

// muLawHalfStep is the worst-case quantization error for a codeword:
// segment n steps by 1<<(n+3), so half a step is 1<<(n+2).
func muLawHalfStep(code byte) int {
	seg := (^code >> 4) & 0x07
	return 1 << (seg + 2)
}

func TestMuLawRoundTripWithinQuantizationBound(t *testing.T) {
	// Quantization error grows with the segment, up to 512 in the
	// widest one (step 1024).
	for v := -32635; v <= 32635; v += 7 {
		s := int16(v)
		code := EncodeMuLawSample(s)
		got := muLawDecodeTable[code]
		diff := int(got) - int(s)
		if diff < 0 {
			diff = -diff
		}
		if bound := muLawHalfStep(code); diff > bound {
			t.Fatalf("mu-law round trip of %d gave %d (diff %d, bound %d)", s, got, diff, bound)
		}
	}
}

func TestMuLawRoundTripEdgeValues(t *testing.T) {
	cases := []int16{0, 1, -1, 127, -128, 8191, -8192, 32635, -32635, 32767, -32768}
	for _, s := range cases {
		code := EncodeMuLawSample(s)
		got := muLawDecodeTable[code]
		want := int(s)
		if want > 32635 {
			want = 32635
		}
		if want < -32635 {
			want = -32635
		}
		diff := int(got) - want
		if diff < 0 {
			diff = -diff
		}
		if bound := muLawHalfStep(code); diff > bound {
			t.Fatalf("mu-law round trip of %d gave %d (diff %d, bound %d)", s, got, diff, bound)
		}
	}
}

func TestMuLawZeroIsExact(t *testing.T) {
	if got := muLawDecodeTable[EncodeMuLawSample(0)]; got != 0 {
		t.Fatalf("encode(0) decoded to %d, want 0", got)
	}
}

func TestMuLawEncodeIsStableOverDecode(t *testing.T) {
	// Decoded values are segment midpoints; re-encoding must return
	// the original byte for every representable codeword.
	for i := 0; i < 256; i++ {
		b := byte(i)
		if got := EncodeMuLawSample(muLawDecodeTable[b]); got != b {
			// 0xFF and 0x7F both decode to 0; accept the canonical 0.
			if muLawDecodeTable[b] == 0 && muLawDecodeTable[got] == 0 {
				continue
			}
			t.Fatalf("encode(decode(%#02x)) = %#02x", b, got)
		}
	}
}

func TestALawRoundTripWithinQuantizationBound(t *testing.T) {
	for v := -32256; v <= 32256; v += 7 {
		s := int16(v)
		got := aLawDecodeTable[EncodeALawSample(s)]
		diff := int(got) - int(s)
		if diff < 0 {
			diff = -diff
		}
		// The widest A-law segment quantizes in steps of 1024 and the
		// decoder returns the truncated segment value.
		if diff > 1024 {
			t.Fatalf("a-law round trip of %d gave %d (diff %d)", s, got, diff)
		}
	}
}

func TestALawEncodeIsStableOverDecode(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		got := EncodeALawSample(aLawDecodeTable[b])
		if aLawDecodeTable[got] != aLawDecodeTable[b] {
			t.Fatalf("encode(decode(%#02x)) = %#02x, decodes to %d not %d",
				b, got, aLawDecodeTable[got], aLawDecodeTable[b])
		}
	}
}

func TestDecodeCompandedRejectsLinearEncoding(t *testing.T) {
	if _, err := DecodeCompanded(EncodingPCM16, []byte{0, 0}); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestSamplesFromPCM16RejectsOddLength(t *testing.T) {
	if _, err := SamplesFromPCM16([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestPCM16SampleRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	got, err := SamplesFromPCM16(PCM16FromSamples(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("sample %d: got %d want %d", i, got[i], in[i])
		}
	}
}
