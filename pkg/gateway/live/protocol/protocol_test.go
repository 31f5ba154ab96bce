package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeInboundStart(t *testing.T) {
	raw := `{"event":"start","sequenceNumber":"1","streamSid":"MZ123",
		"start":{"accountSid":"AC1","streamSid":"MZ123","callSid":"CA1",
		"tracks":["inbound"],
		"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},
		"customParameters":{"lang":"ko"}}}`
	decoded, err := DecodeInbound([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	start, ok := decoded.(Start)
	if !ok {
		t.Fatalf("decoded type = %T", decoded)
	}
	if start.Start.StreamSid != "MZ123" || start.Start.CallSid != "CA1" {
		t.Fatalf("identifiers = %+v", start.Start)
	}
	if start.Start.MediaFormat.Encoding != "audio/x-mulaw" || start.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("media format = %+v", start.Start.MediaFormat)
	}
	if start.Start.CustomParameters["lang"] != "ko" {
		t.Fatalf("custom parameters = %v", start.Start.CustomParameters)
	}
}

func TestDecodeInboundStartFallsBackToEnvelopeStreamSid(t *testing.T) {
	raw := `{"event":"start","streamSid":"MZ9","start":{"callSid":"CA9","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`
	decoded, err := DecodeInbound([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if decoded.(Start).Start.StreamSid != "MZ9" {
		t.Fatalf("streamSid fallback failed: %+v", decoded)
	}
}

func TestDecodeInboundMedia(t *testing.T) {
	raw := `{"event":"media","streamSid":"MZ123","media":{"track":"inbound","chunk":"2","timestamp":"40","payload":"AAAA"}}`
	decoded, err := DecodeInbound([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	media, ok := decoded.(Media)
	if !ok {
		t.Fatalf("decoded type = %T", decoded)
	}
	if media.Media.Payload != "AAAA" || media.Media.Track != "inbound" {
		t.Fatalf("media = %+v", media.Media)
	}
}

func TestDecodeInboundRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{`},
		{"missing event", `{"media":{}}`},
		{"unknown event", `{"event":"dtmf"}`},
		{"media without payload", `{"event":"media","media":{}}`},
		{"start without streamSid", `{"event":"start","start":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeInbound([]byte(tc.raw)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestDecodeInboundStopAndConnected(t *testing.T) {
	decoded, err := DecodeInbound([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stop := decoded.(Stop); stop.Stop.CallSid != "CA1" {
		t.Fatalf("stop = %+v", stop)
	}

	decoded, err = DecodeInbound([]byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`))
	if err != nil {
		t.Fatalf("connected: %v", err)
	}
	if conn := decoded.(Connected); conn.Protocol != "Call" {
		t.Fatalf("connected = %+v", conn)
	}
}

func TestEncodeOutboundMedia(t *testing.T) {
	data, err := EncodeOutboundMedia("MZ123", "c29tZQ==", 7)
	if err != nil {
		t.Fatalf("EncodeOutboundMedia: %v", err)
	}
	var frame Media
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if frame.Event != "media" || frame.StreamSid != "MZ123" || frame.Media.Payload != "c29tZQ==" || frame.SequenceNumber != "7" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestEncodeClearAndMark(t *testing.T) {
	data, err := EncodeClear("MZ123")
	if err != nil {
		t.Fatalf("EncodeClear: %v", err)
	}
	var clear map[string]any
	if err := json.Unmarshal(data, &clear); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if clear["event"] != "clear" || clear["streamSid"] != "MZ123" {
		t.Fatalf("clear = %v", clear)
	}

	data, err = EncodeMark("MZ123", "end_of_response")
	if err != nil {
		t.Fatalf("EncodeMark: %v", err)
	}
	var mark Mark
	if err := json.Unmarshal(data, &mark); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if mark.Mark.Name != "end_of_response" {
		t.Fatalf("mark = %+v", mark)
	}
}
