package auth

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestParseBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if c.header != "" {
			r.Header.Set("Authorization", c.header)
		}
		token, ok := ParseBearer(r)
		if token != c.token || ok != c.ok {
			t.Errorf("ParseBearer(%q) = %q,%v want %q,%v", c.header, token, ok, c.token, c.ok)
		}
	}
}

func TestTwilioSignatureKnownVector(t *testing.T) {
	// Fixed vector computed with a reference HMAC-SHA1 over the
	// documented scheme: full URL, then each POST parameter name and
	// value concatenated in sorted-name order.
	authToken := "12345"
	fullURL := "https://mycompany.com/myapp.php?foo=1&bar=2"
	form := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	want := "0/KCTR6DLpKmkAf8muzZqo1nDgQ="
	if got := TwilioSignature(authToken, fullURL, form); got != want {
		t.Errorf("TwilioSignature = %q, want %q", got, want)
	}
}

func TestValidateTwilioRequest(t *testing.T) {
	authToken := "secret"
	publicURL := "https://bridge.example.com/twilio/voice"
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15551234567"}}

	r := httptest.NewRequest("POST", "/twilio/voice", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := r.ParseForm(); err != nil {
		t.Fatalf("ParseForm: %v", err)
	}

	r.Header.Set("X-Twilio-Signature", TwilioSignature(authToken, publicURL, r.PostForm))
	if !ValidateTwilioRequest(authToken, publicURL, r) {
		t.Error("valid signature rejected")
	}

	r.Header.Set("X-Twilio-Signature", "bogus")
	if ValidateTwilioRequest(authToken, publicURL, r) {
		t.Error("bogus signature accepted")
	}

	r.Header.Del("X-Twilio-Signature")
	if ValidateTwilioRequest(authToken, publicURL, r) {
		t.Error("missing signature accepted")
	}
}

func TestPrincipalContext(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := PrincipalFrom(r.Context()); ok {
		t.Error("empty context should have no principal")
	}
	ctx := WithPrincipal(r.Context(), &Principal{APIKey: "k"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.APIKey != "k" {
		t.Errorf("PrincipalFrom = %+v,%v", p, ok)
	}
}
