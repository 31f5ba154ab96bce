// Package auth covers the two ways a request proves itself to the
// bridge: bearer API keys on operator endpoints and Twilio's HMAC
// signature on telephony webhooks.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

type Principal struct {
	APIKey string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// TwilioSignature computes the expected X-Twilio-Signature for a
// webhook: HMAC-SHA1 over the full URL followed by the POST parameters
// sorted by name, each appended as name then value.
func TwilioSignature(authToken, fullURL string, form url.Values) string {
	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, name := range names {
		for _, value := range form[name] {
			b.WriteString(name)
			b.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateTwilioRequest checks a webhook's X-Twilio-Signature header.
// The request form must already be parsed.
func ValidateTwilioRequest(authToken, publicURL string, r *http.Request) bool {
	got := strings.TrimSpace(r.Header.Get("X-Twilio-Signature"))
	if got == "" {
		return false
	}
	want := TwilioSignature(authToken, publicURL, r.PostForm)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
