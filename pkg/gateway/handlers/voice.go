package handlers

import (
	"encoding/xml"
	"log/slog"
	"net/http"

	"github.com/vango-go/callbridge/pkg/gateway/auth"
	"github.com/vango-go/callbridge/pkg/gateway/config"
)

// TwiML is the call-control document returned to the telephony
// provider's webhook.
type TwiML struct {
	XMLName xml.Name     `xml:"Response"`
	Say     *twimlSay    `xml:"Say,omitempty"`
	Connect *twimlStream `xml:"Connect>Stream,omitempty"`
	Hangup  *struct{}    `xml:"Hangup,omitempty"`
}

type twimlSay struct {
	Voice    string `xml:"voice,attr,omitempty"`
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// VoiceHandler answers the incoming-call webhook with a greeting and a
// media stream pointed back at this process.
type VoiceHandler struct {
	Config config.Config
	Logger *slog.Logger
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authenticated(r, "/twilio/voice") {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	callSid := r.PostFormValue("CallSid")
	if h.Logger != nil {
		h.Logger.Info("incoming call", "call_sid", callSid, "from", r.PostFormValue("From"))
	}

	doc := TwiML{
		Say: &twimlSay{
			Voice:    h.Config.GreetingVoice,
			Language: h.Config.GreetingLanguage,
			Text:     h.Config.GreetingText,
		},
		Connect: &twimlStream{URL: h.Config.StreamURL()},
	}
	writeTwiML(w, doc)
}

func (h VoiceHandler) authenticated(r *http.Request, path string) bool {
	if err := r.ParseForm(); err != nil {
		return false
	}
	if !h.Config.ValidateTwilioSig {
		return true
	}
	return auth.ValidateTwilioRequest(h.Config.TwilioAuthToken, h.Config.PublicBaseURL+path, r)
}

// FallbackHandler is what the provider calls when the primary webhook
// fails: apologize and hang up rather than leave dead air.
type FallbackHandler struct {
	Config config.Config
	Logger *slog.Logger
}

func (h FallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Logger != nil {
		h.Logger.Warn("fallback webhook invoked",
			"call_sid", r.PostFormValue("CallSid"), "error_code", r.PostFormValue("ErrorCode"))
	}
	writeTwiML(w, TwiML{
		Say: &twimlSay{
			Voice:    h.Config.GreetingVoice,
			Language: h.Config.GreetingLanguage,
			Text:     "We are sorry, the service is temporarily unavailable. Please try again later.",
		},
		Hangup: &struct{}{},
	})
}

func writeTwiML(w http.ResponseWriter, doc TwiML) {
	body, err := xml.Marshal(doc)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}
