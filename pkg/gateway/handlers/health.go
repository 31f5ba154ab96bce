package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/callbridge/pkg/gateway/config"
	"github.com/vango-go/callbridge/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
	Calls  *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		AuthMode       string   `json:"auth_mode"`
		ActiveCalls    int      `json:"active_calls"`
		SignatureCheck bool     `json:"twilio_signature_check"`
		CallLogEnabled bool     `json:"call_log_enabled"`
		UsageEnabled   bool     `json:"usage_enabled"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.RealtimeAPIKey == "" {
		issues = append(issues, "speech api key missing")
	}
	if h.Config.ValidateTwilioSig && h.Config.TwilioAuthToken == "" {
		issues = append(issues, "signature validation enabled but no auth token configured")
	}
	if h.Config.PublicBaseURL == "" {
		issues = append(issues, "public base url not configured; call-control documents will lack a stream url")
	}
	if h.Config.MaxCallDuration <= 0 || h.Config.WSPingInterval <= 0 || h.Config.WSWriteTimeout <= 0 {
		issues = append(issues, "stream timeouts must be > 0")
	}
	if h.Config.OutboundQueueSize <= 0 || h.Config.CoalesceDuration <= 0 {
		issues = append(issues, "audio queue settings must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		AuthMode:       string(h.Config.AuthMode),
		ActiveCalls:    h.Calls.Count(),
		SignatureCheck: h.Config.ValidateTwilioSig,
		CallLogEnabled: h.Config.DatabaseURL != "",
		UsageEnabled:   h.Config.StripeAPIKey != "",
		Issues:         issues,
	})
}
