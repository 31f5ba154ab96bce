// Package usage reports bridged call minutes as Stripe billing meter
// events. Metering is optional; without an API key the process keeps a
// Nop meter.
package usage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/billing/meterevent"
)

// Meter records usage for one finished call.
type Meter interface {
	RecordCall(ctx context.Context, callSid string, duration time.Duration) error
}

// Nop discards usage.
type Nop struct{}

func (Nop) RecordCall(context.Context, string, time.Duration) error { return nil }

// StripeMeter sends one meter event per call, valued in whole minutes
// rounded up and attributed to the operator's Stripe customer. Events
// are keyed by call SID so retries stay idempotent.
type StripeMeter struct {
	eventName  string
	customerID string
	create     func(params *stripe.BillingMeterEventParams) (*stripe.BillingMeterEvent, error)
}

func NewStripeMeter(apiKey, eventName, customerID string) *StripeMeter {
	stripe.Key = apiKey
	return &StripeMeter{
		eventName:  eventName,
		customerID: customerID,
		create:     meterevent.New,
	}
}

func (m *StripeMeter) RecordCall(ctx context.Context, callSid string, duration time.Duration) error {
	if callSid == "" {
		return fmt.Errorf("record usage: missing call sid")
	}
	if m.customerID == "" {
		return fmt.Errorf("record usage for call %s: missing stripe customer id", callSid)
	}
	minutes := int64(math.Ceil(duration.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	params := &stripe.BillingMeterEventParams{
		EventName:  stripe.String(m.eventName),
		Identifier: stripe.String("call-" + callSid),
		Payload: map[string]string{
			"stripe_customer_id": m.customerID,
			"value":              strconv.FormatInt(minutes, 10),
		},
	}
	params.Context = ctx
	if _, err := m.create(params); err != nil {
		return fmt.Errorf("record usage for call %s: %w", callSid, err)
	}
	return nil
}
