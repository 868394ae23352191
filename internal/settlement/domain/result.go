package domain

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallbiznis/gigpay/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
)

// Trigger names what asked for a settlement run.
type Trigger string

const (
	TriggerTransition Trigger = "transition"
	TriggerEvent      Trigger = "event"
	TriggerSweep      Trigger = "sweep"
	TriggerWebhook    Trigger = "webhook"
	TriggerOperator   Trigger = "operator"
	TriggerDispute    Trigger = "dispute"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerTransition, TriggerEvent, TriggerSweep, TriggerWebhook, TriggerOperator, TriggerDispute:
		return true
	default:
		return false
	}
}

type LegStatus string

const (
	LegStatusCompleted  LegStatus = "completed"
	LegStatusProcessing LegStatus = "processing"
	LegStatusFailed     LegStatus = "failed"
	LegStatusSkipped    LegStatus = "skipped"
)

type LegResult struct {
	Kind          ledgerdomain.TransactionKind `json:"kind"`
	Amount        int64                        `json:"amount"`
	Status        LegStatus                    `json:"status"`
	TransactionID snowflake.ID                 `json:"transaction_id,omitempty"`
	ExternalRef   string                       `json:"external_ref,omitempty"`
	Reason        string                       `json:"reason,omitempty"`
	Err           error                        `json:"-"`
}

type Result struct {
	BookingID snowflake.ID `json:"booking_id"`
	Trigger   Trigger      `json:"trigger"`
	Legs      []LegResult  `json:"legs"`
	Settled   bool         `json:"settled"`
}

// Processing reports whether any leg is still in flight at the gateway.
func (r *Result) Processing() bool {
	if r == nil {
		return false
	}
	for _, leg := range r.Legs {
		if leg.Status == LegStatusProcessing {
			return true
		}
	}
	return false
}

// Err joins the leg errors a caller must act on. Gateway unavailability is
// left out: those legs stay PENDING and are retried.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, leg := range r.Legs {
		if leg.Err == nil || errors.Is(leg.Err, gatewaydomain.ErrUnavailable) {
			continue
		}
		errs = append(errs, leg.Err)
	}
	return errors.Join(errs...)
}
