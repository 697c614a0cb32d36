package dispatch

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OverridePrompt is shown to the operator when a bale exceeds the remaining
// instruction mass. The scan stays suspended until it is confirmed or
// cancelled.
type OverridePrompt struct {
	Barcode   string          `json:"barcode"`
	Product   string          `json:"product"`
	Grade     string          `json:"grade"`
	Mass      decimal.Decimal `json:"mass"`
	Remaining decimal.Decimal `json:"remaining"`
	Excess    decimal.Decimal `json:"excess"`

	candidate *Candidate
	cause     *Error
}

// Negotiator runs the confirm/cancel exchange for a soft mass-quota failure.
type Negotiator struct {
	validator *Validator
	logger    *zap.Logger
}

// NewNegotiator wires a negotiator around the validator's quota check.
func NewNegotiator(v *Validator, logger *zap.Logger) *Negotiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Negotiator{validator: v, logger: logger}
}

// Open suspends the session on cause and returns the prompt to display.
func (n *Negotiator) Open(sess *Session, cand *Candidate, cause *Error) *OverridePrompt {
	prompt := &OverridePrompt{
		Barcode:   cause.Barcode,
		Product:   cause.Product,
		Grade:     cause.Grade,
		Mass:      cause.Mass,
		Remaining: cause.Remaining,
		Excess:    cause.Excess,
		candidate: cand,
		cause:     cause,
	}
	sess.prompt = prompt

	n.logger.Info("mass override requested",
		zap.String("session_id", sess.ID),
		zap.String("barcode", cause.Barcode),
		zap.String("excess_kg", cause.Excess.String()))
	return prompt
}

// Confirm sets the session's override token and re-runs only the mass
// check for the held candidate, which now passes.
func (n *Negotiator) Confirm(ctx context.Context, sess *Session) (*Candidate, error) {
	prompt := sess.prompt
	if prompt == nil {
		return nil, ErrNoPendingOverride
	}

	sess.massOverride = true
	if err := n.validator.CheckMassQuota(ctx, prompt.candidate, sess); err != nil {
		sess.massOverride = false
		// A read failure keeps the prompt for a retry. Anything else, such as
		// the instruction line vanishing, ends the suspended scan.
		if de, ok := AsError(err); !ok || !de.Recoverable() {
			sess.prompt = nil
			sess.ScannedCode = ""
		}
		n.logger.Info("mass override rejected",
			zap.String("session_id", sess.ID),
			zap.String("barcode", prompt.Barcode),
			zap.Error(err))
		return nil, err
	}
	sess.prompt = nil

	n.logger.Warn("mass override confirmed",
		zap.String("session_id", sess.ID),
		zap.String("note_id", sess.Note.ID),
		zap.String("barcode", prompt.Barcode),
		zap.String("excess_kg", prompt.Excess.String()))
	return prompt.candidate, nil
}

// Cancel abandons the suspended scan without writing anything and hands
// back the original quota error for display. The override token stays unset.
func (n *Negotiator) Cancel(sess *Session) (*Error, error) {
	prompt := sess.prompt
	if prompt == nil {
		return nil, ErrNoPendingOverride
	}

	sess.prompt = nil
	sess.ScannedCode = ""

	n.logger.Info("mass override cancelled",
		zap.String("session_id", sess.ID),
		zap.String("barcode", prompt.Barcode))
	return prompt.cause, nil
}
