package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository"
)

// ScanInput is one scan event from the UI. Mass and LogisticsBarcode are
// optional; when set they replace the session's sticky defaults.
type ScanInput struct {
	Code             string
	Mass             decimal.Decimal
	LogisticsBarcode string
}

// ScanResult is either a committed row or an override prompt.
type ScanResult struct {
	Row    *models.DispatchedBale `json:"row,omitempty"`
	Prompt *OverridePrompt        `json:"override_prompt,omitempty"`
}

// Engine drives a scan end to end: validate, negotiate an override when
// the mass quota fails softly, then commit. It also posts notes.
type Engine struct {
	Validator  *Validator
	Negotiator *Negotiator
	Committer  *Committer
	Posting    *StateMachine
	Bus        *Bus

	store  repository.Store
	logger *zap.Logger
}

// NewEngine assembles the dispatch engine over a replica.
func NewEngine(replica repository.Replica, ids IDSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := NewBus()
	validator := NewValidator(replica, replica, logger.Named("validator"))
	return &Engine{
		Validator:  validator,
		Negotiator: NewNegotiator(validator, logger.Named("override")),
		Committer:  NewCommitter(replica, ids, bus, logger.Named("committer")),
		Posting:    NewStateMachine(replica, bus, logger.Named("posting")),
		Bus:        bus,
		store:      replica,
		logger:     logger,
	}
}

// Scan processes one scan on sess. A soft quota failure returns a prompt
// and no error; every other failure ends the attempt. Validation errors
// clear the scanned code, persistence errors keep it.
func (e *Engine) Scan(ctx context.Context, sess *Session, in ScanInput) (*ScanResult, error) {
	if err := sess.begin(); err != nil {
		return nil, err
	}
	defer sess.end()

	if sess.prompt != nil {
		return nil, ErrOverridePending
	}
	if err := e.reloadDraftNote(ctx, sess); err != nil {
		return nil, err
	}

	code := strings.TrimSpace(in.Code)
	if code == "" {
		return nil, ErrEmptyCode
	}

	sess.ScannedCode = code
	if in.Mass.IsPositive() {
		sess.Mass = in.Mass
	}
	if lb := strings.TrimSpace(in.LogisticsBarcode); lb != "" {
		sess.LogisticsBarcode = lb
	}

	cand, err := e.Validator.Validate(ctx, code, sess)
	if err != nil {
		de, ok := AsError(err)
		if ok && de.Kind == KindMassQuotaExceeded && cand != nil {
			return &ScanResult{Prompt: e.Negotiator.Open(sess, cand, de)}, nil
		}
		if !ok || !de.Recoverable() {
			sess.ScannedCode = ""
		}
		e.logger.Info("scan rejected",
			zap.String("session_id", sess.ID),
			zap.String("note_id", sess.Note.ID),
			zap.String("code", code),
			zap.Error(err))
		return nil, err
	}

	row, err := e.Committer.Commit(ctx, cand, sess)
	if err != nil {
		return nil, err
	}
	return &ScanResult{Row: row}, nil
}

// ConfirmOverride accepts the pending over-quota bale and commits it.
func (e *Engine) ConfirmOverride(ctx context.Context, sess *Session) (*models.DispatchedBale, error) {
	if err := sess.begin(); err != nil {
		return nil, err
	}
	defer sess.end()

	prompt := sess.prompt
	if prompt == nil {
		return nil, ErrNoPendingOverride
	}
	if err := e.reloadDraftNote(ctx, sess); err != nil {
		if errors.Is(err, ErrNoteNotDraft) {
			_, _ = e.Negotiator.Cancel(sess)
		}
		return nil, err
	}

	cand, err := e.Negotiator.Confirm(ctx, sess)
	if err != nil {
		return nil, err
	}

	row, err := e.Committer.Commit(ctx, cand, sess)
	if err != nil {
		return nil, err
	}

	e.Bus.Publish(Event{Type: EventOverrideConfirmed, SessionID: sess.ID, Note: sess.Note, Row: row, Barcode: prompt.Barcode, Excess: prompt.Excess})
	return row, nil
}

// CancelOverride drops the pending over-quota bale and returns the quota
// error that triggered the prompt.
func (e *Engine) CancelOverride(sess *Session) error {
	if err := sess.begin(); err != nil {
		return err
	}
	defer sess.end()

	cause, err := e.Negotiator.Cancel(sess)
	if err != nil {
		return err
	}
	return cause
}

// Post posts the session's note.
func (e *Engine) Post(ctx context.Context, sess *Session) (*PostReport, error) {
	if err := sess.begin(); err != nil {
		return nil, err
	}
	defer sess.end()

	if sess.prompt != nil {
		return nil, ErrOverridePending
	}

	report, err := e.Posting.Post(ctx, sess.Note.ID, sess.NoteIDs)
	if err != nil {
		if !errors.Is(err, ErrEmptyDispatch) {
			e.logger.Error("posting failed", zap.String("note_id", sess.Note.ID), zap.Error(err))
		}
		return nil, err
	}
	sess.Note = report.Note
	return report, nil
}

// reloadDraftNote refreshes the session's copy of its note from the store.
// Another session may have posted it since this one was opened.
func (e *Engine) reloadDraftNote(ctx context.Context, sess *Session) error {
	note, err := e.store.GetNote(ctx, sess.Note.ID)
	if err != nil {
		return persistenceError("", sess.Note.DisplayName(), fmt.Errorf("reload dispatch note: %w", err))
	}
	sess.Note = *note
	sess.NoteIDs = NewIdentifierSet(*note, sess.ID)
	if note.State != models.NoteStateDraft {
		return fmt.Errorf("%s (state %q): %w", note.DisplayName(), note.State, ErrNoteNotDraft)
	}
	return nil
}

// CancelBale releases a committed bale from its draft note.
func (e *Engine) CancelBale(ctx context.Context, rowID string) (*models.DispatchedBale, error) {
	return e.Committer.Cancel(ctx, rowID)
}
