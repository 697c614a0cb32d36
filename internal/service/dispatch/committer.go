package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository"
)

// IDSource issues client-generated record ids.
type IDSource interface {
	RecordID() string
}

// Committer writes validated bales onto the dispatch note.
type Committer struct {
	store  repository.Store
	ids    IDSource
	bus    *Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewCommitter wires a committer.
func NewCommitter(store repository.Store, ids IDSource, bus *Bus, logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{
		store:  store,
		ids:    ids,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Commit inserts a draft dispatched bale row for cand. On a write failure
// the scanned code is put back on the session so the operator can retry;
// mass and logistics barcode are never touched.
func (c *Committer) Commit(ctx context.Context, cand *Candidate, sess *Session) (*models.DispatchedBale, error) {
	now := c.now().UTC()
	row := models.DispatchedBale{
		ID:               c.ids.RecordID(),
		DispatchNoteID:   sess.Note.ID,
		ShippedBaleID:    cand.Bale.ID,
		Barcode:          cand.Bale.Barcode,
		LogisticsBarcode: cand.LogisticsBarcode,
		Mass:             cand.Mass,
		State:            models.BaleStateDraft,
		Origin:           sess.Note.DisplayName(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := c.store.InsertDispatchedBale(ctx, row); err != nil {
		sess.ScannedCode = cand.Code
		c.logger.Error("failed to commit dispatched bale",
			zap.String("barcode", cand.Bale.Barcode),
			zap.String("note_id", sess.Note.ID),
			zap.Error(err))
		return nil, persistenceError(cand.Bale.Barcode, sess.Note.DisplayName(), err)
	}

	sess.ScannedCode = ""

	c.logger.Info("bale committed",
		zap.String("barcode", row.Barcode),
		zap.String("note_id", row.DispatchNoteID),
		zap.String("mass_kg", row.Mass.String()))

	c.bus.Publish(Event{Type: EventCommitted, SessionID: sess.ID, Note: sess.Note, Row: &row})
	return &row, nil
}

// Cancel marks a dispatched bale row as cancelled, releasing its bale.
// Rows on notes that are no longer draft cannot be cancelled.
func (c *Committer) Cancel(ctx context.Context, rowID string) (*models.DispatchedBale, error) {
	row, err := c.store.GetDispatchedBale(ctx, rowID)
	if err != nil {
		return nil, fmt.Errorf("load dispatched bale %s: %w", rowID, err)
	}

	note, err := c.store.GetNote(ctx, row.DispatchNoteID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load dispatch note %s: %w", row.DispatchNoteID, err)
	}
	if note == nil || note.State != models.NoteStateDraft {
		return nil, fmt.Errorf("cancel bale %s: %w", row.Barcode, ErrNoteNotDraft)
	}

	if !row.Active() {
		return row, nil
	}

	row.State = models.BaleStateCancel
	if err := c.store.UpdateDispatchedBale(ctx, *row); err != nil {
		return nil, persistenceError(row.Barcode, note.DisplayName(), err)
	}

	c.logger.Info("dispatched bale cancelled",
		zap.String("barcode", row.Barcode),
		zap.String("note_id", row.DispatchNoteID))
	return row, nil
}
