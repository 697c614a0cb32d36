// Package repository declares the contracts the dispatch engine consumes
// from the locally replicated database and its upload queue. Each call is a
// standalone read or write; no transactions are assumed.
package repository

import (
	"context"
	"errors"

	"github.com/mamadbah2/fieldops/internal/domain/models"
)

// ErrNotFound is returned by single-record lookups that match nothing.
var ErrNotFound = errors.New("record not found")

// DispatchedBaleFilter selects dispatched bale rows. Rows matching any of
// the bale keys are returned; NoteIDs, when set, further restricts the rows
// to those notes.
type DispatchedBaleFilter struct {
	ShippedBaleID    string
	Barcode          string
	LogisticsBarcode string
	NoteIDs          []string
}

// PendingFilter selects queue entries whose payload references any of the
// given values.
type PendingFilter struct {
	ShippedBaleID  string
	Barcode        string
	DispatchNoteID string
}

// Store is the local record store.
type Store interface {
	FindBalesByCode(ctx context.Context, code string) ([]models.ShippedBale, error)
	GetBale(ctx context.Context, id string) (*models.ShippedBale, error)
	UpdateBale(ctx context.Context, bale models.ShippedBale) error

	// GetNote resolves a note by local id, remote id or reference.
	GetNote(ctx context.Context, id string) (*models.DispatchNote, error)
	UpdateNote(ctx context.Context, note models.DispatchNote) error

	FindDispatchedBales(ctx context.Context, filter DispatchedBaleFilter) ([]models.DispatchedBale, error)
	GetDispatchedBale(ctx context.Context, id string) (*models.DispatchedBale, error)
	InsertDispatchedBale(ctx context.Context, row models.DispatchedBale) error
	UpdateDispatchedBale(ctx context.Context, row models.DispatchedBale) error

	GetWarehouse(ctx context.Context, id string) (*models.Warehouse, error)
	FindInstructionLine(ctx context.Context, instructionID, productID, gradeID string) (*models.ShippingInstructionLine, error)
}

// Queue is the ordered log of local writes awaiting upload.
type Queue interface {
	ListPending(ctx context.Context, table string, filter PendingFilter) ([]models.PendingOperation, error)
	CountPending(ctx context.Context) (map[string]int, error)
	Acknowledge(ctx context.Context, id int64) error
}

// NoteCounter reports how many notes sit in each state.
type NoteCounter interface {
	CountNotesByState(ctx context.Context) (map[models.NoteState]int, error)
}

// Replica bundles both collaborators; local writes land in the store and
// are queued for upload in the same call.
type Replica interface {
	Store
	Queue
}

// Matches reports whether a queue entry references any of the filter keys.
// An empty filter matches everything.
func (f PendingFilter) Matches(op models.PendingOperation) bool {
	switch {
	case f == (PendingFilter{}):
		return true
	case f.ShippedBaleID != "" && op.Field(models.PayloadShippedBaleID) == f.ShippedBaleID:
		return true
	case f.Barcode != "" && op.Field(models.PayloadBarcode) == f.Barcode:
		return true
	case f.DispatchNoteID != "" && op.Field(models.PayloadDispatchNoteID) == f.DispatchNoteID:
		return true
	}
	return false
}

// MatchesBale reports whether a row is keyed by any of the filter's bale keys.
func (f DispatchedBaleFilter) MatchesBale(row models.DispatchedBale) bool {
	switch {
	case f.ShippedBaleID != "" && row.ShippedBaleID == f.ShippedBaleID:
		return true
	case f.Barcode != "" && row.Barcode == f.Barcode:
		return true
	case f.LogisticsBarcode != "" && (row.LogisticsBarcode == f.LogisticsBarcode || row.Barcode == f.LogisticsBarcode):
		return true
	}
	return false
}

// HasBaleKey reports whether any bale key is set.
func (f DispatchedBaleFilter) HasBaleKey() bool {
	return f.ShippedBaleID != "" || f.Barcode != "" || f.LogisticsBarcode != ""
}
