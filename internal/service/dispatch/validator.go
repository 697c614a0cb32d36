package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository"
)

// Candidate is a bale that passed validation and is ready to commit.
type Candidate struct {
	Code             string
	Bale             models.ShippedBale
	Mass             decimal.Decimal
	LogisticsBarcode string
}

// Validator runs the ordered battery of dispatch checks against the local
// store and the pending upload queue. The duplicate checks only see this
// device's replica: two devices can both accept the same bale before either
// write propagates, so they are advisory and the server has the final say.
type Validator struct {
	store  repository.Store
	queue  repository.Queue
	logger *zap.Logger
}

// NewValidator wires a validator.
func NewValidator(store repository.Store, queue repository.Queue, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{store: store, queue: queue, logger: logger}
}

// noteLookup caches note states resolved during one validation.
type noteLookup struct {
	store repository.Store
	notes map[string]*models.DispatchNote
}

func (l *noteLookup) get(ctx context.Context, id string) (*models.DispatchNote, error) {
	if n, ok := l.notes[id]; ok {
		return n, nil
	}
	n, err := l.store.GetNote(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		// Rows can arrive before their note does.
		l.notes[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.notes[id] = n
	return n, nil
}

func (l *noteLookup) state(ctx context.Context, id string) (models.NoteState, string, error) {
	n, err := l.get(ctx, id)
	if err != nil || n == nil {
		return models.NoteStateUnknown, id, err
	}
	return n.State, n.DisplayName(), nil
}

// Validate resolves code to a bale and runs every check in order; the
// first failure wins. On ErrMassQuotaExceeded the candidate is returned
// alongside the error so an override can pick it up.
func (v *Validator) Validate(ctx context.Context, code string, sess *Session) (*Candidate, error) {
	bale, err := v.resolveBale(ctx, code)
	if err != nil {
		return nil, err
	}

	note := sess.Note
	if sess.Source.Type != models.WarehouseExternal && bale.WarehouseID != note.SourceWarehouseID {
		return nil, &Error{Kind: KindWarehouseMismatch, Barcode: bale.Barcode, Warehouse: bale.WarehouseID, Expected: sess.Source.Name}
	}

	if note.ProductID != "" && bale.ProductID != note.ProductID {
		return nil, &Error{Kind: KindProductMismatch, Barcode: bale.Barcode, Product: bale.ProductName, Expected: note.ProductID}
	}

	rows, err := v.store.FindDispatchedBales(ctx, repository.DispatchedBaleFilter{
		ShippedBaleID:    bale.ID,
		Barcode:          bale.Barcode,
		LogisticsBarcode: bale.LogisticsBarcode,
	})
	if err != nil {
		return nil, persistenceError(bale.Barcode, "", fmt.Errorf("read dispatched bales: %w", err))
	}

	lookup := &noteLookup{store: v.store, notes: make(map[string]*models.DispatchNote)}

	if err := v.checkOtherDraftNotes(ctx, bale, rows, sess, lookup); err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.Active() && sess.NoteIDs.Contains(row.DispatchNoteID) {
			return nil, &Error{Kind: KindAlreadyInCurrentNote, Barcode: bale.Barcode, Note: note.DisplayName()}
		}
	}

	if err := v.checkPendingQueue(ctx, bale, rows, sess, lookup); err != nil {
		return nil, err
	}

	if err := v.checkDispatchedFlag(ctx, bale, rows, sess, lookup); err != nil {
		return nil, err
	}

	if bale.WarehouseID == note.DestinationWarehouseID && bale.StockStatus == models.StockInStock {
		return nil, &Error{Kind: KindAlreadyInDestination, Barcode: bale.Barcode, Warehouse: sess.Destination.Name}
	}

	if sess.Source.Type.IsInternal() {
		switch {
		case !bale.Received:
			return nil, &Error{Kind: KindNotEligible, Barcode: bale.Barcode, Detail: "bale has not been received"}
		case bale.StockStatus == models.StockInTransit || bale.StockStatus == models.StockOutStock:
			return nil, &Error{Kind: KindNotEligible, Barcode: bale.Barcode, Detail: "stock status is " + string(bale.StockStatus)}
		}
	}

	cand := &Candidate{
		Code:             code,
		Bale:             *bale,
		Mass:             sess.effectiveMass(*bale),
		LogisticsBarcode: bale.LogisticsBarcode,
	}
	// The sticky default only labels bales that carry no logistics barcode.
	if cand.LogisticsBarcode == "" {
		cand.LogisticsBarcode = sess.LogisticsBarcode
	}

	if err := v.CheckMassQuota(ctx, cand, sess); err != nil {
		if errors.Is(err, ErrMassQuotaExceeded) {
			return cand, err
		}
		return nil, err
	}

	return cand, nil
}

// CheckMassQuota compares the candidate's mass with the remaining mass on
// the note's shipping instruction line. A confirmed session override lets
// an excess through; a missing line never does.
func (v *Validator) CheckMassQuota(ctx context.Context, cand *Candidate, sess *Session) error {
	instructionID := sess.Note.ShippingInstructionID
	if instructionID == "" {
		return nil
	}

	bale := cand.Bale
	line, err := v.store.FindInstructionLine(ctx, instructionID, bale.ProductID, bale.GradeID)
	if errors.Is(err, repository.ErrNotFound) {
		return &Error{Kind: KindInstructionLineNotFound, Barcode: bale.Barcode, Product: bale.ProductName, Grade: bale.GradeName}
	}
	if err != nil {
		return persistenceError(bale.Barcode, "", fmt.Errorf("read instruction line: %w", err))
	}

	if cand.Mass.LessThanOrEqual(line.RemainingMass) {
		return nil
	}

	excess := cand.Mass.Sub(line.RemainingMass)
	if sess.massOverride {
		v.logger.Warn("instruction mass exceeded under override",
			zap.String("barcode", bale.Barcode),
			zap.String("note_id", sess.Note.ID),
			zap.String("excess_kg", excess.String()))
		return nil
	}

	return &Error{
		Kind:      KindMassQuotaExceeded,
		Barcode:   bale.Barcode,
		Product:   bale.ProductName,
		Grade:     bale.GradeName,
		Mass:      cand.Mass,
		Remaining: line.RemainingMass,
		Excess:    excess,
	}
}

func (v *Validator) resolveBale(ctx context.Context, code string) (*models.ShippedBale, error) {
	bales, err := v.store.FindBalesByCode(ctx, code)
	if err != nil {
		return nil, persistenceError(code, "", fmt.Errorf("read shipped bales: %w", err))
	}

	switch len(bales) {
	case 0:
		return nil, &Error{Kind: KindNotFound, Barcode: code}
	case 1:
		return &bales[0], nil
	}

	// A code can be one bale's barcode and another's logistics barcode; the
	// primary barcode wins. Anything still ambiguous is refused.
	var exact []models.ShippedBale
	for _, b := range bales {
		if b.Barcode == code {
			exact = append(exact, b)
		}
	}
	if len(exact) == 1 {
		return &exact[0], nil
	}
	return nil, &Error{Kind: KindNotFound, Barcode: code, Detail: fmt.Sprintf("code matches %d bales", len(bales))}
}

func (v *Validator) checkOtherDraftNotes(ctx context.Context, bale *models.ShippedBale, rows []models.DispatchedBale, sess *Session, lookup *noteLookup) error {
	for _, row := range rows {
		if !row.Active() || sess.NoteIDs.Contains(row.DispatchNoteID) {
			continue
		}
		state, name, err := lookup.state(ctx, row.DispatchNoteID)
		if err != nil {
			return persistenceError(bale.Barcode, "", fmt.Errorf("read dispatch note %s: %w", row.DispatchNoteID, err))
		}
		// Unknown states do not block; partially synced notes would
		// otherwise lock bales that are actually free.
		if state == models.NoteStateDraft {
			return &Error{Kind: KindDuplicateInOtherDraftNote, Barcode: bale.Barcode, Note: name}
		}
	}
	return nil
}

func (v *Validator) checkPendingQueue(ctx context.Context, bale *models.ShippedBale, rows []models.DispatchedBale, sess *Session, lookup *noteLookup) error {
	ops, err := v.queue.ListPending(ctx, models.TableDispatchedBales, repository.PendingFilter{
		ShippedBaleID: bale.ID,
		Barcode:       bale.Barcode,
	})
	if err != nil {
		return persistenceError(bale.Barcode, "", fmt.Errorf("read pending operations: %w", err))
	}

	reflected := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		reflected[row.ID] = struct{}{}
	}

	// Only the latest queued write per record counts.
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	latest := make(map[string]models.PendingOperation, len(ops))
	var order []string
	for _, op := range ops {
		key := op.RecordID
		if key == "" {
			key = fmt.Sprintf("op-%d", op.ID)
		}
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = op
	}

	for _, key := range order {
		op := latest[key]
		if _, ok := reflected[op.RecordID]; ok {
			continue
		}
		if op.Kind != models.OpCreate && op.Kind != models.OpUpdate {
			continue
		}
		if models.BaleState(op.Field(models.PayloadState)) == models.BaleStateCancel {
			continue
		}

		noteID := op.Field(models.PayloadDispatchNoteID)
		if sess.NoteIDs.Contains(noteID) {
			return &Error{Kind: KindAlreadyBeingSaved, Barcode: bale.Barcode, Note: sess.Note.DisplayName()}
		}
		_, name, err := lookup.state(ctx, noteID)
		if err != nil {
			return persistenceError(bale.Barcode, "", fmt.Errorf("read dispatch note %s: %w", noteID, err))
		}
		return &Error{Kind: KindAlreadyPendingElsewhere, Barcode: bale.Barcode, Note: name}
	}
	return nil
}

func (v *Validator) checkDispatchedFlag(ctx context.Context, bale *models.ShippedBale, rows []models.DispatchedBale, sess *Session, lookup *noteLookup) error {
	if !bale.Dispatched {
		return nil
	}

	var prior string
	for _, row := range rows {
		if !row.Active() || sess.NoteIDs.Contains(row.DispatchNoteID) {
			continue
		}
		state, name, err := lookup.state(ctx, row.DispatchNoteID)
		if err != nil {
			return persistenceError(bale.Barcode, "", fmt.Errorf("read dispatch note %s: %w", row.DispatchNoteID, err))
		}
		if state == models.NoteStatePosted {
			return nil
		}
		prior = name
	}

	return &Error{Kind: KindAlreadyDispatched, Barcode: bale.Barcode, Note: prior}
}
