// Package memory provides an in-process replica implementing both the
// local record store and the pending upload queue.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository"
)

// Sequencer issues queue sequence numbers.
type Sequencer interface {
	Sequence() int64
}

// Replica is a mutex-guarded map store. Writes made through the Store
// methods are queued for upload; Seed* methods are not, they model rows
// that already arrived from the server.
type Replica struct {
	mu sync.RWMutex

	notes      map[string]models.DispatchNote
	bales      map[string]models.ShippedBale
	dispatched map[string]models.DispatchedBale
	warehouses map[string]models.Warehouse
	lines      map[string]models.ShippingInstructionLine
	pending    []models.PendingOperation

	seq Sequencer
	now func() time.Time
}

var (
	_ repository.Replica     = (*Replica)(nil)
	_ repository.NoteCounter = (*Replica)(nil)
)

type counter struct {
	mu sync.Mutex
	n  int64
}

func (c *counter) Sequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

// New builds an empty replica. A nil sequencer falls back to a counter.
func New(seq Sequencer) *Replica {
	if seq == nil {
		seq = &counter{}
	}
	return &Replica{
		notes:      make(map[string]models.DispatchNote),
		bales:      make(map[string]models.ShippedBale),
		dispatched: make(map[string]models.DispatchedBale),
		warehouses: make(map[string]models.Warehouse),
		lines:      make(map[string]models.ShippingInstructionLine),
		seq:        seq,
		now:        time.Now,
	}
}

// SeedNote stores a note as if replicated from the server.
func (r *Replica) SeedNote(n models.DispatchNote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[n.ID] = n
}

// SeedBale stores a shipped bale as if replicated from the server.
func (r *Replica) SeedBale(b models.ShippedBale) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bales[b.ID] = b
}

// SeedDispatchedBale stores a dispatched bale row as if replicated.
func (r *Replica) SeedDispatchedBale(d models.DispatchedBale) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched[d.ID] = d
}

// SeedWarehouse stores a warehouse.
func (r *Replica) SeedWarehouse(w models.Warehouse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warehouses[w.ID] = w
}

// SeedInstructionLine stores a shipping instruction line.
func (r *Replica) SeedInstructionLine(l models.ShippingInstructionLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[l.ID] = l
}

// SeedPending appends a queue entry, e.g. one written by another screen.
func (r *Replica) SeedPending(op models.PendingOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op.ID == 0 {
		op.ID = r.seq.Sequence()
	}
	r.pending = append(r.pending, op)
}

func (r *Replica) FindBalesByCode(_ context.Context, code string) ([]models.ShippedBale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ShippedBale
	for _, b := range r.bales {
		if b.Barcode == code || (b.LogisticsBarcode != "" && b.LogisticsBarcode == code) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Replica) GetBale(_ context.Context, id string) (*models.ShippedBale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bales[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (r *Replica) UpdateBale(_ context.Context, bale models.ShippedBale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bales[bale.ID]; !ok {
		return repository.ErrNotFound
	}
	bale.UpdatedAt = r.now().UTC()
	r.bales[bale.ID] = bale
	r.enqueue(models.TableShippedBales, models.OpUpdate, bale.ID, models.ShippedBalePayload(bale))
	return nil
}

func (r *Replica) GetNote(_ context.Context, id string) (*models.DispatchNote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n, ok := r.notes[id]; ok {
		n.State = models.ParseNoteState(string(n.State))
		return &n, nil
	}
	for _, n := range r.notes {
		if (n.RemoteID != 0 && strconv.FormatInt(n.RemoteID, 10) == id) || (n.Reference != "" && n.Reference == id) {
			n.State = models.ParseNoteState(string(n.State))
			return &n, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Replica) UpdateNote(_ context.Context, note models.DispatchNote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.notes[note.ID]; !ok {
		return repository.ErrNotFound
	}
	note.UpdatedAt = r.now().UTC()
	r.notes[note.ID] = note
	r.enqueue(models.TableDispatchNotes, models.OpUpdate, note.ID, models.DispatchNotePayload(note))
	return nil
}

func (r *Replica) FindDispatchedBales(_ context.Context, filter repository.DispatchedBaleFilter) ([]models.DispatchedBale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	notes := make(map[string]struct{}, len(filter.NoteIDs))
	for _, id := range filter.NoteIDs {
		notes[id] = struct{}{}
	}

	var out []models.DispatchedBale
	for _, row := range r.dispatched {
		if filter.HasBaleKey() && !filter.MatchesBale(row) {
			continue
		}
		if len(notes) > 0 {
			if _, ok := notes[row.DispatchNoteID]; !ok {
				continue
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Replica) GetDispatchedBale(_ context.Context, id string) (*models.DispatchedBale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.dispatched[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (r *Replica) InsertDispatchedBale(_ context.Context, row models.DispatchedBale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	r.dispatched[row.ID] = row
	r.enqueue(models.TableDispatchedBales, models.OpCreate, row.ID, models.DispatchedBalePayload(row))
	return nil
}

func (r *Replica) UpdateDispatchedBale(_ context.Context, row models.DispatchedBale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dispatched[row.ID]; !ok {
		return repository.ErrNotFound
	}
	row.UpdatedAt = r.now().UTC()
	r.dispatched[row.ID] = row
	r.enqueue(models.TableDispatchedBales, models.OpUpdate, row.ID, models.DispatchedBalePayload(row))
	return nil
}

func (r *Replica) GetWarehouse(_ context.Context, id string) (*models.Warehouse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.warehouses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (r *Replica) FindInstructionLine(_ context.Context, instructionID, productID, gradeID string) (*models.ShippingInstructionLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.lines {
		if l.InstructionID == instructionID && l.ProductID == productID && l.GradeID == gradeID {
			l := l
			return &l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Replica) ListPending(_ context.Context, table string, filter repository.PendingFilter) ([]models.PendingOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.PendingOperation
	for _, op := range r.pending {
		if table != "" && op.Table != table {
			continue
		}
		if !filter.Matches(op) {
			continue
		}
		out = append(out, op)
	}
	return out, nil
}

func (r *Replica) CountPending(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, op := range r.pending {
		counts[op.Table]++
	}
	return counts, nil
}

func (r *Replica) CountNotesByState(_ context.Context) (map[models.NoteState]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.NoteState]int)
	for _, n := range r.notes {
		counts[models.ParseNoteState(string(n.State))]++
	}
	return counts, nil
}

func (r *Replica) Acknowledge(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, op := range r.pending {
		if op.ID == id {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

// enqueue must be called with the write lock held.
func (r *Replica) enqueue(table string, kind models.OperationKind, recordID string, payload map[string]any) {
	r.pending = append(r.pending, models.PendingOperation{
		ID:        r.seq.Sequence(),
		Table:     table,
		Kind:      kind,
		RecordID:  recordID,
		Payload:   payload,
		CreatedAt: r.now().UTC(),
	})
}
