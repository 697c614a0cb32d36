package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository"
)

// StockOutcome is what posting does to every bale on the note.
type StockOutcome struct {
	Status               models.StockStatus `json:"stock_status"`
	Received             bool               `json:"received"`
	Dispatched           bool               `json:"dispatched"`
	MoveToDestination    bool               `json:"move_to_destination"`
	SetDispatchReference bool               `json:"set_dispatch_reference"`
}

// ResolveStockOutcome maps destination topology to the post-dispatch stock
// state of a bale:
//
//	internal, no transport  -> in_stock,   received, moved to destination
//	internal, transport     -> in_transit, not received, location unchanged
//	external                -> out_stock,  not received, moved, dispatch reference set
//
// Any other warehouse type is refused.
func ResolveStockOutcome(destination models.WarehouseType, noTransportationDetails bool) (StockOutcome, error) {
	switch {
	case destination.IsInternal() && noTransportationDetails:
		return StockOutcome{Status: models.StockInStock, Received: true, Dispatched: true, MoveToDestination: true}, nil
	case destination.IsInternal():
		return StockOutcome{Status: models.StockInTransit, Dispatched: true}, nil
	case destination == models.WarehouseExternal:
		return StockOutcome{Status: models.StockOutStock, Dispatched: true, MoveToDestination: true, SetDispatchReference: true}, nil
	default:
		return StockOutcome{}, fmt.Errorf("%w: %q", ErrUnsupportedWarehouseType, destination)
	}
}

// Apply returns bale updated according to the outcome.
func (o StockOutcome) Apply(bale models.ShippedBale, note models.DispatchNote, destination models.Warehouse) models.ShippedBale {
	bale.StockStatus = o.Status
	bale.Received = o.Received
	bale.Dispatched = o.Dispatched
	if o.MoveToDestination {
		bale.WarehouseID = destination.ID
		bale.LocationID = destination.DefaultLocationID
	}
	if o.SetDispatchReference {
		bale.DispatchReference = note.DisplayName()
	}
	return bale
}

// PostReport summarizes a posted note.
type PostReport struct {
	Note        models.DispatchNote     `json:"note"`
	Outcome     StockOutcome            `json:"outcome"`
	Destination models.Warehouse        `json:"destination"`
	Rows        []models.DispatchedBale `json:"rows"`
	Bales       []models.ShippedBale    `json:"bales"`
	TotalMass   decimal.Decimal         `json:"total_mass"`
	PostedAt    time.Time               `json:"posted_at"`
}

// StateMachine moves a note from draft to posted. Posted is terminal on
// the client; later server states are only ever observed.
type StateMachine struct {
	store  repository.Store
	bus    *Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewStateMachine wires the posting state machine.
func NewStateMachine(store repository.Store, bus *Bus, logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{store: store, bus: bus, logger: logger, now: time.Now}
}

// Post validates that the note carries at least one live bale, rewrites
// each bale's stock state from the destination topology, and marks the
// note posted. A failure part way leaves the note in draft; since the
// outcome is deterministic, posting again converges.
func (m *StateMachine) Post(ctx context.Context, noteID string, ids IdentifierSet) (*PostReport, error) {
	note, err := m.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("load dispatch note %s: %w", noteID, err)
	}
	if note.State != models.NoteStateDraft {
		return nil, fmt.Errorf("post %s (state %q): %w", note.DisplayName(), note.State, ErrNoteNotDraft)
	}

	destination, err := m.store.GetWarehouse(ctx, note.DestinationWarehouseID)
	if err != nil {
		return nil, fmt.Errorf("load destination warehouse %s: %w", note.DestinationWarehouseID, err)
	}

	outcome, err := ResolveStockOutcome(destination.Type, note.NoTransportationDetails)
	if err != nil {
		return nil, fmt.Errorf("post %s to %s: %w", note.DisplayName(), destination.Name, err)
	}

	if ids == nil {
		ids = NewIdentifierSet(*note, "")
	}
	rows, err := m.store.FindDispatchedBales(ctx, repository.DispatchedBaleFilter{NoteIDs: ids.Slice()})
	if err != nil {
		return nil, persistenceError("", note.DisplayName(), fmt.Errorf("read dispatched bales: %w", err))
	}

	var live []models.DispatchedBale
	for _, row := range rows {
		if row.Active() {
			live = append(live, row)
		}
	}
	if len(live) == 0 {
		return nil, &Error{Kind: KindEmptyDispatch, Note: note.DisplayName()}
	}

	report := &PostReport{Outcome: outcome, Destination: *destination, TotalMass: decimal.Zero}
	for _, row := range live {
		bale, err := m.store.GetBale(ctx, row.ShippedBaleID)
		if err != nil {
			return nil, persistenceError(row.Barcode, note.DisplayName(), fmt.Errorf("read shipped bale: %w", err))
		}

		updated := outcome.Apply(*bale, *note, *destination)
		if err := m.store.UpdateBale(ctx, updated); err != nil {
			return nil, persistenceError(row.Barcode, note.DisplayName(), err)
		}

		report.Rows = append(report.Rows, row)
		report.Bales = append(report.Bales, updated)
		report.TotalMass = report.TotalMass.Add(row.Mass)
	}

	note.State = models.NoteStatePosted
	if err := m.store.UpdateNote(ctx, *note); err != nil {
		return nil, persistenceError("", note.DisplayName(), err)
	}

	report.Note = *note
	report.PostedAt = m.now().UTC()

	m.logger.Info("dispatch note posted",
		zap.String("note_id", note.ID),
		zap.String("destination", destination.Name),
		zap.String("stock_status", string(outcome.Status)),
		zap.Int("bales", len(report.Bales)),
		zap.String("total_mass_kg", report.TotalMass.String()))

	m.bus.Publish(Event{Type: EventPosted, Note: *note, Report: report})
	return report, nil
}
