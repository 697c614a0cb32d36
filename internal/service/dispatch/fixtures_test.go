package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository"
	"github.com/mamadbah2/fieldops/internal/repository/memory"
)

type seqIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (s *seqIDs) RecordID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

type fixture struct {
	replica  *memory.Replica
	engine   *Engine
	sessions *SessionManager
}

func kg(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith seeds the standard topology; wrap may replace the replica
// handed to the engine, e.g. to inject write failures.
func newFixtureWith(t *testing.T, wrap func(*memory.Replica) repository.Replica) *fixture {
	t.Helper()

	r := memory.New(nil)
	r.SeedWarehouse(models.Warehouse{ID: "wh-src", Name: "Harare Floors", Type: models.WarehouseInternal, DefaultLocationID: "loc-src"})
	r.SeedWarehouse(models.Warehouse{ID: "wh-dst", Name: "Factory Store", Type: models.WarehouseFactoryStorage, DefaultLocationID: "loc-dst"})
	r.SeedWarehouse(models.Warehouse{ID: "wh-ext", Name: "Beira Port", Type: models.WarehouseExternal, DefaultLocationID: "loc-ext"})

	r.SeedNote(models.DispatchNote{ID: "n1", RemoteID: 101, Reference: "DN/0001", SourceWarehouseID: "wh-src", DestinationWarehouseID: "wh-dst", State: models.NoteStateDraft})
	r.SeedNote(models.DispatchNote{ID: "n2", Reference: "DN/0002", SourceWarehouseID: "wh-src", DestinationWarehouseID: "wh-dst", State: models.NoteStateDraft})

	r.SeedBale(newBale("b1", "BALE001"))
	r.SeedBale(newBale("b2", "BALE002"))

	var replica repository.Replica = r
	if wrap != nil {
		replica = wrap(r)
	}

	return &fixture{
		replica:  r,
		engine:   NewEngine(replica, &seqIDs{prefix: "row"}, nil),
		sessions: NewSessionManager(replica, (&seqIDs{prefix: "sess"}).RecordID),
	}
}

func newBale(id, barcode string) models.ShippedBale {
	return models.ShippedBale{
		ID:          id,
		Barcode:     barcode,
		ProductID:   "p1",
		ProductName: "Virginia Flue Cured",
		GradeID:     "g1",
		GradeName:   "L1O",
		Mass:        kg(70),
		WarehouseID: "wh-src",
		StockStatus: models.StockInStock,
		Received:    true,
	}
}

func (f *fixture) open(t *testing.T, noteID string) *Session {
	t.Helper()
	sess, err := f.sessions.Open(context.Background(), noteID)
	require.NoError(t, err)
	return sess
}

func (f *fixture) rowsFor(t *testing.T, baleID, noteID string) []models.DispatchedBale {
	t.Helper()
	rows, err := f.replica.FindDispatchedBales(context.Background(), repository.DispatchedBaleFilter{
		ShippedBaleID: baleID,
		NoteIDs:       []string{noteID},
	})
	require.NoError(t, err)
	return rows
}

func (f *fixture) withInstruction(remaining int64) {
	for _, id := range []string{"n1", "n2"} {
		n, _ := f.replica.GetNote(context.Background(), id)
		n.ShippingInstructionID = "si1"
		f.replica.SeedNote(*n)
	}
	f.replica.SeedInstructionLine(models.ShippingInstructionLine{
		ID: "si1-p1-g1", InstructionID: "si1", ProductID: "p1", GradeID: "g1", RemainingMass: kg(remaining),
	})
}

type failingInsert struct {
	*memory.Replica
	err error
}

func (f failingInsert) InsertDispatchedBale(context.Context, models.DispatchedBale) error {
	return f.err
}
