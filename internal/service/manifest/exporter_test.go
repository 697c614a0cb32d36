package manifest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/service/dispatch"
)

type fakeSheet struct {
	mu     sync.Mutex
	ranges []string
	rows   [][]interface{}
	err    error
}

func (f *fakeSheet) AppendRows(_ context.Context, sheetRange string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ranges = append(f.ranges, sheetRange)
	f.rows = append(f.rows, rows...)
	return nil
}

func sampleReport() *dispatch.PostReport {
	return &dispatch.PostReport{
		Note:        models.DispatchNote{ID: "n1", Reference: "DN/0001", TruckReg: "AEZ 1234"},
		Outcome:     dispatch.StockOutcome{Status: models.StockOutStock},
		Destination: models.Warehouse{ID: "wh-ext", Name: "Beira Port"},
		Rows: []models.DispatchedBale{
			{ID: "r1", ShippedBaleID: "b1", Barcode: "BALE001", LogisticsBarcode: "LOG-1", Mass: decimal.NewFromInt(70)},
			{ID: "r2", ShippedBaleID: "b2", Barcode: "BALE002", Mass: decimal.RequireFromString("65.5")},
		},
		Bales: []models.ShippedBale{
			{ID: "b1", ProductName: "Virginia Flue Cured", GradeName: "L1O"},
			{ID: "b2", ProductName: "Burley", GradeName: "B2F"},
		},
		PostedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestRows(t *testing.T) {
	rows := Rows(sampleReport())
	require.Len(t, rows, 2)
	assert.Equal(t, []interface{}{
		"2026-03-14 09:30", "DN/0001", "BALE001", "LOG-1", "Virginia Flue Cured", "L1O", "70.00", "Beira Port", "out_stock", "AEZ 1234",
	}, rows[0])
	assert.Equal(t, "Burley", rows[1][4])
	assert.Equal(t, "65.50", rows[1][6])
}

func TestSubscribeExportsPostedNotes(t *testing.T) {
	sheet := &fakeSheet{}
	exp := NewExporter(sheet, nil)
	bus := dispatch.NewBus()
	exp.Subscribe(bus)

	bus.Publish(dispatch.Event{Type: dispatch.EventCommitted})
	bus.Publish(dispatch.Event{Type: dispatch.EventPosted, Report: sampleReport()})
	exp.Wait()

	assert.Equal(t, []string{SheetRange}, sheet.ranges)
	assert.Len(t, sheet.rows, 2)
}

func TestExportWrapsError(t *testing.T) {
	boom := errors.New("quota exceeded")
	exp := NewExporter(&fakeSheet{err: boom}, nil)

	err := exp.Export(context.Background(), sampleReport())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "DN/0001")
}
