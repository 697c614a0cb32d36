// Package manifest exports posted dispatch notes to the shared manifest
// spreadsheet, one row per bale.
package manifest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/repository/sheets"
	"github.com/mamadbah2/fieldops/internal/service/dispatch"
)

const (
	// SheetRange is where manifest rows are appended.
	SheetRange = "Manifest!A:J"

	timeLayout    = "2006-01-02 15:04"
	exportTimeout = time.Minute
)

// Exporter appends posted notes to the manifest.
type Exporter struct {
	sheet  sheets.Appender
	logger *zap.Logger

	wg sync.WaitGroup
}

// NewExporter wires an exporter on top of a sheet appender.
func NewExporter(sheet sheets.Appender, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{sheet: sheet, logger: logger}
}

// Subscribe exports every posted note published on bus.
func (e *Exporter) Subscribe(bus *dispatch.Bus) {
	bus.Subscribe(func(ev dispatch.Event) {
		if ev.Type != dispatch.EventPosted || ev.Report == nil {
			return
		}
		report := ev.Report
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
			defer cancel()
			if err := e.Export(ctx, report); err != nil {
				e.logger.Error("manifest export failed", zap.String("note_id", report.Note.ID), zap.Error(err))
			}
		}()
	})
}

// Wait blocks until in-flight exports finish.
func (e *Exporter) Wait() {
	e.wg.Wait()
}

// Export appends one row per dispatched bale of report.
func (e *Exporter) Export(ctx context.Context, report *dispatch.PostReport) error {
	rows := Rows(report)
	if err := e.sheet.AppendRows(ctx, SheetRange, rows); err != nil {
		return fmt.Errorf("export %s: %w", report.Note.DisplayName(), err)
	}
	e.logger.Info("manifest exported", zap.String("note_id", report.Note.ID), zap.Int("rows", len(rows)))
	return nil
}

// Rows renders the manifest rows for report:
// posted at, note, barcode, logistics barcode, product, grade, mass kg,
// destination, stock status, truck.
func Rows(report *dispatch.PostReport) [][]interface{} {
	products := make(map[string][2]string, len(report.Bales))
	for _, b := range report.Bales {
		products[b.ID] = [2]string{b.ProductName, b.GradeName}
	}

	posted := report.PostedAt.Format(timeLayout)
	out := make([][]interface{}, 0, len(report.Rows))
	for _, row := range report.Rows {
		pg := products[row.ShippedBaleID]
		out = append(out, []interface{}{
			posted,
			report.Note.DisplayName(),
			row.Barcode,
			row.LogisticsBarcode,
			pg[0],
			pg[1],
			row.Mass.StringFixed(2),
			report.Destination.Name,
			string(report.Outcome.Status),
			report.Note.TruckReg,
		})
	}
	return out
}
