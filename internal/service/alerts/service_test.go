package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/service/dispatch"
)

type recordingSender struct {
	mu   sync.Mutex
	to   []string
	sent []string
	err  error
}

func (r *recordingSender) SendText(_ context.Context, to, body string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to = append(r.to, to)
	r.sent = append(r.sent, body)
	return "wamid", r.err
}

func TestFormat(t *testing.T) {
	note := models.DispatchNote{ID: "n1", Reference: "DN/0001"}

	msg, ok := Format(dispatch.Event{Type: dispatch.EventOverrideConfirmed, Note: note, Barcode: "BALE001", Excess: decimal.NewFromInt(20)})
	require.True(t, ok)
	assert.Equal(t, "Mass override on DN/0001: bale BALE001 accepted 20.00 kg over the instruction quota.", msg)

	report := &dispatch.PostReport{
		Note:      note,
		Outcome:   dispatch.StockOutcome{Status: models.StockInTransit},
		Bales:     make([]models.ShippedBale, 3),
		TotalMass: decimal.RequireFromString("210.5"),
	}
	msg, ok = Format(dispatch.Event{Type: dispatch.EventPosted, Report: report})
	require.True(t, ok)
	assert.Equal(t, "DN/0001 posted: 3 bales, 210.50 kg, stock now in_transit.", msg)

	_, ok = Format(dispatch.Event{Type: dispatch.EventCommitted})
	assert.False(t, ok)
}

func TestHandleSendsToSupervisor(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "263770000000", nil)

	bus := dispatch.NewBus()
	svc.Subscribe(bus)

	bus.Publish(dispatch.Event{Type: dispatch.EventCommitted})
	bus.Publish(dispatch.Event{Type: dispatch.EventOverrideConfirmed, Note: models.DispatchNote{ID: "n1"}, Barcode: "B1", Excess: decimal.NewFromInt(5)})
	svc.Wait()

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"263770000000"}, sender.to)
	assert.Contains(t, sender.sent[0], "bale B1")
}

func TestSendFailureIsLogged(t *testing.T) {
	sender := &recordingSender{err: errors.New("unreachable")}
	svc := NewService(sender, "263770000000", nil)

	assert.NotPanics(t, func() { svc.Send(context.Background(), "hello") })
	assert.Len(t, sender.sent, 1)
}
