// Package alerts forwards audit-relevant dispatch events to a supervisor
// over WhatsApp.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/service/dispatch"
	"github.com/mamadbah2/fieldops/pkg/clients/whatsapp"
)

const sendTimeout = 20 * time.Second

// Service turns override confirmations and postings into supervisor
// messages. Sends happen off the publishing goroutine.
type Service struct {
	sender     whatsapp.Sender
	supervisor string
	logger     *zap.Logger

	wg sync.WaitGroup
}

// NewService wires the alert service.
func NewService(sender whatsapp.Sender, supervisor string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sender: sender, supervisor: supervisor, logger: logger}
}

// Subscribe attaches the service to the engine's bus.
func (s *Service) Subscribe(bus *dispatch.Bus) {
	bus.Subscribe(s.Handle)
}

// Handle queues a message for the events it cares about.
func (s *Service) Handle(ev dispatch.Event) {
	body, ok := Format(ev)
	if !ok {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Send(context.Background(), body)
	}()
}

// Send delivers body to the supervisor, logging rather than returning
// failures.
func (s *Service) Send(ctx context.Context, body string) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	id, err := s.sender.SendText(ctx, s.supervisor, body)
	if err != nil {
		s.logger.Error("failed to send supervisor alert", zap.Error(err))
		return
	}
	s.logger.Debug("supervisor alert sent", zap.String("message_id", id))
}

// Wait blocks until in-flight alerts finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Format renders the supervisor message for ev. Only override
// confirmations and postings produce one.
func Format(ev dispatch.Event) (string, bool) {
	switch ev.Type {
	case dispatch.EventOverrideConfirmed:
		return fmt.Sprintf("Mass override on %s: bale %s accepted %s kg over the instruction quota.",
			ev.Note.DisplayName(), ev.Barcode, ev.Excess.StringFixed(2)), true
	case dispatch.EventPosted:
		if ev.Report == nil {
			return "", false
		}
		r := ev.Report
		return fmt.Sprintf("%s posted: %d bales, %s kg, stock now %s.",
			r.Note.DisplayName(), len(r.Bales), r.TotalMass.StringFixed(2), r.Outcome.Status), true
	default:
		return "", false
	}
}
