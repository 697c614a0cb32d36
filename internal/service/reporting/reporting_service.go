package reporting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository"
)

const timeLayout = "2006-01-02 15:04"

// Summary is a snapshot of upload backlog and note states on this device.
type Summary struct {
	GeneratedAt  time.Time                `json:"generated_at"`
	Pending      map[string]int           `json:"pending"`
	TotalPending int                      `json:"total_pending"`
	Notes        map[models.NoteState]int `json:"notes"`
}

// Service builds supervisor summaries from the local replica.
type Service struct {
	queue  repository.Queue
	notes  repository.NoteCounter
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires a new reporting service instance.
func NewService(queue repository.Queue, notes repository.NoteCounter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{queue: queue, notes: notes, logger: logger, now: time.Now}
}

// PendingSummary counts queued uploads per table and notes per state.
func (s *Service) PendingSummary(ctx context.Context) (*Summary, error) {
	pending, err := s.queue.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending operations: %w", err)
	}

	notes, err := s.notes.CountNotesByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dispatch notes: %w", err)
	}

	sum := &Summary{GeneratedAt: s.now(), Pending: pending, Notes: notes}
	for _, n := range pending {
		sum.TotalPending += n
	}

	s.logger.Debug("pending summary built", zap.Int("total_pending", sum.TotalPending))
	return sum, nil
}

// Format renders the summary as a short text message.
func (s *Summary) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dispatch summary (%s)\n", s.GeneratedAt.Format(timeLayout))

	if s.TotalPending == 0 {
		b.WriteString("Upload queue: empty.\n")
	} else {
		tables := make([]string, 0, len(s.Pending))
		for t := range s.Pending {
			tables = append(tables, t)
		}
		sort.Strings(tables)

		fmt.Fprintf(&b, "Upload queue: %d pending", s.TotalPending)
		parts := make([]string, 0, len(tables))
		for _, t := range tables {
			parts = append(parts, fmt.Sprintf("%s %d", t, s.Pending[t]))
		}
		fmt.Fprintf(&b, " (%s).\n", strings.Join(parts, ", "))
	}

	fmt.Fprintf(&b, "Notes: %d draft, %d posted", s.Notes[models.NoteStateDraft], s.Notes[models.NoteStatePosted])
	if unknown := s.Notes[models.NoteStateUnknown]; unknown > 0 {
		fmt.Fprintf(&b, ", %d unknown", unknown)
	}
	b.WriteString(".")
	return b.String()
}
