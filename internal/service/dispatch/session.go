package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository"
)

// IdentifierSet holds every key under which the current note may appear in
// stored data: its local id, its remote numeric id once synced, and the
// session id.
type IdentifierSet map[string]struct{}

// NewIdentifierSet builds the set for a note opened under sessionID.
func NewIdentifierSet(note models.DispatchNote, sessionID string) IdentifierSet {
	ids := IdentifierSet{}
	ids.add(note.ID)
	if note.RemoteID != 0 {
		ids.add(strconv.FormatInt(note.RemoteID, 10))
	}
	ids.add(sessionID)
	return ids
}

func (s IdentifierSet) add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Contains reports whether id refers to the current note.
func (s IdentifierSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Slice returns the identifiers in no particular order.
func (s IdentifierSet) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Session is the operator's working context for one dispatch note. Scans
// on a session are serialized: while one is in flight the next is refused.
type Session struct {
	ID          string
	Note        models.DispatchNote
	Source      models.Warehouse
	Destination models.Warehouse
	NoteIDs     IdentifierSet
	OpenedAt    time.Time

	// Form state. Mass and LogisticsBarcode are sticky defaults kept across
	// scans; ScannedCode is cleared after each attempt unless the write failed.
	ScannedCode      string
	Mass             decimal.Decimal
	LogisticsBarcode string

	massOverride bool
	prompt       *OverridePrompt

	mu sync.Mutex
}

// SessionView is a point-in-time copy of the session for the UI.
type SessionView struct {
	ID               string              `json:"session_id"`
	Note             models.DispatchNote `json:"note"`
	ScannedCode      string              `json:"scanned_code"`
	Mass             decimal.Decimal     `json:"mass"`
	LogisticsBarcode string              `json:"logistics_barcode"`
	MassOverride     bool                `json:"mass_override"`
	Prompt           *OverridePrompt     `json:"override_prompt,omitempty"`
}

// View snapshots the session, waiting for any in-flight scan.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		ID:               s.ID,
		Note:             s.Note,
		ScannedCode:      s.ScannedCode,
		Mass:             s.Mass,
		LogisticsBarcode: s.LogisticsBarcode,
		MassOverride:     s.massOverride,
		Prompt:           s.prompt,
	}
}

// MassOverride reports whether the operator confirmed an over-quota scan.
func (s *Session) MassOverride() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.massOverride
}

func (s *Session) begin() error {
	if !s.mu.TryLock() {
		return ErrScanInProgress
	}
	return nil
}

func (s *Session) end() {
	s.mu.Unlock()
}

// effectiveMass is the operator-entered mass when set, else the bale's own.
func (s *Session) effectiveMass(bale models.ShippedBale) decimal.Decimal {
	if s.Mass.IsPositive() {
		return s.Mass
	}
	return bale.NominalMass()
}

// SessionManager keeps open dispatch sessions keyed by id.
type SessionManager struct {
	store    repository.Store
	validate *validator.Validate
	newID    func() string
	now      func() time.Time

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionManager creates a new session manager.
func NewSessionManager(store repository.Store, newID func() string) *SessionManager {
	return &SessionManager{
		store:    store,
		validate: validator.New(),
		newID:    newID,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open loads the note and its warehouses and starts a fresh session. The
// mass override token always starts unset.
func (sm *SessionManager) Open(ctx context.Context, noteID string) (*Session, error) {
	note, err := sm.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("load dispatch note %s: %w", noteID, err)
	}
	if err := sm.validate.Struct(note); err != nil {
		return nil, fmt.Errorf("dispatch note %s is incomplete: %w", noteID, err)
	}
	if note.State != models.NoteStateDraft {
		return nil, fmt.Errorf("open dispatch note %s: %w", note.DisplayName(), ErrNoteNotDraft)
	}

	source, err := sm.store.GetWarehouse(ctx, note.SourceWarehouseID)
	if err != nil {
		return nil, fmt.Errorf("load source warehouse %s: %w", note.SourceWarehouseID, err)
	}
	destination, err := sm.store.GetWarehouse(ctx, note.DestinationWarehouseID)
	if err != nil {
		return nil, fmt.Errorf("load destination warehouse %s: %w", note.DestinationWarehouseID, err)
	}

	id := sm.newID()
	sess := &Session{
		ID:          id,
		Note:        *note,
		Source:      *source,
		Destination: *destination,
		NoteIDs:     NewIdentifierSet(*note, id),
		OpenedAt:    sm.now().UTC(),
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[id] = sess
	return sess, nil
}

// Get retrieves an open session.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sess, ok := sm.sessions[id]; ok {
		return sess, nil
	}
	return nil, ErrSessionNotFound
}

// Close discards a session and with it any override token.
func (sm *SessionManager) Close(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(sm.sessions, id)
	return nil
}

// Len reports the number of open sessions.
func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// IsNotFound reports whether err means the note or warehouse is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrSessionNotFound)
}
