package dispatch

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies a rejected scan or posting attempt.
type Kind string

const (
	KindNotFound                  Kind = "not_found"
	KindWarehouseMismatch         Kind = "warehouse_mismatch"
	KindProductMismatch           Kind = "product_mismatch"
	KindDuplicateInOtherDraftNote Kind = "duplicate_in_other_draft_note"
	KindAlreadyInCurrentNote      Kind = "already_in_current_note"
	KindAlreadyBeingSaved         Kind = "already_being_saved"
	KindAlreadyPendingElsewhere   Kind = "already_pending_elsewhere"
	KindAlreadyDispatched         Kind = "already_dispatched"
	KindAlreadyInDestination      Kind = "already_in_destination"
	KindNotEligible               Kind = "not_eligible"
	KindInstructionLineNotFound   Kind = "instruction_line_not_found"
	KindMassQuotaExceeded         Kind = "mass_quota_exceeded"
	KindEmptyDispatch             Kind = "empty_dispatch"
	KindPersistence               Kind = "persistence_error"
)

// Sentinels for errors.Is matching against *Error values.
var (
	ErrNotFound                  = errors.New("bale not found")
	ErrWarehouseMismatch         = errors.New("bale is not in the source warehouse")
	ErrProductMismatch           = errors.New("bale product does not match the note")
	ErrDuplicateInOtherDraftNote = errors.New("bale is on another draft dispatch note")
	ErrAlreadyInCurrentNote      = errors.New("bale is already on this dispatch note")
	ErrAlreadyBeingSaved         = errors.New("bale is still being saved to this dispatch note")
	ErrAlreadyPendingElsewhere   = errors.New("bale is awaiting upload on another dispatch note")
	ErrAlreadyDispatched         = errors.New("bale has already been dispatched")
	ErrAlreadyInDestination      = errors.New("bale is already in stock at the destination")
	ErrNotEligible               = errors.New("bale is not eligible for dispatch")
	ErrInstructionLineNotFound   = errors.New("shipping instruction line not found")
	ErrMassQuotaExceeded         = errors.New("bale mass exceeds the remaining instruction mass")
	ErrEmptyDispatch             = errors.New("dispatch note has no bales")
	ErrPersistence               = errors.New("local store write failed")
)

// Engine errors outside the operator-facing taxonomy.
var (
	ErrScanInProgress           = errors.New("a scan is already being processed for this session")
	ErrOverridePending          = errors.New("a mass override is awaiting confirmation")
	ErrNoPendingOverride        = errors.New("no mass override is awaiting confirmation")
	ErrEmptyCode                = errors.New("scanned code is empty")
	ErrNoteNotDraft             = errors.New("dispatch note is not in draft")
	ErrUnsupportedWarehouseType = errors.New("unsupported destination warehouse type")
	ErrSessionNotFound          = errors.New("dispatch session not found")
)

var sentinels = map[Kind]error{
	KindNotFound:                  ErrNotFound,
	KindWarehouseMismatch:         ErrWarehouseMismatch,
	KindProductMismatch:           ErrProductMismatch,
	KindDuplicateInOtherDraftNote: ErrDuplicateInOtherDraftNote,
	KindAlreadyInCurrentNote:      ErrAlreadyInCurrentNote,
	KindAlreadyBeingSaved:         ErrAlreadyBeingSaved,
	KindAlreadyPendingElsewhere:   ErrAlreadyPendingElsewhere,
	KindAlreadyDispatched:         ErrAlreadyDispatched,
	KindAlreadyInDestination:      ErrAlreadyInDestination,
	KindNotEligible:               ErrNotEligible,
	KindInstructionLineNotFound:   ErrInstructionLineNotFound,
	KindMassQuotaExceeded:         ErrMassQuotaExceeded,
	KindEmptyDispatch:             ErrEmptyDispatch,
	KindPersistence:               ErrPersistence,
}

// Error carries enough context to tell the operator exactly what blocked
// the scan: which bale, which note, which warehouse, how much mass.
type Error struct {
	Kind      Kind
	Barcode   string
	Product   string
	Grade     string
	Note      string
	Warehouse string
	Expected  string
	Detail    string
	Mass      decimal.Decimal
	Remaining decimal.Decimal
	Excess    decimal.Decimal
	Err       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		if e.Detail != "" {
			return fmt.Sprintf("bale %s not found: %s", e.Barcode, e.Detail)
		}
		return fmt.Sprintf("bale %s not found", e.Barcode)
	case KindWarehouseMismatch:
		return fmt.Sprintf("bale %s is in warehouse %s, not in source warehouse %s", e.Barcode, e.Warehouse, e.Expected)
	case KindProductMismatch:
		return fmt.Sprintf("bale %s is product %s, the note requires %s", e.Barcode, e.Product, e.Expected)
	case KindDuplicateInOtherDraftNote:
		return fmt.Sprintf("bale %s is already on draft dispatch note %s", e.Barcode, e.Note)
	case KindAlreadyInCurrentNote:
		return fmt.Sprintf("bale %s is already on this dispatch note", e.Barcode)
	case KindAlreadyBeingSaved:
		return fmt.Sprintf("bale %s is still being saved to this dispatch note", e.Barcode)
	case KindAlreadyPendingElsewhere:
		return fmt.Sprintf("bale %s is awaiting upload on dispatch note %s", e.Barcode, e.Note)
	case KindAlreadyDispatched:
		if e.Note != "" {
			return fmt.Sprintf("bale %s has already been dispatched on note %s", e.Barcode, e.Note)
		}
		return fmt.Sprintf("bale %s has already been dispatched", e.Barcode)
	case KindAlreadyInDestination:
		return fmt.Sprintf("bale %s is already in stock at destination %s", e.Barcode, e.Warehouse)
	case KindNotEligible:
		return fmt.Sprintf("bale %s is not eligible for dispatch: %s", e.Barcode, e.Detail)
	case KindInstructionLineNotFound:
		return fmt.Sprintf("no shipping instruction line for product %s grade %s", e.Product, e.Grade)
	case KindMassQuotaExceeded:
		return fmt.Sprintf("bale %s mass %s kg exceeds remaining %s kg for %s %s by %s kg",
			e.Barcode, e.Mass.String(), e.Remaining.String(), e.Product, e.Grade, e.Excess.String())
	case KindEmptyDispatch:
		return fmt.Sprintf("dispatch note %s has no bales", e.Note)
	case KindPersistence:
		return fmt.Sprintf("could not save %s: %v", e.subject(), e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) subject() string {
	switch {
	case e.Barcode != "":
		return "bale " + e.Barcode
	case e.Note != "":
		return "dispatch note " + e.Note
	default:
		return "record"
	}
}

// Unwrap exposes the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Recoverable reports whether the operator keeps entered form state.
func (e *Error) Recoverable() bool {
	return e.Kind == KindPersistence
}

// AsError extracts a taxonomy error, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func persistenceError(barcode, note string, err error) *Error {
	return &Error{Kind: KindPersistence, Barcode: barcode, Note: note, Err: err}
}
