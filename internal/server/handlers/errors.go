package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mamadbah2/fieldops/internal/repository"
	"github.com/mamadbah2/fieldops/internal/service/dispatch"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind      string           `json:"kind"`
	Message   string           `json:"message"`
	Barcode   string           `json:"barcode,omitempty"`
	Product   string           `json:"product,omitempty"`
	Grade     string           `json:"grade,omitempty"`
	Note      string           `json:"note,omitempty"`
	Warehouse string           `json:"warehouse,omitempty"`
	Mass      *decimal.Decimal `json:"mass,omitempty"`
	Remaining *decimal.Decimal `json:"remaining,omitempty"`
	Excess    *decimal.Decimal `json:"excess,omitempty"`
}

var engineErrors = []struct {
	err    error
	status int
	kind   string
}{
	{dispatch.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{repository.ErrNotFound, http.StatusNotFound, "record_not_found"},
	{dispatch.ErrScanInProgress, http.StatusConflict, "scan_in_progress"},
	{dispatch.ErrOverridePending, http.StatusConflict, "override_pending"},
	{dispatch.ErrNoPendingOverride, http.StatusConflict, "no_pending_override"},
	{dispatch.ErrNoteNotDraft, http.StatusConflict, "note_not_draft"},
	{dispatch.ErrEmptyCode, http.StatusBadRequest, "empty_code"},
	{dispatch.ErrUnsupportedWarehouseType, http.StatusUnprocessableEntity, "unsupported_warehouse_type"},
}

// renderError maps an engine error onto a status and the error body.
func renderError(err error) (int, errorBody) {
	if de, ok := dispatch.AsError(err); ok {
		body := errorBody{
			Kind:      string(de.Kind),
			Message:   de.Error(),
			Barcode:   de.Barcode,
			Product:   de.Product,
			Grade:     de.Grade,
			Note:      de.Note,
			Warehouse: de.Warehouse,
		}
		if de.Kind == dispatch.KindMassQuotaExceeded {
			body.Mass, body.Remaining, body.Excess = &de.Mass, &de.Remaining, &de.Excess
		}
		if de.Kind == dispatch.KindPersistence {
			return http.StatusInternalServerError, body
		}
		return http.StatusUnprocessableEntity, body
	}

	for _, e := range engineErrors {
		if errors.Is(err, e.err) {
			return e.status, errorBody{Kind: e.kind, Message: err.Error()}
		}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusUnprocessableEntity, errorBody{Kind: "incomplete_note", Message: err.Error()}
	}

	return http.StatusInternalServerError, errorBody{Kind: "internal", Message: err.Error()}
}
