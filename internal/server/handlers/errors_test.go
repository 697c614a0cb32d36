package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mamadbah2/fieldops/internal/service/dispatch"
)

func TestRenderError(t *testing.T) {
	type header struct {
		ID string `validate:"required"`
	}
	verr := validator.New().Struct(header{})

	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{
			name:   "persistence",
			err:    &dispatch.Error{Kind: dispatch.KindPersistence, Barcode: "B1", Err: errors.New("disk full")},
			status: http.StatusInternalServerError,
			kind:   "persistence_error",
		},
		{
			name:   "validation",
			err:    &dispatch.Error{Kind: dispatch.KindWarehouseMismatch, Barcode: "B1"},
			status: http.StatusUnprocessableEntity,
			kind:   "warehouse_mismatch",
		},
		{
			name:   "wrapped engine error",
			err:    fmt.Errorf("post DN/1: %w", dispatch.ErrNoteNotDraft),
			status: http.StatusConflict,
			kind:   "note_not_draft",
		},
		{
			name:   "incomplete note",
			err:    fmt.Errorf("dispatch note n1 is incomplete: %w", verr),
			status: http.StatusUnprocessableEntity,
			kind:   "incomplete_note",
		},
		{
			name:   "anything else",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			kind:   "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := renderError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestRenderErrorMassesOnlyForQuota(t *testing.T) {
	_, body := renderError(&dispatch.Error{
		Kind:      dispatch.KindMassQuotaExceeded,
		Mass:      decimal.NewFromInt(70),
		Remaining: decimal.Zero,
		Excess:    decimal.NewFromInt(70),
	})
	if assert.NotNil(t, body.Remaining) {
		assert.True(t, body.Remaining.IsZero())
	}
	assert.True(t, decimal.NewFromInt(70).Equal(*body.Excess))

	_, body = renderError(&dispatch.Error{Kind: dispatch.KindNotFound, Barcode: "B1"})
	assert.Nil(t, body.Mass)
}
