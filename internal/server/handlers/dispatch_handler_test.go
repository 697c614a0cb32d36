package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository/memory"
	"github.com/mamadbah2/fieldops/internal/server/handlers"
	"github.com/mamadbah2/fieldops/internal/server/router"
	"github.com/mamadbah2/fieldops/internal/service/dispatch"
)

type counterIDs struct{ n int }

func (c *counterIDs) RecordID() string {
	c.n++
	return fmt.Sprintf("id-%d", c.n)
}

type apiError struct {
	Error struct {
		Kind      string `json:"kind"`
		Message   string `json:"message"`
		Barcode   string `json:"barcode"`
		Note      string `json:"note"`
		Remaining string `json:"remaining"`
		Excess    string `json:"excess"`
	} `json:"error"`
}

func newServer(t *testing.T) (*gin.Engine, *memory.Replica) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := memory.New(nil)
	r.SeedWarehouse(models.Warehouse{ID: "wh-src", Name: "Harare Floors", Type: models.WarehouseInternal, DefaultLocationID: "loc-src"})
	r.SeedWarehouse(models.Warehouse{ID: "wh-ext", Name: "Beira Port", Type: models.WarehouseExternal, DefaultLocationID: "loc-ext"})
	r.SeedNote(models.DispatchNote{
		ID: "n1", Reference: "DN/0001", SourceWarehouseID: "wh-src", DestinationWarehouseID: "wh-ext",
		ShippingInstructionID: "si1", State: models.NoteStateDraft,
	})
	r.SeedNote(models.DispatchNote{ID: "n2", Reference: "DN/0002", SourceWarehouseID: "wh-src", DestinationWarehouseID: "wh-ext", State: models.NoteStateDraft})
	r.SeedInstructionLine(models.ShippingInstructionLine{ID: "l1", InstructionID: "si1", ProductID: "p1", GradeID: "g1", RemainingMass: decimal.NewFromInt(30)})
	for i, code := range []string{"BALE001", "BALE002"} {
		r.SeedBale(models.ShippedBale{
			ID: fmt.Sprintf("b%d", i+1), Barcode: code, ProductID: "p1", ProductName: "Virginia Flue Cured",
			GradeID: "g1", GradeName: "L1O", Mass: decimal.NewFromInt(70), WarehouseID: "wh-src",
			StockStatus: models.StockInStock, Received: true,
		})
	}

	ids := &counterIDs{}
	engine := dispatch.NewEngine(r, ids, nil)
	sessions := dispatch.NewSessionManager(r, ids.RecordID)
	return router.New(handlers.NewDispatchHandler(engine, sessions, nil), []string{"http://localhost:1420"}, nil), r
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func openSession(t *testing.T, srv http.Handler, noteID string) string {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/sessions", map[string]string{"note_id": noteID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view dispatch.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotEmpty(t, view.ID)
	return view.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "http://localhost:1420")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:1420", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestScanFlow(t *testing.T) {
	srv, replica := newServer(t)
	id := openSession(t, srv, "n2")

	rec := do(t, srv, http.MethodPost, "/sessions/"+id+"/scans", map[string]any{"code": "BALE001"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res dispatch.ScanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Row)
	assert.Equal(t, "BALE001", res.Row.Barcode)

	rec = do(t, srv, http.MethodPost, "/sessions/"+id+"/scans", map[string]any{"code": "BALE001"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(dispatch.KindAlreadyInCurrentNote), decodeError(t, rec).Error.Kind)

	rec = do(t, srv, http.MethodPost, "/sessions/"+id+"/post", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bale, err := replica.GetBale(t.Context(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StockOutStock, bale.StockStatus)
	assert.Equal(t, "DN/0002", bale.DispatchReference)
}

func TestScanOverridePrompt(t *testing.T) {
	srv, _ := newServer(t)
	id := openSession(t, srv, "n1")

	rec := do(t, srv, http.MethodPost, "/sessions/"+id+"/scans", map[string]any{"code": "BALE002"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var res dispatch.ScanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Prompt)
	assert.Equal(t, "BALE002", res.Prompt.Barcode)

	rec = do(t, srv, http.MethodPost, "/sessions/"+id+"/override/cancel", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, string(dispatch.KindMassQuotaExceeded), e.Error.Kind)
	assert.Equal(t, "30", e.Error.Remaining)
	assert.Equal(t, "40", e.Error.Excess)

	rec = do(t, srv, http.MethodPost, "/sessions/"+id+"/override/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_pending_override", decodeError(t, rec).Error.Kind)

	rec = do(t, srv, http.MethodPost, "/sessions/"+id+"/scans", map[string]any{"code": "BALE002"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodPost, "/sessions/"+id+"/override/confirm", nil)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view dispatch.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.MassOverride)
	assert.Nil(t, view.Prompt)
}

func TestScanStickyMass(t *testing.T) {
	srv, _ := newServer(t)
	id := openSession(t, srv, "n2")

	rec := do(t, srv, http.MethodPost, "/sessions/"+id+"/scans", map[string]any{"code": "BALE001", "mass": 68.5, "logistics_barcode": "LOG-9"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res dispatch.ScanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, decimal.RequireFromString("68.5").Equal(res.Row.Mass))
	assert.Equal(t, "LOG-9", res.Row.LogisticsBarcode)
}

func TestErrorsMapToStatus(t *testing.T) {
	srv, _ := newServer(t)
	id := openSession(t, srv, "n2")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown session", http.MethodGet, "/sessions/nope", nil, http.StatusNotFound, "session_not_found"},
		{"unknown note", http.MethodPost, "/sessions", map[string]string{"note_id": "n9"}, http.StatusNotFound, "record_not_found"},
		{"missing note id", http.MethodPost, "/sessions", map[string]string{}, http.StatusBadRequest, "invalid_request"},
		{"missing code", http.MethodPost, "/sessions/" + id + "/scans", map[string]string{}, http.StatusBadRequest, "invalid_request"},
		{"blank code", http.MethodPost, "/sessions/" + id + "/scans", map[string]string{"code": "  "}, http.StatusBadRequest, "empty_code"},
		{"unknown bale", http.MethodPost, "/sessions/" + id + "/scans", map[string]string{"code": "NOPE"}, http.StatusUnprocessableEntity, "not_found"},
		{"empty post", http.MethodPost, "/sessions/" + id + "/post", nil, http.StatusUnprocessableEntity, "empty_dispatch"},
		{"cancel unknown row", http.MethodPost, "/dispatched-bales/nope/cancel", nil, http.StatusNotFound, "record_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decodeError(t, rec).Error.Kind)
		})
	}
}

func TestCancelBaleAndCloseSession(t *testing.T) {
	srv, _ := newServer(t)
	id := openSession(t, srv, "n2")

	rec := do(t, srv, http.MethodPost, "/sessions/"+id+"/scans", map[string]any{"code": "BALE001"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var res dispatch.ScanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = do(t, srv, http.MethodPost, "/dispatched-bales/"+res.Row.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var row models.DispatchedBale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &row))
	assert.Equal(t, models.BaleStateCancel, row.State)

	rec = do(t, srv, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
