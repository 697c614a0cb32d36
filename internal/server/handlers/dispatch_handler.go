package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/service/dispatch"
)

// DispatchHandler exposes the dispatch engine to the local UI shell.
type DispatchHandler struct {
	engine   *dispatch.Engine
	sessions *dispatch.SessionManager
	logger   *zap.Logger
}

// NewDispatchHandler constructs the HTTP handler adapter.
func NewDispatchHandler(engine *dispatch.Engine, sessions *dispatch.SessionManager, logger *zap.Logger) *DispatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchHandler{engine: engine, sessions: sessions, logger: logger}
}

type openSessionRequest struct {
	NoteID string `json:"note_id" binding:"required"`
}

type scanRequest struct {
	Code             string          `json:"code" binding:"required,max=128"`
	Mass             decimal.Decimal `json:"mass"`
	LogisticsBarcode string          `json:"logistics_barcode" binding:"max=128"`
}

// OpenSession starts a dispatch session for a draft note.
func (h *DispatchHandler) OpenSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	sess, err := h.sessions.Open(c.Request.Context(), req.NoteID)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("dispatch session opened", zap.String("session_id", sess.ID), zap.String("note_id", sess.Note.ID))
	c.JSON(http.StatusCreated, sess.View())
}

// GetSession returns the session's current form and override state.
func (h *DispatchHandler) GetSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.View())
}

// CloseSession discards a session.
func (h *DispatchHandler) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Scan validates and commits one scanned code. A mass overrun answers 409
// with the prompt to confirm or cancel.
func (h *DispatchHandler) Scan(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	res, err := h.engine.Scan(c.Request.Context(), sess, dispatch.ScanInput{
		Code:             req.Code,
		Mass:             req.Mass,
		LogisticsBarcode: req.LogisticsBarcode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if res.Prompt != nil {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ConfirmOverride accepts the pending over-quota bale.
func (h *DispatchHandler) ConfirmOverride(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	row, err := h.engine.ConfirmOverride(c.Request.Context(), sess)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispatch.ScanResult{Row: row})
}

// CancelOverride drops the pending over-quota bale and reports the quota
// error that triggered it.
func (h *DispatchHandler) CancelOverride(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.engine.CancelOverride(sess); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Post posts the session's note.
func (h *DispatchHandler) Post(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	report, err := h.engine.Post(c.Request.Context(), sess)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CancelBale releases a dispatched bale from its draft note.
func (h *DispatchHandler) CancelBale(c *gin.Context) {
	row, err := h.engine.CancelBale(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *DispatchHandler) session(c *gin.Context) (*dispatch.Session, bool) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return sess, true
}

func (h *DispatchHandler) badRequest(c *gin.Context, err error) {
	h.logger.Warn("invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusBadRequest, errorResponse{Error: errorBody{Kind: "invalid_request", Message: err.Error()}})
}

func (h *DispatchHandler) fail(c *gin.Context, err error) {
	status, body := renderError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("dispatch request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, errorResponse{Error: body})
}
