package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/services"
	"github.com/mindpal/backend/internal/utils"
)

// JournalQueue hands a generation run to the background workers.
type JournalQueue interface {
	Enqueue(ctx context.Context, userID string) (string, error)
}

type JournalHandler struct {
	svc   services.JournalService
	queue JournalQueue // nil when Redis is not configured
}

func NewJournalHandler(svc services.JournalService, queue JournalQueue) *JournalHandler {
	return &JournalHandler{svc: svc, queue: queue}
}

// GenerateMissing runs synchronously unless ?async=true, in which case the
// request is queued and 202 is returned with the stream message id.
func (h *JournalHandler) GenerateMissing(c *gin.Context) {
	const op = "JournalHandler.GenerateMissing"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	if c.Query("async") == "true" {
		if h.queue == nil {
			writeError(c, utils.E(utils.CodeFailedPrecondition, op, "background generation is not configured", nil))
			return
		}
		id, err := h.queue.Enqueue(c.Request.Context(), userID)
		if err != nil {
			writeError(c, utils.E(utils.CodeUnavailable, op, "failed to queue journal generation", err))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Journals are being generated.", "job_id": id})
		return
	}

	res, err := h.svc.GenerateMissing(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	msg := "Journals generated."
	if res.Processed == 0 {
		msg = "All journals are up to date."
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "result": res})
}

func (h *JournalHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	limit, offset, err := page(c, "JournalHandler.List", 20, 100)
	if err != nil {
		writeError(c, err)
		return
	}

	rows, err := h.svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *JournalHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	j, err := h.svc.Get(c.Request.Context(), userID, c.Param("journal_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

type journalEditReq struct {
	Content *string `json:"content"`
	Mood    *string `json:"mood"`
}

func (h *JournalHandler) Update(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req journalEditReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "JournalHandler.Update", "invalid json body", err))
		return
	}

	j, err := h.svc.Update(c.Request.Context(), userID, c.Param("journal_id"), req.Content, req.Mood)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (h *JournalHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), userID, c.Param("journal_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Journal entry deleted successfully"})
}
