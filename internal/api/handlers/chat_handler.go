package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/services"
	"github.com/mindpal/backend/internal/utils"
)

const maxVoiceBytes = 10 << 20

type ChatHandler struct {
	svc services.ChatService
}

func NewChatHandler(svc services.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

func (h *ChatHandler) Start(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conv, err := h.svc.Start(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ChatHandler) Conversations(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	limit, offset, err := page(c, "ChatHandler.Conversations", 20, 100)
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

func (h *ChatHandler) History(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	convID := c.Param("conversation_id")

	msgs, err := h.svc.History(c.Request.Context(), userID, convID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cid": convID, "items": msgs})
}

type messageReq struct {
	Content string `json:"content"`
}

// Message streams the reply as server-sent events: one "message" event per
// chunk, then "error" if the stream broke, then "done".
func (h *ChatHandler) Message(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req messageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Message", "invalid json body", err))
		return
	}

	chunks, errs, err := h.svc.SubmitTurn(c.Request.Context(), userID, c.Param("conversation_id"), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	streamReply(c, chunks, errs)
}

// Voice transcribes a multipart "audio" file and streams the reply like
// Message, preceded by a "transcript" event.
func (h *ChatHandler) Voice(c *gin.Context) {
	const op = "ChatHandler.Voice"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("audio")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing multipart field 'audio'", err))
		return
	}
	if fh.Size <= 0 || fh.Size > maxVoiceBytes {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "audio too large (max 10MB)", nil))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to open upload", err))
		return
	}
	defer f.Close()

	audio, err := io.ReadAll(io.LimitReader(f, maxVoiceBytes))
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "failed to read audio", err))
		return
	}

	text, chunks, errs, err := h.svc.SubmitVoiceTurn(c.Request.Context(), userID, c.Param("conversation_id"), audio, c.PostForm("language"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.SSEvent("transcript", gin.H{"text": text})
	streamReply(c, chunks, errs)
}

func (h *ChatHandler) End(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	if err := h.svc.End(c.Request.Context(), userID, c.Param("conversation_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation ended"})
}

func (h *ChatHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), userID, c.Param("conversation_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat session deleted successfully"})
}

func (h *ChatHandler) Turns(c *gin.Context) {
	const op = "ChatHandler.Turns"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	limit := int64(50)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "limit must be a positive integer", err))
			return
		}
		limit = n
	}

	rows, err := h.svc.Turns(c.Request.Context(), userID, c.Param("conversation_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// streamReply drains chunks into the response. If the client goes away
// c.Stream returns early; the service keeps draining and still stores the
// partial reply.
func streamReply(c *gin.Context, chunks <-chan string, errs <-chan error) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	var full strings.Builder
	c.Stream(func(io.Writer) bool {
		chunk, ok := <-chunks
		if ok {
			full.WriteString(chunk)
			c.SSEvent("message", chunk)
			return true
		}
		if err := <-errs; err != nil {
			_, body := apiErrorOf(err)
			c.SSEvent("error", body)
		}
		c.SSEvent("done", gin.H{"full_response": full.String()})
		return false
	})
}
