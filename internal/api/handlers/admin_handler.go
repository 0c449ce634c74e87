package handlers

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/rag"
	"github.com/mindpal/backend/internal/services"
	"github.com/mindpal/backend/internal/utils"
)

const maxDocumentBytes = 20 << 20

// IndexAdmin is the part of rag.Manager the admin API drives.
type IndexAdmin interface {
	Stats(ctx context.Context) rag.Stats
	Reload(ctx context.Context) error
}

type AdminHandler struct {
	index  IndexAdmin // nil when retrieval is disabled
	corpus services.CorpusService
}

func NewAdminHandler(index IndexAdmin, corpus services.CorpusService) *AdminHandler {
	return &AdminHandler{index: index, corpus: corpus}
}

func (h *AdminHandler) IndexStats(c *gin.Context) {
	if h.index == nil {
		c.JSON(http.StatusOK, rag.Stats{Backend: "disabled"})
		return
	}
	c.JSON(http.StatusOK, h.index.Stats(c.Request.Context()))
}

func (h *AdminHandler) RebuildIndex(c *gin.Context) {
	const op = "AdminHandler.RebuildIndex"

	if h.index == nil {
		writeError(c, utils.E(utils.CodeFailedPrecondition, op, "retrieval is disabled", nil))
		return
	}
	if err := h.index.Reload(c.Request.Context()); err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "index rebuild failed", err))
		return
	}
	c.JSON(http.StatusOK, h.index.Stats(c.Request.Context()))
}

// sniffed content types accepted per extension
var documentTypes = map[string]string{
	".pdf": "application/pdf",
	".txt": "text/plain",
	".md":  "text/plain",
}

func (h *AdminHandler) UploadDocument(c *gin.Context) {
	const op = "AdminHandler.UploadDocument"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing multipart field 'file'", err))
		return
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	want, known := documentTypes[ext]
	if !known {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "only .pdf, .txt and .md are allowed", nil))
		return
	}
	if fh.Size <= 0 || fh.Size > maxDocumentBytes {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "file too large (max 20MB)", nil))
		return
	}

	file, err := fh.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to open upload", err))
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	head = head[:n]
	ct, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	if ct != want {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "file content does not match its extension", nil))
		return
	}
	if ext == ".md" {
		ct = "text/markdown"
	}

	r := &readJoin{a: bytes.NewReader(head), b: file}
	row, err := h.corpus.Upload(c.Request.Context(), userID, fh.Filename, int(fh.Size), ct, r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (h *AdminHandler) Documents(c *gin.Context) {
	limit, _, err := page(c, "AdminHandler.Documents", 50, 500)
	if err != nil {
		writeError(c, err)
		return
	}
	rows, err := h.corpus.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// readJoin replays the sniffed header before the rest of the upload.
type readJoin struct {
	a *bytes.Reader
	b io.Reader
}

func (r *readJoin) Read(p []byte) (int, error) {
	if r.a != nil && r.a.Len() > 0 {
		return r.a.Read(p)
	}
	return r.b.Read(p)
}
