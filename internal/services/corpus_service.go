package services

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/rag"
	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/storage"
	"github.com/mindpal/backend/internal/utils"
)

// CorpusService manages the documents the retrieval index is built from.
// New uploads are picked up by the next index rebuild.
type CorpusService interface {
	Upload(ctx context.Context, userID, fileName string, fileSize int, mimeType string, r io.Reader) (*models.CorpusDocument, error)
	List(ctx context.Context, limit int) ([]models.CorpusDocument, error)
}

type corpusService struct {
	repo     repositories.CorpusDocumentRepository
	uploader storage.Uploader
	prefix   string
}

func NewCorpusService(repo repositories.CorpusDocumentRepository, uploader storage.Uploader, prefix string) CorpusService {
	return &corpusService{repo: repo, uploader: uploader, prefix: prefix}
}

func (s *corpusService) Upload(ctx context.Context, userID, fileName string, fileSize int, mimeType string, r io.Reader) (*models.CorpusDocument, error) {
	const op = "CorpusService.Upload"

	fileName = path.Base(strings.TrimSpace(fileName))
	if userID == "" || fileName == "" || fileName == "." || fileName == "/" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and file name are required", nil)
	}
	if !rag.SupportedExtensions[strings.ToLower(path.Ext(fileName))] {
		return nil, utils.E(utils.CodeInvalidArgument, op, "only pdf, txt and md documents are supported", nil)
	}
	if s.uploader == nil {
		return nil, utils.E(utils.CodeFailedPrecondition, op, "corpus storage is not configured", nil)
	}

	id := uuid.NewString()
	objectName := s.prefix + id + "_" + fileName
	storedPath, err := s.uploader.Upload(ctx, objectName, mimeType, r)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to upload file", err)
	}

	row := &models.CorpusDocument{
		ID:         id,
		UploadedBy: userID,
		FileName:   fileName,
		FilePath:   storedPath,
		FileSize:   fileSize,
		MimeType:   mimeType,
		UploadAt:   time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, row); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist document metadata", err)
	}
	return row, nil
}

func (s *corpusService) List(ctx context.Context, limit int) ([]models.CorpusDocument, error) {
	const op = "CorpusService.List"

	limit, _ = repositories.Page(limit, 0)
	out, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list documents", err)
	}
	return out, nil
}
